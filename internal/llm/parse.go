package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/chadiek/store-assistant/internal/grounding"
)

// ErrNoJSON is returned when the model text contains no JSON object at all.
var ErrNoJSON = errors.New("no json object in model output")

// outputSchema is the shape the prompt asks for. A document that fails it is still
// coerced field by field; the schema only decides whether that counts as a repair.
const outputSchema = `{
  "type": "object",
  "required": ["response_text", "recommended_skus", "product_reasons"],
  "properties": {
    "response_text": {"type": "string", "minLength": 1},
    "recommended_skus": {"type": "array", "items": {"type": "string"}},
    "product_reasons": {"type": ["object", "string"], "additionalProperties": {"type": "string"}},
    "followup_question": {"type": ["string", "null"]},
    "suggested_questions": {"type": "array", "items": {"type": "string"}}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(outputSchema)

// Parse pulls the first well-formed JSON object out of raw model text and coerces it into
// an Output. repaired reports whether the object deviated from the expected shape.
func Parse(raw string) (out grounding.Output, repaired bool, err error) {
	obj, ok := ExtractJSON(raw)
	if !ok {
		return grounding.Output{}, false, ErrNoJSON
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return grounding.Output{}, false, fmt.Errorf("decode model output: %w", err)
	}
	res, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(obj))
	if err != nil {
		return grounding.Output{}, false, fmt.Errorf("check model output: %w", err)
	}
	return coerce(doc), !res.Valid(), nil
}

// ExtractJSON returns the first balanced {...} substring that is valid JSON. Braces inside
// string literals are ignored, so prose or code fences around the object do not matter.
func ExtractJSON(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > 0 {
			candidate := s[start : end+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func coerce(doc map[string]any) grounding.Output {
	out := grounding.Output{
		ResponseText:    grounding.DefaultResponseText,
		RecommendedSKUs: []string{},
		ProductReasons:  map[string]string{},
	}
	if s, ok := doc["response_text"].(string); ok && strings.TrimSpace(s) != "" {
		out.ResponseText = strings.TrimSpace(s)
	}
	out.RecommendedSKUs = append(out.RecommendedSKUs, stringList(doc["recommended_skus"])...)
	reasons, _ := doc["product_reasons"].(map[string]any)
	// Gemini's response schema has no free-form maps, so it sends the object encoded as a string.
	if s, ok := doc["product_reasons"].(string); ok {
		_ = json.Unmarshal([]byte(s), &reasons)
	}
	if reasons != nil {
		for k, v := range reasons {
			if s, ok := v.(string); ok {
				out.ProductReasons[k] = s
			}
		}
	}
	if s, ok := doc["followup_question"].(string); ok && strings.TrimSpace(s) != "" {
		q := strings.TrimSpace(s)
		out.FollowupQuestion = &q
	}
	out.SuggestedQuestions = stringList(doc["suggested_questions"])
	return out
}

func stringList(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, e := range arr {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}
