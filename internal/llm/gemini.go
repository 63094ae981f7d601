package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/chadiek/store-assistant/internal/grounding"
)

// GeminiClient generates answers with the Gemini API. A client built without a key
// reports an error on every call so the caller falls back instead of failing startup.
type GeminiClient struct {
	client *genai.Client
	model  string
}

func newGemini(ctx context.Context, cfg Config) (Backend, error) {
	g := &GeminiClient{model: cfg.GeminiModel}
	if g.model == "" {
		g.model = "gemini-2.0-flash"
	}
	if strings.TrimSpace(cfg.GeminiKey) == "" {
		return g, nil
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.GeminiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Complete(ctx context.Context, p Prompt) (string, error) {
	if g.client == nil {
		return "", errors.New("gemini api key missing")
	}
	contents := make([]*genai.Content, 0, len(p.History)+1)
	for _, t := range p.History {
		role := genai.Role(genai.RoleUser)
		if t.Role == grounding.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(p.User, genai.RoleUser))

	temp := float32(0.7)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   2048,
		ResponseMIMEType:  "application/json",
		ResponseSchema:    answerSchema(),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty response")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func answerSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"response_text": {
				Type:        genai.TypeString,
				Description: "Spoken answer naming each product's aisle and bin",
			},
			"recommended_skus": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"product_reasons": {
				Type:        genai.TypeString,
				Description: "JSON object mapping each recommended SKU to a short reason",
			},
			"followup_question": {
				Type:     genai.TypeString,
				Nullable: boolPtr(true),
			},
			"suggested_questions": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
		},
		Required:         []string{"response_text", "recommended_skus"},
		PropertyOrdering: []string{"response_text", "recommended_skus", "product_reasons", "followup_question", "suggested_questions"},
	}
}

func boolPtr(b bool) *bool { return &b }
