package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/store-assistant/internal/grounding"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion = "2023-06-01"
)

// AnthropicClient calls the Messages API directly over HTTP.
type AnthropicClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	BaseURL    string
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func newAnthropic(_ context.Context, cfg Config) (Backend, error) {
	c := &AnthropicClient{
		HTTPClient: cfg.HTTPClient,
		APIKey:     strings.TrimSpace(cfg.AnthropicKey),
		Model:      strings.TrimSpace(cfg.AnthropicModel),
		BaseURL:    anthropicBaseURL,
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if b := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); b != "" {
		c.BaseURL = b
	}
	if c.Model == "" {
		return nil, errors.New("anthropic model name is required")
	}
	return c, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Complete(ctx context.Context, p Prompt) (string, error) {
	if c.APIKey == "" {
		return "", errors.New("anthropic api key missing")
	}
	body, err := json.Marshal(anthropicRequest{
		Model:       c.Model,
		System:      p.System,
		Messages:    anthropicMessages(p),
		MaxTokens:   2048,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", c.APIKey)
	req.Header.Set("Anthropic-Version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae anthropicError
		if json.Unmarshal(b, &ae) == nil && ae.Error.Message != "" {
			return "", fmt.Errorf("anthropic error: status=%d type=%s: %s", resp.StatusCode, ae.Error.Type, ae.Error.Message)
		}
		return "", fmt.Errorf("anthropic error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var ar anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, part := range ar.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: empty content")
	}
	return strings.TrimSpace(sb.String()), nil
}

// anthropicMessages enforces the API's alternation rules: the first message is from the
// user and consecutive turns with the same role are merged.
func anthropicMessages(p Prompt) []anthropicMessage {
	turns := append(append([]grounding.Turn(nil), p.History...), grounding.Turn{Role: grounding.RoleUser, Content: p.User})
	var out []anthropicMessage
	for _, t := range turns {
		role := "user"
		if t.Role == grounding.RoleAssistant {
			role = "assistant"
		}
		if len(out) == 0 && role != "user" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, anthropicContent{Type: "text", Text: t.Content})
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: []anthropicContent{{Type: "text", Text: t.Content}}})
	}
	return out
}
