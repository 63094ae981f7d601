package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/store-assistant/internal/grounding"
)

const cerebrasEndpoint = "https://api.cerebras.ai/v1/chat/completions"

// CerebrasClient talks to the OpenAI-compatible chat completions API.
type CerebrasClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
	Endpoint   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionsRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasClient(apiKey, model string) *CerebrasClient {
	return &CerebrasClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
		Endpoint:   cerebrasEndpoint,
	}
}

func newCerebras(_ context.Context, cfg Config) (Backend, error) {
	c := NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModel)
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	if cfg.BaseURL != "" {
		c.Endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/v1/chat/completions"
	}
	return c, nil
}

func (c *CerebrasClient) Name() string { return "cerebras" }

func (c *CerebrasClient) Complete(ctx context.Context, p Prompt) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("cerebras api key missing")
	}

	messages := make([]chatMessage, 0, len(p.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: p.System})
	for _, t := range p.History {
		role := "user"
		if t.Role == grounding.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: p.User})

	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model:          c.Model,
		Messages:       messages,
		Temperature:    0.7,
		MaxTokens:      2048,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}
