package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

var (
	ErrNotConfigured = errors.New("transcription is not configured")
	ErrInaudible     = errors.New("no speech detected in audio")
	ErrEmptyAudio    = errors.New("audio is empty")
)

const transcribePrompt = `Transcribe this audio exactly. Only output the transcription text, nothing else. If you cannot understand the audio, output "[inaudible]".`

// Result is a finished batch transcription.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"durationMs"`
	Language   string  `json:"language"`
}

// Transcriber turns a recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error)
}

// GeminiTranscriber sends recorded audio inline to a Gemini model.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

// NewGemini returns a transcriber; with an empty key every call fails with ErrNotConfigured.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*GeminiTranscriber, error) {
	t := &GeminiTranscriber{model: model}
	if t.model == "" {
		t.model = "gemini-2.0-flash"
	}
	if strings.TrimSpace(apiKey) == "" {
		return t, nil
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	t.client = client
	return t, nil
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	if t.client == nil {
		return Result{}, ErrNotConfigured
	}
	if len(audio) == 0 {
		return Result{}, ErrEmptyAudio
	}
	if mimeType == "" {
		mimeType = "audio/webm"
	}
	start := time.Now()
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(transcribePrompt),
		genai.NewPartFromBytes(audio, mimeType),
	}, genai.RoleUser)}

	temp := float32(0.1)
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		return Result{}, fmt.Errorf("gemini transcribe: %w", err)
	}
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" || strings.EqualFold(text, "[inaudible]") {
		return Result{}, ErrInaudible
	}
	return Result{
		Text:       text,
		Confidence: 0.9,
		DurationMs: time.Since(start).Milliseconds(),
		Language:   "en",
	}, nil
}
