package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingKey is sent on the error channel when a backend has no credentials.
var ErrMissingKey = errors.New("tts: api key missing")

// outSampleRate matches the WebRTC Opus track.
const outSampleRate = 48000

// Voice carries the prosody settings read from configuration. Backends that cannot
// honour a field ignore it.
type Voice struct {
	Rate  float64
	Pitch float64
}

// DefaultVoice is slightly faster than normal speech.
var DefaultVoice = Voice{Rate: 1.1, Pitch: 1.0}

// Streamer synthesizes text into 48kHz mono PCM16LE. The PCM channel closes when
// synthesis ends; the error channel carries at most one error and then closes.
type Streamer interface {
	StreamPCM48k(ctx context.Context, text string, v Voice) (<-chan []byte, <-chan error)
}

// Config selects a backend.
type Config struct {
	Provider          string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string
}

// New returns the configured streamer. An empty provider means no speech output.
func New(cfg Config) (Streamer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "deepgram":
		return NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModel), nil
	case "elevenlabs":
		return NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
	}
}
