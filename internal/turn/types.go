package turn

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State is the logical state of the engine.
type State int

const (
	Idle State = iota
	Listening
	Finalizing
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText lets State appear by name in JSON events.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Result is one capture event: zero or more finalized fragments and at most one interim.
type Result struct {
	Finals  []string
	Interim string
}

// Handler receives events from a capture session. OnEnd is called at most once; a nil
// error means the stream ended on its own.
type Handler interface {
	OnResult(Result)
	OnEnd(err error)
}

// Capture is a running capture session.
type Capture interface {
	Stop()
}

// Recognizer opens capture sessions. Open returns ErrUnavailable when the platform has
// no speech capture at all.
type Recognizer interface {
	Open(ctx context.Context, h Handler) (Capture, error)
}

// Player speaks text and returns when playback ends or ctx is canceled.
type Player interface {
	Play(ctx context.Context, text string) error
}

// ErrUnavailable marks missing speech capture capability.
var ErrUnavailable = errors.New("speech capture unavailable")

// ErrorKind classifies capture failures.
type ErrorKind string

const (
	KindNoSpeech          ErrorKind = "no-speech"
	KindAborted           ErrorKind = "aborted"
	KindNetwork           ErrorKind = "network"
	KindNotAllowed        ErrorKind = "not-allowed"
	KindServiceNotAllowed ErrorKind = "service-not-allowed"
	KindAudioCapture      ErrorKind = "audio-capture"
)

// CaptureError is a classified capture failure.
type CaptureError struct {
	Kind ErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "capture: " + string(e.Kind)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Recoverable reports whether a capture session that ended with err should be restarted.
// End of stream (nil) and transient kinds are recoverable; everything else is not.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	var ce *CaptureError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Kind {
	case KindNoSpeech, KindAborted, KindNetwork:
		return true
	}
	return false
}

// Events are optional callbacks, always invoked outside the engine lock.
type Events struct {
	OnState       func(State)
	OnTranscript  func(accumulated, interim string)
	OnUnavailable func(err error)
}

// Config holds the endpointing constants.
type Config struct {
	// SilenceThreshold is how long the speaker must stay quiet before the turn ends.
	SilenceThreshold time.Duration
	RestartBackoff   time.Duration
	PollInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 1500 * time.Millisecond,
		RestartBackoff:   500 * time.Millisecond,
		PollInterval:     500 * time.Millisecond,
	}
}

// DefaultBrowser matches the slower-paced web assistant.
func DefaultBrowser() Config {
	c := DefaultConfig()
	c.SilenceThreshold = 2000 * time.Millisecond
	return c
}

// DefaultKiosk matches the in-store kiosk, which favours snappier turns.
func DefaultKiosk() Config {
	c := DefaultConfig()
	c.SilenceThreshold = 1200 * time.Millisecond
	return c
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.RestartBackoff <= 0 {
		c.RestartBackoff = d.RestartBackoff
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Snapshot is a consistent view of the engine for display.
type Snapshot struct {
	State      State  `json:"state"`
	Transcript string `json:"transcript"`
	Interim    string `json:"interim"`
	Available  bool   `json:"available"`
}
