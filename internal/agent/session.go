package agent

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/turn"
)

// Event types pushed to a voice client.
const (
	EventState            = "state"
	EventTranscript       = "transcript"
	EventUser             = "user"
	EventReply            = "reply"
	EventVoiceUnavailable = "voice-unavailable"
	EventError            = "error"
)

// Event is one message for the client of a VoiceSession.
type Event struct {
	Type     string `json:"type"`
	State    string `json:"state,omitempty"`
	Text     string `json:"text,omitempty"`
	Interim  string `json:"interim,omitempty"`
	Reply    *Reply `json:"reply,omitempty"`
	Error    string `json:"error,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// VoiceSession orchestrates capture -> conversation -> speech -> re-arm for one client.
type VoiceSession struct {
	conv   *Conversation
	engine *turn.Engine
	emit   func(Event)

	mu        sync.Mutex
	voiceMode bool
	closed    bool
	done      chan struct{}
}

// NewVoiceSession wires a Turn Engine around conv. rec or player may be nil, in which
// case voice input or spoken replies are unavailable.
func NewVoiceSession(conv *Conversation, cfg turn.Config, rec turn.Recognizer, player turn.Player, emit func(Event), opts ...turn.Option) *VoiceSession {
	if emit == nil {
		emit = func(Event) {}
	}
	s := &VoiceSession{conv: conv, emit: emit, done: make(chan struct{})}
	s.engine = turn.New(cfg, rec, player, turn.Events{
		OnState: func(st turn.State) {
			s.emit(Event{Type: EventState, State: st.String()})
		},
		OnTranscript: func(acc, interim string) {
			s.emit(Event{Type: EventTranscript, Text: acc, Interim: interim})
		},
		OnUnavailable: s.onUnavailable,
	}, opts...)
	return s
}

func (s *VoiceSession) Conversation() *Conversation { return s.conv }

func (s *VoiceSession) Engine() *turn.Engine { return s.engine }

func (s *VoiceSession) VoiceMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voiceMode
}

// Run hands each finalized utterance to the conversation until ctx ends or the session closes.
func (s *VoiceSession) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case u := <-s.engine.Utterances():
			// The engine is idle after finalizing; a turn that got no reply still
			// has to reopen the mic.
			if err := s.handle(ctx, u); err != nil && !errors.Is(err, ErrSessionExpired) {
				s.rearm()
			}
		}
	}
}

// StartListening turns voice mode on. Speech in progress is cut off.
func (s *VoiceSession) StartListening() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.voiceMode = true
	s.mu.Unlock()
	s.engine.Start()
}

// StopListening turns voice mode off and drops any unsent transcript.
func (s *VoiceSession) StopListening() {
	s.mu.Lock()
	s.voiceMode = false
	s.mu.Unlock()
	s.engine.Stop()
}

// Finalize sends what has been heard so far without waiting for silence.
func (s *VoiceSession) Finalize() bool { return s.engine.Finalize() }

// BargeIn interrupts assistant speech. In voice mode listening resumes at once.
func (s *VoiceSession) BargeIn() {
	if s.VoiceMode() && s.engine.Available() {
		s.engine.Start()
		return
	}
	if s.engine.State() == turn.Speaking {
		s.engine.Stop()
	}
}

// SendText runs a typed question through the same path as a spoken one.
func (s *VoiceSession) SendText(ctx context.Context, text string) error {
	return s.handle(ctx, text)
}

// Close stops capture and playback. It is safe to call more than once.
func (s *VoiceSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.voiceMode = false
	close(s.done)
	s.mu.Unlock()
	s.engine.Stop()
}

func (s *VoiceSession) handle(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyUtterance
	}
	s.emit(Event{Type: EventUser, Text: text})

	reply, err := s.conv.Send(ctx, text)
	switch {
	case errors.Is(err, ErrSessionExpired):
		s.emit(Event{Type: EventError, Error: err.Error(), Redirect: "/login"})
		s.Close()
		return err
	case err != nil:
		s.emit(Event{Type: EventError, Error: err.Error()})
		return err
	}

	s.emit(Event{Type: EventReply, Reply: &reply})
	s.engine.Speak(ctx, reply.Spoken(), s.rearm)
	return nil
}

func (s *VoiceSession) rearm() {
	s.mu.Lock()
	on := s.voiceMode && !s.closed
	s.mu.Unlock()
	if on {
		s.engine.Start()
	}
}

func (s *VoiceSession) onUnavailable(err error) {
	s.mu.Lock()
	s.voiceMode = false
	s.mu.Unlock()
	log.Warn().Err(err).Str("conversation", s.conv.ID).Msg("voice input unavailable")
	msg := "voice input unavailable"
	if err != nil {
		msg = err.Error()
	}
	s.emit(Event{Type: EventVoiceUnavailable, Error: msg})
}
