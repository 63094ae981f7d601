package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/turn"
)

const assemblyAIStreamURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAI is a streaming recognizer. Each Open dials a new session; audio pushed with
// Feed goes to whichever session is active and is dropped when none is.
type AssemblyAI struct {
	apiKey string
	// URL is the streaming endpoint without query parameters.
	URL    string
	Dialer *websocket.Dialer

	mu     sync.Mutex
	active *assemblyStream
}

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type          string `json:"type"`
	TurnOrder     int    `json:"turn_order"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{
		apiKey: apiKey,
		URL:    assemblyAIStreamURL,
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Open implements turn.Recognizer.
func (a *AssemblyAI) Open(ctx context.Context, h turn.Handler) (turn.Capture, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("assemblyai api key missing: %w", turn.ErrUnavailable)
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := a.URL + "?" + params.Encode()
	headers := http.Header{"Authorization": {a.apiKey}}

	conn, resp, err := a.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		kind := turn.KindNetwork
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			kind = turn.KindNotAllowed
		}
		return nil, &turn.CaptureError{Kind: kind, Err: fmt.Errorf("connect to assemblyai: %w", err)}
	}

	s := &assemblyStream{
		owner:  a,
		conn:   conn,
		h:      h,
		audio:  make(chan []byte, 256),
		stopCh: make(chan struct{}),
	}
	a.mu.Lock()
	prev := a.active
	a.active = s
	a.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

// Feed forwards 16kHz mono PCM16LE to the active session.
func (a *AssemblyAI) Feed(pcm []byte) {
	a.mu.Lock()
	s := a.active
	a.mu.Unlock()
	if s == nil {
		return
	}
	select {
	case <-s.stopCh:
	case s.audio <- pcm:
	default:
		log.Debug().Int("bytes", len(pcm)).Msg("assemblyai audio buffer full, dropping packet")
	}
}

type assemblyStream struct {
	owner *AssemblyAI
	conn  *websocket.Conn
	h     turn.Handler
	audio chan []byte

	writeMu  sync.Mutex
	stopOnce sync.Once
	endOnce  sync.Once
	stopCh   chan struct{}

	// pending holds an end-of-turn transcript that trails off on a continuation word;
	// it is carried into the next turn instead of being committed.
	pending string
}

// Stop ends the session without reporting OnEnd.
func (s *assemblyStream) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.writeMu.Lock()
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		s.writeMu.Unlock()
		_ = s.conn.Close()
		s.owner.mu.Lock()
		if s.owner.active == s {
			s.owner.active = nil
		}
		s.owner.mu.Unlock()
	})
}

func (s *assemblyStream) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *assemblyStream) end(err error) {
	if s.stopped() {
		return
	}
	s.endOnce.Do(func() {
		if s.pending != "" {
			s.h.OnResult(turn.Result{Finals: []string{s.pending}})
			s.pending = ""
		}
		s.Stop()
		s.h.OnEnd(err)
	})
}

func (s *assemblyStream) readLoop() {
	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !s.stopped() {
				log.Debug().Err(err).Msg("assemblyai read failed")
			}
			s.end(&turn.CaptureError{Kind: turn.KindNetwork, Err: err})
			return
		}
		if done := s.processMessage(message); done {
			return
		}
	}
}

// processMessage handles one server message and reports whether the session is over.
func (s *assemblyStream) processMessage(message []byte) bool {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		log.Warn().Err(err).Msg("assemblyai: bad message")
		return false
	}
	switch base.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Debug().Str("session_id", msg.ID).Time("expires_at", time.Unix(msg.ExpiresAt, 0)).Msg("assemblyai session began")
		}
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn().Err(err).Msg("assemblyai: bad turn message")
			return false
		}
		if s.stopped() {
			return true
		}
		s.h.OnResult(s.turnResult(msg))
	case "Termination":
		var msg TerminationMessage
		_ = json.Unmarshal(message, &msg)
		log.Debug().Float64("audio_seconds", msg.AudioDurationSeconds).Msg("assemblyai session terminated")
		s.end(nil)
		return true
	case "Error":
		var msg ErrorMessage
		_ = json.Unmarshal(message, &msg)
		s.end(&turn.CaptureError{Kind: turn.KindNetwork, Err: errors.New(msg.Error)})
		return true
	default:
		log.Debug().Str("type", base.Type).Msg("assemblyai: unknown message type")
	}
	return false
}

func (s *assemblyStream) turnResult(msg TurnMessage) turn.Result {
	text := joinText(s.pending, msg.Transcript)
	if !msg.EndOfTurn {
		return turn.Result{Interim: text}
	}
	if isContinuationLikely(text) {
		s.pending = text
		return turn.Result{Interim: text}
	}
	s.pending = ""
	if strings.TrimSpace(text) == "" {
		return turn.Result{}
	}
	return turn.Result{Finals: []string{text}}
}

func (s *assemblyStream) writeLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		case pcm := <-s.audio:
			s.writeMu.Lock()
			err := s.conn.WriteMessage(websocket.BinaryMessage, pcm)
			s.writeMu.Unlock()
			if err != nil {
				// closing unblocks readLoop, which reports the end
				_ = s.conn.Close()
				return
			}
		}
	}
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

// isContinuationLikely returns true if the last meaningful word indicates the
// speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// Coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// Subordinating conjunctions / conditionals
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// Discourse markers / fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// Prepositions that are awkward sentence endings
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
