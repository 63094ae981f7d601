package transcript

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/turn"
)

type recordingHandler struct {
	mu      sync.Mutex
	results []turn.Result
	ended   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{ended: make(chan error, 1)}
}

func (h *recordingHandler) OnResult(r turn.Result) {
	h.mu.Lock()
	h.results = append(h.results, r)
	h.mu.Unlock()
}

func (h *recordingHandler) OnEnd(err error) { h.ended <- err }

func (h *recordingHandler) snapshot() []turn.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]turn.Result(nil), h.results...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHelpers_LastWordAndContinuation(t *testing.T) {
	if lastWord("") != "" {
		t.Fatalf("lastWord empty mismatch")
	}
	if lastWord("hi there!") != "there" {
		t.Fatalf("lastWord basic mismatch")
	}
	if !isContinuationLikely("we should and") {
		t.Fatalf("expected continuation likely when last word is 'and'")
	}
	if isContinuationLikely("complete sentence.") {
		t.Fatalf("did not expect continuation likely")
	}
}

func TestAssemblyAI_MissingKeyIsUnavailable(t *testing.T) {
	_, err := NewAssemblyAI("").Open(context.Background(), newRecordingHandler())
	assert.ErrorIs(t, err, turn.ErrUnavailable)
}

func TestAssemblyAI_UnauthorizedIsNotAllowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAssemblyAI("bad-key")
	a.URL = wsURL(srv)
	_, err := a.Open(context.Background(), newRecordingHandler())
	var ce *turn.CaptureError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, turn.KindNotAllowed, ce.Kind)
	assert.False(t, turn.Recoverable(err))
}

func TestAssemblyAI_StreamsTurns(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAudio := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("Authorization"))
		assert.Equal(t, "16000", r.URL.Query().Get("sample_rate"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, pcm, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gotAudio <- pcm
		for _, m := range []string{
			`{"type":"Begin","id":"s1","expires_at":1700000000}`,
			`{"type":"Turn","turn_order":0,"transcript":"I need a","end_of_turn":false}`,
			`{"type":"Turn","turn_order":0,"transcript":"I need a hook for","end_of_turn":true}`,
			`{"type":"Turn","turn_order":1,"transcript":"a mirror","end_of_turn":true}`,
			`{"type":"Turn","turn_order":2,"transcript":"and","end_of_turn":true}`,
			`{"type":"Termination","audio_duration_seconds":2.5}`,
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	a := NewAssemblyAI("key")
	a.URL = wsURL(srv)
	h := newRecordingHandler()
	_, err := a.Open(context.Background(), h)
	require.NoError(t, err)
	a.Feed([]byte{1, 2, 3, 4})

	select {
	case pcm := <-gotAudio:
		assert.Equal(t, []byte{1, 2, 3, 4}, pcm)
	case <-time.After(2 * time.Second):
		t.Fatal("audio not forwarded")
	}
	select {
	case err := <-h.ended:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}

	assert.Equal(t, []turn.Result{
		{Interim: "I need a"},
		{Interim: "I need a hook for"},
		{Finals: []string{"I need a hook for a mirror"}},
		{Interim: "and"},
		{Finals: []string{"and"}},
	}, h.snapshot())

	// the session is gone, so audio is dropped rather than queued
	a.Feed([]byte{9})
}

func TestAssemblyAI_StopSuppressesEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	a := NewAssemblyAI("key")
	a.URL = wsURL(srv)
	h := newRecordingHandler()
	c, err := a.Open(context.Background(), h)
	require.NoError(t, err)
	c.Stop()

	select {
	case err := <-h.ended:
		t.Fatalf("OnEnd after Stop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}
