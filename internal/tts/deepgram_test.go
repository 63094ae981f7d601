package tts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepgram_MissingKey(t *testing.T) {
	pcm, errCh := NewDeepgramClient("", "").StreamPCM48k(context.Background(), "hello", DefaultVoice)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrMissingKey)
	case <-time.After(time.Second):
		t.Fatal("no error for missing key")
	}
	_, open := <-pcm
	assert.False(t, open)
}

func TestDeepgram_EmptyText(t *testing.T) {
	pcm, errCh := NewDeepgramClient("key", "").StreamPCM48k(context.Background(), "", DefaultVoice)
	_, open := <-pcm
	assert.False(t, open)
	assert.NoError(t, <-errCh)
}

func TestSpeakSink_ForwardsUntilShutdown(t *testing.T) {
	pcm := make(chan []byte, 4)
	s := newSpeakSink(context.Background(), pcm)

	src := []byte{1, 2, 3}
	require.NoError(t, s.Binary(src))
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, <-pcm, "audio is copied")
	select {
	case <-s.activity:
	default:
		t.Fatal("activity not signalled")
	}

	require.NoError(t, s.Binary(nil))
	assert.Empty(t, pcm)

	require.NoError(t, s.Flush(nil))
	require.NoError(t, s.Flush(nil))
	select {
	case <-s.flushed:
	default:
		t.Fatal("flush not signalled")
	}

	s.shutdown()
	require.NoError(t, s.Binary([]byte{4}))
	_, open := <-pcm
	assert.False(t, open)
}

func TestSpeakSink_ShutdownUnblocksWriter(t *testing.T) {
	pcm := make(chan []byte)
	s := newSpeakSink(context.Background(), pcm)
	done := make(chan struct{})
	go func() {
		_ = s.Binary([]byte{1})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	s.shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Binary stayed blocked after shutdown")
	}
}
