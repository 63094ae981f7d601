package rtc

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/tts"
	"github.com/chadiek/store-assistant/internal/turn"
)

type fakeSink struct {
	writes atomic.Int32
	resets atomic.Int32
	closed atomic.Bool
}

func (s *fakeSink) WritePCM([]byte)             { s.writes.Add(1) }
func (s *fakeSink) FlushTail()                  {}
func (s *fakeSink) Reset()                      { s.resets.Add(1) }
func (s *fakeSink) Drain(context.Context) error { return nil }
func (s *fakeSink) Close()                      { s.closed.Store(true) }

// endlessSpeech emits one chunk then holds the stream open until canceled.
type endlessSpeech struct{}

func (endlessSpeech) StreamPCM48k(ctx context.Context, _ string, _ tts.Voice) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 1)
	errc := make(chan error)
	pcm <- make([]byte, 1920)
	go func() {
		<-ctx.Done()
		close(pcm)
		close(errc)
	}()
	return pcm, errc
}

type fixedGenerator struct{ text string }

func (g fixedGenerator) Generate(context.Context, grounding.Context) grounding.Output {
	return grounding.Output{ResponseText: g.text}
}

type feedRecorder struct {
	mu   sync.Mutex
	fed  int
	open int
}

type nopCapture struct{}

func (nopCapture) Stop() {}

func (r *feedRecorder) Open(context.Context, turn.Handler) (turn.Capture, error) {
	r.mu.Lock()
	r.open++
	r.mu.Unlock()
	return nopCapture{}, nil
}

func (r *feedRecorder) Feed(pcm []byte) {
	r.mu.Lock()
	r.fed += len(pcm)
	r.mu.Unlock()
}

func (r *feedRecorder) bytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fed
}

func testDeps(speech tts.Streamer, rec Recognizer) Deps {
	d := Deps{
		NewConversation: func(id, storeID string) *agent.Conversation {
			a := grounding.NewAssembler(inventory.NewDemoMemory(), 0)
			return agent.NewConversation(id, storeID, a, fixedGenerator{text: "Anchors are in aisle B2."})
		},
		Speech: speech,
		Voice:  tts.DefaultVoice,
		Turn:   turn.DefaultConfig(),
	}
	if rec != nil {
		d.NewRecognizer = func() Recognizer { return rec }
	}
	return d
}

func loudSpeech(durMs int) []byte {
	n := micSampleRate * durMs / 1000
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*220*float64(i)/micSampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestCall_BargeInCutsPlayback(t *testing.T) {
	sink := &fakeSink{}
	c := newCall("call-1", inventory.DemoStoreID, testDeps(endlessSpeech{}, nil), sink)
	var mu sync.Mutex
	var events []agent.Event
	c.events = func(ev agent.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	defer c.close()

	require.NoError(t, c.session.SendText(context.Background(), "where are the drywall anchors"))
	require.Equal(t, turn.Speaking, c.session.Engine().State())

	c.feedMic(loudSpeech(400))

	require.Eventually(t, func() bool { return c.session.Engine().State() == turn.Idle }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sink.resets.Load() > 0 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var replies int
	for _, ev := range events {
		if ev.Type == agent.EventReply {
			replies++
			assert.Equal(t, "Anchors are in aisle B2.", ev.Reply.Response)
		}
	}
	assert.Equal(t, 1, replies)
}

func TestCall_MicReachesRecognizer(t *testing.T) {
	rec := &feedRecorder{}
	c := newCall("call-2", inventory.DemoStoreID, testDeps(nil, rec), &fakeSink{})
	c.events = func(agent.Event) {}

	c.feedMic(make([]byte, micChunkBytes))
	assert.Equal(t, micChunkBytes, rec.bytes())

	c.close()
	c.close()
	select {
	case <-c.done:
	default:
		t.Fatal("close should mark the call done")
	}
}

func TestPCMChunker(t *testing.T) {
	var chunks [][]byte
	p := pcmChunker{size: 8}
	p.push([]int16{1, 2, 3}, func(b []byte) { chunks = append(chunks, b) })
	assert.Empty(t, chunks)
	p.push([]int16{4, 5}, func(b []byte) { chunks = append(chunks, b) })
	require.Len(t, chunks, 1)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0, 4, 0}, chunks[0])
	assert.Len(t, p.buf, 2)
}
