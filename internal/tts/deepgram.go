package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const (
	// deepgramIdleGap ends a reply whose Flushed event never arrives.
	deepgramIdleGap = 400 * time.Millisecond
	deepgramMaxTime = 12 * time.Second
)

// DeepgramClient synthesizes through the Deepgram speak websocket. Aura voices have no
// rate or pitch controls, so Voice is ignored.
type DeepgramClient struct {
	apiKey  string
	model   string
	idleGap time.Duration
	maxTime time.Duration
}

func NewDeepgramClient(apiKey, model string) *DeepgramClient {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramClient{apiKey: apiKey, model: model, idleGap: deepgramIdleGap, maxTime: deepgramMaxTime}
}

func (d *DeepgramClient) StreamPCM48k(ctx context.Context, text string, _ Voice) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		cb := newSpeakSink(ctx, pcm)
		defer cb.shutdown()
		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram: %w", ErrMissingKey)
			return
		}
		if text == "" {
			return
		}
		if err := d.speak(ctx, text, cb); err != nil {
			errCh <- err
		}
	}()
	return pcm, errCh
}

// speak sends one reply and waits until Deepgram flushes it, the audio goes quiet or
// the reply runs past maxTime.
func (d *DeepgramClient) speak(ctx context.Context, text string, cb *speakSink) error {
	opts := &clientinterfaces.WSSpeakOptions{Model: d.model, Encoding: "linear16", SampleRate: outSampleRate}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, opts, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()
	if !dg.Connect() {
		return errors.New("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Warn().Err(err).Msg("deepgram flush failed")
	}

	deadline := time.NewTimer(d.maxTime)
	defer deadline.Stop()
	var idle *time.Timer
	var idleC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-cb.failed:
			return err
		case <-cb.flushed:
			return nil
		case <-cb.activity:
			if idle == nil {
				idle = time.NewTimer(d.idleGap)
				defer idle.Stop()
				idleC = idle.C
			} else {
				idle.Reset(d.idleGap)
			}
		case <-idleC:
			return nil
		case <-deadline.C:
			log.Warn().Str("model", d.model).Dur("max", d.maxTime).Msg("deepgram reply cut at max duration")
			return nil
		}
	}
}

// speakSink receives websocket callbacks and forwards audio until shutdown. Binary may
// still fire from the SDK's reader after the reply ends, so sends are guarded.
type speakSink struct {
	ctx      context.Context
	pcm      chan []byte
	activity chan struct{}
	flushed  chan struct{}
	failed   chan error
	stop     chan struct{}

	flushOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newSpeakSink(ctx context.Context, pcm chan []byte) *speakSink {
	return &speakSink{
		ctx:      ctx,
		pcm:      pcm,
		activity: make(chan struct{}, 1),
		flushed:  make(chan struct{}),
		failed:   make(chan error, 1),
		stop:     make(chan struct{}),
	}
}

// shutdown stops forwarding and closes the PCM channel.
func (s *speakSink) shutdown() {
	close(s.stop)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.pcm)
}

func (s *speakSink) Binary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	b := make([]byte, len(data))
	copy(b, data)
	select {
	case s.pcm <- b:
	case <-s.stop:
		return nil
	case <-s.ctx.Done():
		return nil
	}
	select {
	case s.activity <- struct{}{}:
	default:
	}
	return nil
}

func (s *speakSink) Flush(*msginterfaces.FlushedResponse) error {
	s.flushOnce.Do(func() { close(s.flushed) })
	return nil
}

func (s *speakSink) Error(e *msginterfaces.ErrorResponse) error {
	select {
	case s.failed <- fmt.Errorf("deepgram: %v", e):
	default:
	}
	return nil
}

func (s *speakSink) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakSink) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakSink) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakSink) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakSink) UnhandledEvent([]byte) error                    { return nil }

func (s *speakSink) Warning(w *msginterfaces.WarningResponse) error {
	log.Debug().Interface("warning", w).Msg("deepgram warning")
	return nil
}
