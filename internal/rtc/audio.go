package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

const (
	outSampleRate   = 48000
	outFrameSamples = 960 // 20ms at 48kHz
	frameDuration   = 20 * time.Millisecond
	tailFrames      = 10
)

// sampleWriter is the outbound half of a WebRTC track.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// OpusPacedWriter encodes 48kHz mono PCM to Opus and writes one frame per 20ms to a track.
// It is the tts.Sink of a call.
type OpusPacedWriter struct {
	enc          *opus.Encoder
	track        sampleWriter
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	// epoch changes on Reset; frames encoded before a reset are not queued.
	epoch atomic.Uint64
	// inflight counts frames taken off the queue but not yet written.
	inflight atomic.Int32

	mu      sync.Mutex
	pcmBuf  []int16
	stopped bool
}

func NewOpusPacedWriter(track sampleWriter) (*OpusPacedWriter, error) {
	enc, err := opus.NewEncoder(outSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(enc, track)
	go w.pacer()
	return w, nil
}

func newPacedWriter(enc *opus.Encoder, track sampleWriter) *OpusPacedWriter {
	return &OpusPacedWriter{
		enc:          enc,
		track:        track,
		frameSamples: outFrameSamples,
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
}

// WritePCM buffers PCM16LE and queues every complete frame.
func (w *OpusPacedWriter) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	w.mu.Lock()
	epoch := w.epoch.Load()
	need := len(pcmBytes) / 2
	for i := 0; i < need; i++ {
		w.pcmBuf = append(w.pcmBuf, int16(uint16(pcmBytes[2*i])|uint16(pcmBytes[2*i+1])<<8))
	}
	var pkts [][]byte
	for len(w.pcmBuf) >= w.frameSamples {
		if pkt := w.encodeLocked(w.pcmBuf[:w.frameSamples]); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = append(w.pcmBuf[:0], w.pcmBuf[w.frameSamples:]...)
	}
	w.mu.Unlock()
	w.pushFrames(epoch, pkts)
}

// FlushTail pads the remaining PCM to a full frame and adds ~200ms of silence to avoid clipping.
func (w *OpusPacedWriter) FlushTail() {
	w.mu.Lock()
	epoch := w.epoch.Load()
	var pkts [][]byte
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, w.frameSamples)
		copy(pad, w.pcmBuf)
		if pkt := w.encodeLocked(pad); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = w.pcmBuf[:0]
	}
	silence := make([]int16, w.frameSamples)
	for i := 0; i < tailFrames; i++ {
		if pkt := w.encodeLocked(silence); pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	w.mu.Unlock()
	w.pushFrames(epoch, pkts)
}

func (w *OpusPacedWriter) encodeLocked(frame []int16) []byte {
	if w.enc == nil {
		return nil
	}
	buf := make([]byte, 4000)
	n, err := w.enc.Encode(frame, buf)
	if err != nil || n <= 0 {
		return nil
	}
	return buf[:n]
}

// Drain waits until every queued frame has been written.
func (w *OpusPacedWriter) Drain(ctx context.Context) error {
	t := time.NewTicker(frameDuration / 2)
	defer t.Stop()
	for {
		if len(w.frames) == 0 && w.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-t.C:
		}
	}
}

// Reset clears queued audio so barge-in is immediate.
func (w *OpusPacedWriter) Reset() {
	w.mu.Lock()
	w.epoch.Add(1)
	w.pcmBuf = w.pcmBuf[:0]
	w.mu.Unlock()
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Close stops the pacer.
func (w *OpusPacedWriter) Close() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
	w.mu.Unlock()
}

func (w *OpusPacedWriter) pacer() {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				w.inflight.Add(1)
				_ = w.track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
				w.inflight.Add(-1)
			default:
			}
		}
	}
}

// pushFrames enqueues frames, blocking for space, until stopped or reset.
func (w *OpusPacedWriter) pushFrames(epoch uint64, pkts [][]byte) {
	for _, pkt := range pkts {
		if w.epoch.Load() != epoch {
			return
		}
		select {
		case <-w.stopCh:
			return
		case w.frames <- pkt:
		}
	}
}
