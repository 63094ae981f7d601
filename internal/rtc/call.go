package rtc

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/barge"
	"github.com/chadiek/store-assistant/internal/tts"
	"github.com/chadiek/store-assistant/internal/turn"
)

const (
	micSampleRate = 16000
	// micChunkBytes is 100ms of 16kHz PCM16LE.
	micChunkBytes = 3200
)

type audioSink interface {
	tts.Sink
	Close()
}

// call is one connected voice client.
type call struct {
	id      string
	deps    Deps
	sink    audioSink
	rec     Recognizer
	det     *barge.Detector
	session *agent.VoiceSession

	ctx    context.Context
	cancel context.CancelFunc

	control   atomic.Pointer[webrtc.DataChannel]
	events    func(agent.Event)
	closeOnce sync.Once
	closers   []func()
	done      chan struct{}
}

func newCall(id, storeID string, d Deps, sink audioSink) *call {
	ctx, cancel := context.WithCancel(context.Background())
	c := &call{id: id, deps: d, sink: sink, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	c.events = c.sendControl

	var rec turn.Recognizer
	if d.NewRecognizer != nil {
		if r := d.NewRecognizer(); r != nil {
			c.rec = r
			rec = r
		}
	}
	var player turn.Player
	if d.Speech != nil {
		player = tts.NewPlayer(d.Speech, sink, d.Voice)
	}
	c.det = barge.New(d.Barge, barge.Events{OnTrigger: c.onBarge})

	conv := d.NewConversation(id, storeID)
	c.session = agent.NewVoiceSession(conv, d.Turn, rec, player, c.emit, turn.WithMetrics(d.Metrics))
	go c.session.Run(ctx)
	d.Metrics.VoiceSessionStarted()
	return c
}

// bind hooks the peer connection's callbacks to the call.
func (c *call) bind(pc *webrtc.PeerConnection) {
	c.closers = append(c.closers, func() { _ = pc.Close() })

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("call_id", c.id).Str("state", state.String()).Msg("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			c.close()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Debug().Str("call_id", c.id).Str("state", state.String()).Msg("ice state")
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		c.control.Store(dc)
		dc.OnOpen(func() {
			snap := c.session.Engine().Snapshot()
			c.emit(agent.Event{Type: agent.EventState, State: snap.State.String()})
			if !snap.Available {
				c.emit(agent.Event{Type: agent.EventVoiceUnavailable, Error: "voice input unavailable"})
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			dispatchControl(c.ctx, c.id, c.session, msg.Data)
		})
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Info().Str("call_id", c.id).Str("codec", remote.Codec().MimeType).Msg("remote audio track received")
		dec, err := opus.NewDecoder(micSampleRate, 1)
		if err != nil {
			log.Error().Err(err).Str("call_id", c.id).Msg("opus decoder")
			return
		}
		go c.readMic(remote, dec)
	})
}

// emit routes session events: speaking state arms the barge-in detector and everything
// goes to the client.
func (c *call) emit(ev agent.Event) {
	if ev.Type == agent.EventState {
		c.det.SetSpeaking(ev.State == turn.Speaking.String())
	}
	c.events(ev)
}

func (c *call) sendControl(ev agent.Event) {
	if dc := c.control.Load(); dc != nil {
		sendEvent(c.id, dc, ev)
	}
}

// onBarge runs off the audio goroutine: restarting capture dials the recognizer.
func (c *call) onBarge(_ time.Time, preRoll []byte) {
	log.Debug().Str("call_id", c.id).Msg("barge-in detected")
	go func() {
		c.session.BargeIn()
		if c.rec != nil && len(preRoll) > 0 {
			c.rec.Feed(preRoll)
		}
	}()
}

// feedMic hands 16kHz PCM to the barge-in detector and the recognizer.
func (c *call) feedMic(pcm []byte) {
	c.det.Feed(pcm)
	if c.rec != nil {
		c.rec.Feed(pcm)
	}
}

func (c *call) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	samples := make([]int16, 1920)
	chunker := pcmChunker{size: micChunkBytes}
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("call_id", c.id).Msg("rtp read ended")
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, samples)
		if err != nil {
			log.Debug().Err(err).Str("call_id", c.id).Msg("opus decode")
			continue
		}
		chunker.push(samples[:n], c.feedMic)
	}
}

func (c *call) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.session.Close()
		c.sink.Close()
		for _, f := range c.closers {
			f()
		}
		c.deps.Metrics.VoiceSessionEnded()
		close(c.done)
		log.Info().Str("call_id", c.id).Int("turns", len(c.session.Conversation().History())).Msg("voice call ended")
	})
}

// pcmChunker regroups decoded samples into fixed-size PCM16LE chunks.
type pcmChunker struct {
	size int
	buf  []byte
}

func (p *pcmChunker) push(samples []int16, emit func([]byte)) {
	for _, s := range samples {
		p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(s))
	}
	for len(p.buf) >= p.size {
		chunk := make([]byte, p.size)
		copy(chunk, p.buf[:p.size])
		p.buf = append(p.buf[:0], p.buf[p.size:]...)
		emit(chunk)
	}
}
