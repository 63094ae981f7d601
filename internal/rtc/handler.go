package rtc

import (
	"context"
	"errors"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/barge"
	"github.com/chadiek/store-assistant/internal/metrics"
	"github.com/chadiek/store-assistant/internal/tts"
	"github.com/chadiek/store-assistant/internal/turn"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Recognizer is a streaming speech recognizer fed with the caller's 16kHz PCM.
type Recognizer interface {
	turn.Recognizer
	Feed(pcm []byte)
}

// Deps are the collaborators every call is built from.
type Deps struct {
	NewConversation func(id, storeID string) *agent.Conversation
	// NewRecognizer returns nil when voice input is not configured.
	NewRecognizer func() Recognizer
	// Speech is nil when replies are text only.
	Speech     tts.Streamer
	Voice      tts.Voice
	Turn       turn.Config
	Barge      barge.Config
	ICEServers []string
	Metrics    *metrics.Metrics
}

// Handler manages WebRTC peer connections for voice calls.
type Handler struct {
	deps Deps
}

func NewHandler(d Deps) *Handler { return &Handler{deps: d} }

// HandleOffer accepts an SDP offer for a call bound to storeID and returns the answer once
// ICE gathering is complete.
func (h *Handler) HandleOffer(ctx context.Context, storeID string, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	c, err := h.startCall(pc, outTrack, storeID)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		c.close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		c.close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		c.close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		c.close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		c.close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// newPeer prepares a PeerConnection with default codecs and interceptors plus the agent's
// outbound audio track.
func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers(h.deps.ICEServers)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: outSampleRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func (h *Handler) startCall(pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample, storeID string) (*call, error) {
	paced, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		return nil, err
	}
	c := newCall(agent.NewID(), storeID, h.deps, paced)
	c.bind(pc)
	log.Info().Str("call_id", c.id).Str("store_id", storeID).Msg("voice call started")
	return c, nil
}
