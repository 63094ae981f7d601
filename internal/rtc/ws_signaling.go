package rtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

// signalMessage is the trickle-ICE signaling envelope.
// Types: "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
}

// wsConn serializes writes; pion fires candidate callbacks from its own goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(m signalMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(m)
}

func (w *wsConn) fail(err error) {
	_ = w.send(signalMessage{Type: "error", Error: err.Error()})
}

// ServeWebSocket runs offer/answer plus trickle ICE over a WebSocket for a call bound to
// storeID. The caller has already authenticated the request.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, storeID string) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade")
		return
	}
	defer func() { _ = raw.Close() }()
	conn := &wsConn{conn: raw}

	offerSDP, ok := readOffer(raw)
	if !ok {
		return
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		conn.fail(err)
		return
	}
	c, err := h.startCall(pc, outTrack, storeID)
	if err != nil {
		_ = pc.Close()
		conn.fail(err)
		return
	}
	defer c.close()

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			_ = conn.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := cand.ToJSON()
		_ = conn.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		conn.fail(err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.fail(err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		conn.fail(err)
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		conn.fail(errors.New("no local description"))
		return
	}
	if err := conn.send(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Warn().Err(err).Str("call_id", c.id).Msg("ws write answer")
		return
	}

	go func() {
		for {
			_, data, err := raw.ReadMessage()
			if err != nil {
				c.close()
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
					log.Debug().Err(err).Str("call_id", c.id).Msg("add remote candidate")
				}
			case "bye":
				c.close()
				return
			}
		}
	}()

	<-c.done
}

// readOffer skips anything before the offer. It reports false on bye or a closed socket.
func readOffer(conn *websocket.Conn) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("ws closed before offer")
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "bye":
			return "", false
		}
	}
}
