package rtc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
)

// Commands accepted on the "control" data channel.
const (
	cmdStart   = "start"
	cmdStop    = "stop"
	cmdSend    = "send"
	cmdText    = "text"
	cmdBargeIn = "barge-in"
)

type controlMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// controller is the part of a voice session the control channel drives.
type controller interface {
	StartListening()
	StopListening()
	Finalize() bool
	BargeIn()
	SendText(ctx context.Context, text string) error
}

// parseControl accepts a JSON command or a bare command word.
func parseControl(data []byte) (controlMessage, bool) {
	var m controlMessage
	if err := json.Unmarshal(data, &m); err != nil {
		m = controlMessage{Type: string(data)}
	}
	m.Type = strings.ToLower(strings.TrimSpace(m.Type))
	switch m.Type {
	case "stop-speaking", "cancel":
		m.Type = cmdBargeIn
	}
	switch m.Type {
	case cmdStart, cmdStop, cmdSend, cmdText, cmdBargeIn:
		return m, true
	}
	return m, false
}

// dispatchControl applies one command. Typed questions run in the background so the
// channel keeps accepting barge-in while the model answers.
func dispatchControl(ctx context.Context, callID string, c controller, data []byte) {
	m, ok := parseControl(data)
	if !ok {
		log.Debug().Str("call_id", callID).Str("type", m.Type).Msg("ignoring unknown control message")
		return
	}
	switch m.Type {
	case cmdStart:
		c.StartListening()
	case cmdStop:
		c.StopListening()
	case cmdSend:
		c.Finalize()
	case cmdBargeIn:
		c.BargeIn()
	case cmdText:
		go func() {
			if err := c.SendText(ctx, m.Text); err != nil {
				log.Debug().Err(err).Str("call_id", callID).Msg("typed question not sent")
			}
		}()
	}
}

// textSender is the outbound half of a data channel.
type textSender interface {
	SendText(s string) error
}

func sendEvent(callID string, ch textSender, ev agent.Event) {
	if ch == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("call_id", callID).Msg("marshal control event")
		return
	}
	if err := ch.SendText(string(b)); err != nil {
		log.Debug().Err(err).Str("call_id", callID).Str("type", ev.Type).Msg("control event not delivered")
	}
}
