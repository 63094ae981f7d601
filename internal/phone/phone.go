// Package phone serves the assistant over a Twilio voice call using a speech <Gather> loop.
package phone

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/middleware"
)

const (
	greeting    = "Hi! I'm the store assistant. What are you looking for today?"
	reprompt    = "Sorry, I didn't catch that. What can I help you find?"
	holdOn      = "One moment, I'm still working on your last question."
	goodbye     = "I didn't hear anything, so I'll hang up now. Thanks for calling!"
	expiredLine = "Sorry, I can't reach the store's inventory right now. Please call back later."

	gatherPath = "/twilio/gather"
	// maxSilentAttempts is how many empty gathers in a row end the call.
	maxSilentAttempts = 3
	// replyTimeout keeps the answer inside Twilio's webhook deadline.
	replyTimeout = 12 * time.Second
)

// Handler answers Twilio webhooks. Every caller talks to the store in StoreID.
type Handler struct {
	Store    *agent.Store
	StoreID  string
	Language string
}

func NewHandler(store *agent.Store, storeID string) *Handler {
	return &Handler{Store: store, StoreID: storeID, Language: "en-US"}
}

// Register mounts the webhooks on g, which must already verify Twilio signatures.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/voice", h.Voice)
	g.POST("/gather", h.Gather)
	g.POST("/status", h.Status)
}

// Voice greets a new caller and starts listening.
func (h *Handler) Voice(c echo.Context) error {
	sid := param(c, "CallSid")
	h.Store.Get(sid)
	log.Info().Str("call_sid", sid).Str("from", param(c, "From")).Str("store_id", h.StoreID).Msg("incoming phone call")
	return h.respond(c, h.listen(greeting, 0)...)
}

// Gather receives one speech result, answers it and listens again.
func (h *Handler) Gather(c echo.Context) error {
	sid := param(c, "CallSid")
	speech := strings.TrimSpace(param(c, "SpeechResult"))
	if speech == "" {
		attempt, _ := strconv.Atoi(c.QueryParam("attempt"))
		attempt++
		if attempt >= maxSilentAttempts {
			h.Store.Forget(sid)
			return h.respond(c, &twiml.VoiceSay{Message: goodbye}, &twiml.VoiceHangup{})
		}
		return h.respond(c, h.listen(reprompt, attempt)...)
	}

	conv := h.Store.Get(sid)
	ctx, cancel := context.WithTimeout(c.Request().Context(), replyTimeout)
	defer cancel()
	reply, err := conv.Send(ctx, speech)
	switch {
	case errors.Is(err, agent.ErrBusy):
		return h.respond(c, h.listen(holdOn, 0)...)
	case errors.Is(err, agent.ErrSessionExpired):
		h.Store.Forget(sid)
		return h.respond(c, &twiml.VoiceSay{Message: expiredLine}, &twiml.VoiceHangup{})
	case err != nil:
		return h.respond(c, h.listen(reprompt, 0)...)
	}
	log.Debug().Str("call_sid", sid).Int("products", len(reply.MentionedProducts)).Msg("phone turn answered")
	return h.respond(c, h.listen(reply.Spoken(), 0)...)
}

// Status drops the conversation once the call is over.
func (h *Handler) Status(c echo.Context) error {
	sid := param(c, "CallSid")
	switch param(c, "CallStatus") {
	case "completed", "failed", "busy", "no-answer", "canceled":
		h.Store.Forget(sid)
		log.Info().Str("call_sid", sid).Str("status", param(c, "CallStatus")).Msg("phone call ended")
	}
	return c.NoContent(http.StatusNoContent)
}

// listen says text inside a speech gather; silence falls through to a redirect that
// counts the attempt.
func (h *Handler) listen(text string, attempt int) []twiml.Element {
	gather := &twiml.VoiceGather{
		Input:         "speech",
		Action:        gatherPath,
		Method:        http.MethodPost,
		SpeechTimeout: "auto",
		Language:      h.Language,
		InnerElements: []twiml.Element{&twiml.VoiceSay{Message: text}},
	}
	redirect := &twiml.VoiceRedirect{
		Url:    gatherPath + "?attempt=" + strconv.Itoa(attempt),
		Method: http.MethodPost,
	}
	return []twiml.Element{gather, redirect}
}

func (h *Handler) respond(c echo.Context, verbs ...twiml.Element) error {
	body, err := twiml.Voice(verbs)
	if err != nil {
		log.Error().Err(err).Msg("build twiml")
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	return c.Blob(http.StatusOK, "application/xml", []byte(body))
}

func param(c echo.Context, key string) string {
	if p := middleware.TwilioParams(c); p != nil {
		return p[key]
	}
	return c.FormValue(key)
}
