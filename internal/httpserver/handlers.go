package httpserver

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/middleware"
	"github.com/chadiek/store-assistant/internal/rtc"
	"github.com/chadiek/store-assistant/internal/transcript"
)

// maxAudioBytes bounds an uploaded recording.
const maxAudioBytes = 10 << 20

type errorBody struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorBody{Error: "Unauthorized", Redirect: middleware.LoginPath})
}

type assistantRequest struct {
	Question            string           `json:"question"`
	ConversationHistory []grounding.Turn `json:"conversationHistory"`
}

// assistant runs one stateless turn; the client carries the history.
func (s *Server) assistant(c echo.Context) error {
	user, ok := middleware.User(c)
	if !ok {
		return unauthorized(c)
	}
	var req assistantRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid request body"})
	}
	if strings.TrimSpace(req.Question) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Question is required"})
	}

	conv := agent.NewConversation(agent.NewID(), user.StoreID, s.deps.Assembler, s.deps.Generator,
		agent.WithHistory(req.ConversationHistory), agent.WithConversationMetrics(s.deps.Metrics))
	reply, err := conv.Send(c.Request().Context(), req.Question)
	switch {
	case errors.Is(err, agent.ErrSessionExpired):
		return unauthorized(c)
	case errors.Is(err, agent.ErrEmptyUtterance):
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Question is required"})
	case err != nil:
		log.Error().Err(err).Str("store_id", user.StoreID).Msg("assistant turn failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to process request"})
	}
	return c.JSON(http.StatusOK, reply)
}

// transcribe turns an uploaded recording into text.
func (s *Server) transcribe(c echo.Context) error {
	if s.deps.Transcriber == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "Transcription is not configured"})
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "No audio file provided"})
	}
	if fh.Size > maxAudioBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "Audio file too large"})
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Unreadable audio file"})
	}
	defer f.Close()
	audio, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Unreadable audio file"})
	}

	res, err := s.deps.Transcriber.Transcribe(c.Request().Context(), audio, fh.Header.Get(echo.HeaderContentType))
	switch {
	case errors.Is(err, transcript.ErrEmptyAudio):
		return c.JSON(http.StatusBadRequest, errorBody{Error: "No audio file provided"})
	case errors.Is(err, transcript.ErrInaudible):
		return c.JSON(http.StatusUnprocessableEntity, errorBody{Error: "No speech detected"})
	case errors.Is(err, transcript.ErrNotConfigured):
		return c.JSON(http.StatusServiceUnavailable, errorBody{Error: "Transcription is not configured"})
	case err != nil:
		log.Error().Err(err).Msg("transcription failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to transcribe audio"})
	}
	return c.JSON(http.StatusOK, res)
}

// inventory lists the in-stock products of the caller's store by name.
func (s *Server) inventory(c echo.Context) error {
	user, ok := middleware.User(c)
	if !ok {
		return unauthorized(c)
	}
	items, err := s.deps.Inventory.InStock(c.Request().Context(), user.StoreID)
	switch {
	case errors.Is(err, inventory.ErrUnauthorized):
		return unauthorized(c)
	case err != nil:
		log.Error().Err(err).Str("store_id", user.StoreID).Msg("inventory lookup failed")
		return c.JSON(http.StatusInternalServerError, errorBody{Error: "Failed to fetch inventory"})
	}
	items = append([]inventory.Item(nil), items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return c.JSON(http.StatusOK, map[string][]inventory.Item{"products": items})
}

func (s *Server) callOffer(c echo.Context) error {
	user, ok := middleware.User(c)
	if !ok {
		return unauthorized(c)
	}
	var offer rtc.SessionDescription
	if err := c.Bind(&offer); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "Invalid offer"})
	}
	answer, err := s.deps.RTC.HandleOffer(c.Request().Context(), user.StoreID, offer)
	if err != nil {
		log.Warn().Err(err).Msg("webrtc offer failed")
		return c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) callWebSocket(c echo.Context) error {
	user, ok := middleware.User(c)
	if !ok {
		return unauthorized(c)
	}
	s.deps.RTC.ServeWebSocket(c.Response(), c.Request(), user.StoreID)
	return nil
}
