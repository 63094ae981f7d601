package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/metrics"
	"github.com/chadiek/store-assistant/internal/middleware"
	"github.com/chadiek/store-assistant/internal/phone"
	"github.com/chadiek/store-assistant/internal/rtc"
	"github.com/chadiek/store-assistant/internal/session"
	"github.com/chadiek/store-assistant/internal/transcript"
)

// Deps are the collaborators behind the HTTP surface. Transcriber, RTC and Phone are optional.
type Deps struct {
	Verifier        *session.Verifier
	Assembler       agent.Assembler
	Generator       agent.Generator
	Inventory       inventory.Gateway
	Transcriber     transcript.Transcriber
	RTC             *rtc.Handler
	Phone           *phone.Handler
	TwilioAuthToken string
	Metrics         *metrics.Metrics
}

// Server bundles the router and its dependencies.
type Server struct {
	Router *echo.Echo
	deps   Deps
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	s := &Server{Router: NewRouter(), deps: d}
	e := s.Router

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	auth := middleware.SessionAuth(d.Verifier)
	api := e.Group("/api", auth)
	api.POST("/assistant", s.assistant)
	api.POST("/transcribe", s.transcribe)
	api.GET("/inventory", s.inventory)

	if d.RTC != nil {
		e.POST("/call", s.callOffer, auth)
		e.GET("/call/ws", s.callWebSocket, auth)
	}
	if d.Phone != nil {
		token := d.TwilioAuthToken
		d.Phone.Register(e.Group("/twilio", middleware.TwilioAuth(func() string { return token })))
	}
	return s
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() { errc <- s.Router.Start(addr) }()
	log.Info().Str("addr", addr).Msg("http server listening")
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Router.Shutdown(shutdownCtx)
}
