package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/chadiek/store-assistant/internal/session"
)

const userKey = "sessionUser"

// LoginPath is where unauthenticated callers are sent.
const LoginPath = "/login"

// SessionAuth rejects requests without a valid session with 401 and a login redirect hint.
func SessionAuth(v *session.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, err := v.FromRequest(c.Request())
			if err != nil {
				msg := "Unauthorized"
				if errors.Is(err, session.ErrNoStore) {
					msg = "No store associated with user"
				}
				log.Debug().Err(err).Str("path", c.Path()).Msg("session rejected")
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg, "redirect": LoginPath})
			}
			c.Set(userKey, u)
			return next(c)
		}
	}
}

// User returns the session user set by SessionAuth.
func User(c echo.Context) (session.User, bool) {
	u, ok := c.Get(userKey).(session.User)
	return u, ok
}
