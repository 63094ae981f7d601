package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/client"
)

// TwilioParamsKey holds the verified form parameters of a Twilio webhook.
const TwilioParamsKey = "twilioParams"

// TwilioAuth validates Twilio webhook requests using the X-Twilio-Signature header.
// The signed URL is rebuilt with publicURL.
func TwilioAuth(getAuthToken func() string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authToken := getAuthToken()
			if authToken == "" {
				log.Error().Msg("twilio webhook hit but TWILIO_AUTH_TOKEN is not configured")
				return c.String(http.StatusInternalServerError, "TWILIO_AUTH_TOKEN not configured")
			}

			req := c.Request()
			bodyBytes, err := io.ReadAll(req.Body)
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to read request body")
			}
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			formData, err := url.ParseQuery(string(bodyBytes))
			if err != nil {
				return c.String(http.StatusBadRequest, "Failed to parse form data")
			}
			params := make(map[string]string, len(formData))
			for key, values := range formData {
				if len(values) > 0 {
					params[key] = values[0]
				}
			}

			signature := req.Header.Get("X-Twilio-Signature")
			requestURL := publicURL(req)
			validator := client.NewRequestValidator(authToken)
			if signature == "" || !validator.Validate(requestURL, params, signature) {
				log.Warn().Str("path", req.URL.Path).Msg("rejected twilio webhook with bad signature")
				return c.String(http.StatusUnauthorized, "Invalid Twilio signature")
			}

			c.Set(TwilioParamsKey, params)
			return next(c)
		}
	}
}

// TwilioParams returns the parameters stored by TwilioAuth.
func TwilioParams(c echo.Context) map[string]string {
	p, _ := c.Get(TwilioParamsKey).(map[string]string)
	return p
}

// publicURL is the URL Twilio called. X-Forwarded-* headers from a proxy win; otherwise
// the Host is used over https, except for local addresses.
func publicURL(req *http.Request) string {
	proto := req.Header.Get("X-Forwarded-Proto")
	host := req.Header.Get("X-Forwarded-Host")
	if proto == "" || host == "" {
		host = req.Host
		proto = "https"
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			proto = "http"
		}
	}
	return proto + "://" + host + req.URL.RequestURI()
}
