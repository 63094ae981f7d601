package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/session"
)

func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func twilioRequest(form url.Values, sig string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	req.Host = "assistant.example.com"
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	if sig != "" {
		req.Header.Set("X-Twilio-Signature", sig)
	}
	return req
}

func TestTwilioAuth(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550100"}}
	good := sign("tok", "https://assistant.example.com/twilio/voice", form)

	handler := func(c echo.Context) error {
		body, _ := io.ReadAll(c.Request().Body)
		assert.Equal(t, form.Encode(), string(body), "body is readable downstream")
		return c.String(http.StatusOK, TwilioParams(c)["CallSid"])
	}

	cases := []struct {
		name  string
		token string
		sig   string
		code  int
	}{
		{"valid", "tok", good, http.StatusOK},
		{"bad signature", "tok", "bogus", http.StatusUnauthorized},
		{"missing signature", "tok", "", http.StatusUnauthorized},
		{"no token configured", "", good, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(twilioRequest(form, tc.sig), rec)
			token := tc.token
			require.NoError(t, TwilioAuth(func() string { return token })(handler)(c))
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, "CA1", rec.Body.String())
			}
		})
	}
}

func TestPublicURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/twilio/gather?attempt=1", nil)
	req.Host = "assistant.example.com"
	assert.Equal(t, "https://assistant.example.com/twilio/gather?attempt=1", publicURL(req))

	req.Host = "localhost:8080"
	assert.Equal(t, "http://localhost:8080/twilio/gather?attempt=1", publicURL(req))

	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "abc.ngrok.app")
	assert.Equal(t, "https://abc.ngrok.app/twilio/gather?attempt=1", publicURL(req))
}

func TestSessionAuth(t *testing.T) {
	v := session.NewVerifier("secret")
	tok, err := v.Issue(session.User{ID: "u1", StoreID: "demo-store"}, time.Hour)
	require.NoError(t, err)
	noStore, err := v.Issue(session.User{ID: "u1"}, time.Hour)
	require.NoError(t, err)

	handler := func(c echo.Context) error {
		u, ok := User(c)
		require.True(t, ok)
		return c.String(http.StatusOK, u.StoreID)
	}
	run := func(token string) *httptest.ResponseRecorder {
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/assistant", nil)
		if token != "" {
			req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
		}
		rec := httptest.NewRecorder()
		require.NoError(t, SessionAuth(v)(handler)(e.NewContext(req, rec)))
		return rec
	}

	rec := run(tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "demo-store", rec.Body.String())

	rec = run("")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized","redirect":"/login"}`, rec.Body.String())

	rec = run(noStore)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "No store associated with user")
}
