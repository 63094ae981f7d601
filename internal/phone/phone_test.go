package phone

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/inventory"
)

type cannedGenerator struct{ text string }

func (g cannedGenerator) Generate(context.Context, grounding.Context) grounding.Output {
	return grounding.Output{ResponseText: g.text, RecommendedSKUs: []string{"DRYWALL-ANCHOR-50"}}
}

func newTestHandler() *Handler {
	a := grounding.NewAssembler(inventory.NewDemoMemory(), 0)
	store := agent.NewStore(func(id string) *agent.Conversation {
		return agent.NewConversation(id, inventory.DemoStoreID, a, cannedGenerator{text: "**Drywall anchors** are in aisle B2."})
	})
	return NewHandler(store, inventory.DemoStoreID)
}

func post(t *testing.T, h *Handler, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e.Group("/twilio"))
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestVoice_GreetsAndGathers(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/twilio/voice", url.Values{"CallSid": {"CA1"}, "From": {"+15550100"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/xml")
	assert.Contains(t, body, "<Gather")
	assert.Contains(t, body, `input="speech"`)
	assert.Contains(t, body, "What are you looking for today?")
	assert.Contains(t, body, "/twilio/gather?attempt=0")
	assert.Equal(t, 1, h.Store.Len())
}

func TestGather_AnswersAndListensAgain(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/twilio/gather", url.Values{"CallSid": {"CA1"}, "SpeechResult": {"where are the anchors"}})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Drywall anchors are in aisle B2.")
	assert.NotContains(t, body, "**")
	assert.Contains(t, body, "<Gather")

	conv, ok := h.Store.Lookup("CA1")
	require.True(t, ok)
	assert.Len(t, conv.History(), 2)
}

func TestGather_SilenceRepromptsThenHangsUp(t *testing.T) {
	h := newTestHandler()
	rec := post(t, h, "/twilio/gather?attempt=0", url.Values{"CallSid": {"CA1"}})
	assert.Contains(t, rec.Body.String(), "What can I help you find?")
	assert.Contains(t, rec.Body.String(), "/twilio/gather?attempt=1")

	rec = post(t, h, "/twilio/gather?attempt=2", url.Values{"CallSid": {"CA1"}})
	assert.Contains(t, rec.Body.String(), "<Hangup")
	assert.NotContains(t, rec.Body.String(), "<Gather")
}

func TestStatus_ForgetsCompletedCalls(t *testing.T) {
	h := newTestHandler()
	h.Store.Get("CA1")
	rec := post(t, h, "/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.Store.Len())

	post(t, h, "/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	assert.Equal(t, 0, h.Store.Len())
}
