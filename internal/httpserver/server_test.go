package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/store-assistant/internal/agent"
	"github.com/chadiek/store-assistant/internal/grounding"
	"github.com/chadiek/store-assistant/internal/inventory"
	"github.com/chadiek/store-assistant/internal/metrics"
	"github.com/chadiek/store-assistant/internal/session"
	"github.com/chadiek/store-assistant/internal/transcript"
)

const secret = "test-secret"

type stubGenerator struct {
	out  grounding.Output
	seen []grounding.Context
}

func (g *stubGenerator) Generate(_ context.Context, c grounding.Context) grounding.Output {
	g.seen = append(g.seen, c)
	return g.out
}

type stubTranscriber struct {
	res transcript.Result
	err error
}

func (s stubTranscriber) Transcribe(context.Context, []byte, string) (transcript.Result, error) {
	return s.res, s.err
}

func newTestServer(t *testing.T, gen agent.Generator, tr transcript.Transcriber) *Server {
	t.Helper()
	inv := inventory.NewDemoMemory()
	return New(Deps{
		Verifier:    session.NewVerifier(secret),
		Assembler:   grounding.NewAssembler(inv, 6),
		Generator:   gen,
		Inventory:   inv,
		Transcriber: tr,
		Metrics:     metrics.New("test"),
	})
}

func bearer(t *testing.T) string {
	t.Helper()
	tok, err := session.NewVerifier(secret).Issue(session.User{ID: "u1", Email: "a@b.c", StoreID: inventory.DemoStoreID}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func jsonRequest(method, path, body, auth string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	return req
}

func TestServer_Healthz(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, nil)
	w := do(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_AssistantRequiresSession(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, nil)
	w := do(s, jsonRequest(http.MethodPost, "/api/assistant", `{"question":"hi"}`, ""))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"redirect":"/login"`)
}

func TestServer_AssistantRequiresQuestion(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, nil)
	w := do(s, jsonRequest(http.MethodPost, "/api/assistant", `{"question":"   "}`, bearer(t)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Question is required")
}

func TestServer_AssistantAnswers(t *testing.T) {
	gen := &stubGenerator{out: grounding.Output{
		ResponseText:    "Monkey hooks are in aisle A3.",
		RecommendedSKUs: []string{"MONKEY-HOOK-10", "NOT-A-SKU"},
		ProductReasons:  map[string]string{"MONKEY-HOOK-10": "Holds 30 lbs"},
	}}
	s := newTestServer(t, gen, nil)
	body := `{"question":"How do I hang a mirror?","conversationHistory":[` +
		`{"role":"user","content":"hello"},{"role":"assistant","content":"Hi! What are you working on?"}]}`

	w := do(s, jsonRequest(http.MethodPost, "/api/assistant", body, bearer(t)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply agent.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, "Monkey hooks are in aisle A3.", reply.Response)
	require.Len(t, reply.MentionedProducts, 1)
	assert.Equal(t, "MONKEY-HOOK-10", reply.MentionedProducts[0].SKU)
	assert.Equal(t, "Aisle A3, Bin 14", reply.MentionedProducts[0].Location)

	require.Len(t, gen.seen, 1)
	assert.Equal(t, inventory.DemoStoreID, gen.seen[0].StoreID)
	assert.Len(t, gen.seen[0].History, 2)
}

func TestServer_InventorySortedByName(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/inventory", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t))
	w := do(s, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Products []inventory.Item `json:"products"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Products)
	for i := 1; i < len(body.Products); i++ {
		assert.LessOrEqual(t, body.Products[i-1].Name, body.Products[i].Name)
	}
	for _, p := range body.Products {
		assert.Positive(t, p.Stock)
	}
}

func audioUpload(t *testing.T, auth string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "clip.webm")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	req.Header.Set(echo.HeaderAuthorization, auth)
	return req
}

func TestServer_Transcribe(t *testing.T) {
	cases := []struct {
		name string
		tr   transcript.Transcriber
		want int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"ok", stubTranscriber{res: transcript.Result{Text: "where are the anchors"}}, http.StatusOK},
		{"inaudible", stubTranscriber{err: transcript.ErrInaudible}, http.StatusUnprocessableEntity},
		{"no key", stubTranscriber{err: transcript.ErrNotConfigured}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &stubGenerator{}, tc.tr)
			w := do(s, audioUpload(t, bearer(t), []byte("fake-audio")))
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			if tc.want == http.StatusOK {
				assert.Contains(t, w.Body.String(), "where are the anchors")
			}
		})
	}
}

func TestServer_TranscribeMissingFile(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, stubTranscriber{})
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", nil)
	req.Header.Set(echo.HeaderAuthorization, bearer(t))
	w := do(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_MetricsExposed(t *testing.T) {
	s := newTestServer(t, &stubGenerator{out: grounding.Output{ResponseText: "Hello!"}}, nil)
	w := do(s, jsonRequest(http.MethodPost, "/api/assistant", `{"question":"hi"}`, bearer(t)))
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_turns_total")
}

func TestServer_CallRoutesOptional(t *testing.T) {
	s := newTestServer(t, &stubGenerator{}, nil)
	w := do(s, jsonRequest(http.MethodPost, "/call", `{"type":"offer","sdp":"x"}`, bearer(t)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
