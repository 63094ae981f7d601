package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Turn("ok")
		m.ProviderRequest("gemini", "ok", time.Second)
		m.GroundingDropped("not_allowed", 2)
		m.CaptureRestarted()
		m.VoiceSessionStarted()
		m.VoiceSessionEnded()
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New("test")
	m.Turn("ok")
	m.Turn("ok")
	m.GroundingDropped("constraint", 3)
	m.GroundingDropped("constraint", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.GroundingDrops.WithLabelValues("constraint")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_turns_total")
}
