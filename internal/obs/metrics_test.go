package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncWake("success")
		m.ObservePortalRequest("login", 200)
		m.ObserveBooking(time.Second)
		m.ObserveFireDrift(time.Millisecond)
		m.WakeStarted()
		m.WakeFinished()
	})
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncWake("retry")
	m.IncWake("retry")
	m.ObservePortalRequest("login", 302)
	m.ObservePortalRequest("login", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WakeTotal.WithLabelValues("retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PortalRequests.WithLabelValues("login", "3xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PortalRequests.WithLabelValues("login", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "courtres_actor_wake_total")
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
}
