package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCountersExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EventsVerified.WithLabelValues("live").Inc()
	m.StageFailures.WithLabelValues("backup").Add(2)

	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsVerified.WithLabelValues("live")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.StageFailures.WithLabelValues("backup")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `payment_events_verified_total{mode="live"} 1`)
}
