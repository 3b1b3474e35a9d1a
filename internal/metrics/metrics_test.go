package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Submission("ok")
	m.Submission("ok")
	m.Submission("malformed")
	m.Purchase(Result(nil))
	m.Purchase(Result(errors.New("x")))
	m.Reaped(3)
	m.Reaped(0)
	m.ObserveSign(10 * time.Millisecond)
	m.ObserveHTTP("/app/list", http.MethodGet, 200, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("malformed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.purchases.WithLabelValues("error")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.reaped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/app/list", "GET", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Submission("ok")
	m.Purchase("ok")
	m.ObserveSign(time.Second)
	m.Reaped(1)
	m.ObserveHTTP("/", "GET", 200, time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Reaped(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "appstore_downloads_reaped_total 2"))
}
