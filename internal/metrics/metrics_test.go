package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTrigger(t *testing.T) {
	m := New()
	m.ObserveTrigger("cron", time.Now(), 3, 2, map[string]int{"item_not_found": 1})

	assert.InDelta(t, 1, testutil.ToFloat64(m.TriggerRunsTotal.WithLabelValues("cron")), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.InvoicesGenerated), 0.001)
	assert.InDelta(t, 3, testutil.ToFloat64(m.DueDefinitions), 0.001)
	assert.InDelta(t, 1, testutil.ToFloat64(m.GenerationFailures.WithLabelValues("item_not_found")), 0.001)
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *Metrics
	m.ObserveTrigger("manual", time.Now(), 0, 0, nil)
	m.ObserveHTTP(http.MethodGet, "/healthz", http.StatusOK, time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/api/v1/items", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "invoiceshelf_http_requests_total"))
	assert.True(t, strings.Contains(body, `route="/api/v1/items"`))
}
