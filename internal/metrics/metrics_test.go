package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.RecordCheck(true, "ok", 0.001)
	m.RecordCheck(false, "plan_too_low", 0.002)
	m.RecordRateLimited("hour")
	m.RecordLimiterFailure()
	m.RecordCache("token", "hit")
	m.RecordCache("override", "miss")
	m.RecordHTTPRequest("POST", "/v1/permissions/check", 200, 0.01)
	m.RecordUsageWritten(10)
	m.RecordUsageDropped()

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}

	for _, name := range []string{
		"toolgate_checks_total",
		"toolgate_check_duration_seconds",
		"toolgate_rate_limited_total",
		"toolgate_limiter_failures_total",
		"toolgate_cache_total",
		"toolgate_http_requests_total",
		"toolgate_http_request_duration_seconds",
		"toolgate_usage_records_written_total",
		"toolgate_usage_records_dropped_total",
	} {
		assert.True(t, found[name], "metric %s not gathered", name)
	}
}

func TestMetricsDecisionLabels(t *testing.T) {
	m := New()

	m.RecordCheck(true, "ok", 0.001)
	m.RecordCheck(true, "override", 0.001)
	m.RecordCheck(false, "suspended", 0.001)

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != "toolgate_checks_total" {
			continue
		}
		assert.Len(t, mf.GetMetric(), 3)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordCheck(true, "ok", 0.001)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolgate_checks_total")
}
