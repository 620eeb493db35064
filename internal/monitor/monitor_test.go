package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coveloop/lighterprobe/internal/aggregate"
)

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthzReportsRunCount(t *testing.T) {
	s := NewServer(zap.NewNop())

	w := get(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","runs":0}`, w.Body.String())

	s.Record(Snapshot{})
	w = get(t, s, "/healthz")
	assert.JSONEq(t, `{"status":"ok","runs":1}`, w.Body.String())
}

func TestSummaryBeforeFirstRun(t *testing.T) {
	s := NewServer(zap.NewNop())

	w := get(t, s, "/summary")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "no completed run yet")
}

func TestSummaryServesLatestRun(t *testing.T) {
	s := NewServer(zap.NewNop())

	started := time.Date(2026, 8, 22, 1, 2, 3, 0, time.UTC)
	snap := NewSnapshot("session-1", started, started.Add(2*time.Second), false, aggregate.Summary{
		Probes:          2,
		Completed:       2,
		AvgTotal:        142 * time.Millisecond,
		MinTotal:        120 * time.Millisecond,
		MedianTotal:     142 * time.Millisecond,
		MaxTotal:        164 * time.Millisecond,
		FallbackMatches: 1,
	})
	s.Record(snap)

	w := get(t, s, "/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "session-1", got.SessionID)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, 142.0, got.AvgTotalMs)
	assert.Equal(t, 1, got.FallbackMatches)
	assert.False(t, got.GeoBlocked)

	// A newer run replaces the old one.
	s.Record(NewSnapshot("session-2", started, started.Add(time.Second), true, aggregate.Summary{Probes: 2}))
	w = get(t, s, "/summary")
	var next Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
	assert.Equal(t, "session-2", next.SessionID)
	assert.True(t, next.GeoBlocked)
}

func TestMetricsEndpointExposed(t *testing.T) {
	s := NewServer(zap.NewNop())

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# HELP")
}
