package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Attempt("success")
	m.PlaceholderFallback()
	m.JobStarted()
	m.JobFinished("completed")
	m.ObservePhase("images", 120*time.Millisecond)
	m.SessionFinalized("idle")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rr.Result().Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `board_generation_attempts_total{result="success"} 1`)
	assert.Contains(t, text, "board_placeholder_fallbacks_total 1")
	assert.Contains(t, text, `board_jobs_total{status="completed"} 1`)
	assert.Contains(t, text, "board_jobs_in_flight 0")
	assert.Contains(t, text, `board_sessions_finalized_total{reason="idle"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Attempt("failure")
		m.PlaceholderFallback()
		m.JobStarted()
		m.JobFinished("error")
		m.ObservePhase("render", time.Second)
		m.SessionFinalized("explicit")
	})
}
