package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("risk_assessment", "groq", "ok", time.Second)
		m.IncrementRoute("risk_assessment", "fast")
		m.IncrementDecision("Allow")
		m.IncrementEscalation("policy_conflict")
		m.IncrementExternalSearch("ok")
		m.ObserveRun(time.Second)
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncrementDecision("Allow")
	m.IncrementDecision("Allow")
	m.IncrementRoute("claim_extraction", "fallback")
	m.ObserveAttempt("claim_extraction", "openai", "ok", 20*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.Decisions.WithLabelValues("Allow")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.StageRoute.WithLabelValues("claim_extraction", "fallback")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
