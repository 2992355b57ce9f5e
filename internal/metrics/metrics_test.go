package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.JobFinished(OutcomeAccepted, 20*time.Millisecond)
	m.JobFinished(OutcomeAccepted, 30*time.Millisecond)
	m.JobFinished(OutcomeRejected, time.Millisecond)
	m.ScanFinished(3, 1, 0)
	m.DeadLettered("parse")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scansTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.scannedFiles.WithLabelValues("enqueued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deadLetters.WithLabelValues("parse")))
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.DeadLettered("config")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.deadLetters.WithLabelValues("config")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished(OutcomeAccepted, time.Second)
		m.ScanFinished(1, 1, 1)
		m.DeadLettered("x")
		m.StageFinished("persist", time.Second)
	})
}
