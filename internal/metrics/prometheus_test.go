package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordCoreExecution(t *testing.T) {
	m := NewMetrics("node-1", prometheus.NewRegistry())

	m.RecordCoreExecution("os", nil)
	m.RecordCoreExecution("os", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CoreExecutionsTotal.WithLabelValues("os")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CoreExecutionErrors.WithLabelValues("os")))
}

func TestMetrics_VotesAndDecisions(t *testing.T) {
	m := NewMetrics("node-1", prometheus.NewRegistry())

	m.RecordVote("approve", true)
	m.RecordVote("approve", false)
	m.RecordDecision("approve", 0.9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesTotal.WithLabelValues("approve", "counted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VotesTotal.WithLabelValues("approve", "discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("approve")))
}

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordExpiration()
		m.RecordFabricError("publish")
		m.UpdateReplicaStates(map[string]int{"healthy": 3})
	})
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("a", prometheus.NewRegistry())
		NewMetrics("a", prometheus.NewRegistry())
	})
}
