package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Singleton(t *testing.T) {
	m1 := NewMetrics()
	m2 := NewMetrics()
	require.NotNil(t, m1)
	assert.Same(t, m1, m2)
}

func TestRecordJob(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed"))

	m.RecordJob("completed", 1.25)

	after := testutil.ToFloat64(m.JobsTotal.WithLabelValues("completed"))
	assert.Equal(t, before+1, after)
}

func TestRecordSource(t *testing.T) {
	m := NewMetrics()
	before := testutil.ToFloat64(m.SourceResultsTotal.WithLabelValues("knowledge_base", "failure"))

	m.RecordSource("knowledge_base", false)
	m.RecordSourceTimeout("knowledge_base")

	after := testutil.ToFloat64(m.SourceResultsTotal.WithLabelValues("knowledge_base", "failure"))
	assert.Equal(t, before+1, after)
	assert.GreaterOrEqual(t,
		testutil.ToFloat64(m.SourceTimeoutsTotal.WithLabelValues("knowledge_base")), 1.0)
}
