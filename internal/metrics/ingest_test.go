package metrics

import (
	"testing"
	"time"

	"dropwatch/internal/ingest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ingest.Observer = (*Ingest)(nil)

func TestIngest_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIngest(reg)

	m.PairProcessed("done", "")
	m.PairProcessed("error", "duplicate")
	m.PairProcessed("error", "duplicate")
	m.BytesUploaded(2048)
	m.BytesUploaded(-1)
	m.RelocationFailed()
	m.CycleCompleted("ok", 150*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.pairs.WithLabelValues("done", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pairs.WithLabelValues("error", "duplicate")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.bytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relocations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("ok")))

	count, err := testutil.GatherAndCount(reg, "dropwatch_cycle_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
