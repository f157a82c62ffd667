package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveOperationDuration("update", time.Second)
	r.IncOperationOutcome("update", OutcomeSuccess)
	r.ObserveResolveChainDepth(4)
	r.IncCacheResult(true)
	r.ObserveBatchSize(50)
	r.ObserveBatchWindow(500 * time.Millisecond)
	r.SetConnections(3)
	r.IncMessagesSent("bulk")
	r.IncMessagesDropped()
}

func TestPrometheusRecorderRegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncOperationOutcome("update", OutcomeSuccess)
	pr.IncCacheResult(true)
	pr.IncCacheResult(false)
	pr.ObserveBatchSize(12)
	pr.SetConnections(2)
	pr.IncMessagesDropped()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["contexthub_operation_outcomes_total"])
	assert.True(t, names["contexthub_cache_results_total"])
	assert.True(t, names["contexthub_batch_size"])
	assert.True(t, names["contexthub_sync_connections"])
	assert.True(t, names["contexthub_messages_dropped_total"])
}

func TestNilRecorderMethodsNoOp(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncMessagesSent("update")
	pr.SetConnections(1)
}
