package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	once              sync.Once
	operationDuration *prom.HistogramVec
	operationOutcome  *prom.CounterVec
	resolveChainDepth prom.Histogram
	cacheResults      *prom.CounterVec
	batchSize         prom.Histogram
	batchWindow       prom.Histogram
	connections       prom.Gauge
	messagesSent      *prom.CounterVec
	messagesDropped   prom.Counter
}

// NewPrometheusRecorder constructs and registers the hub's metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.operationDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "contexthub",
			Name:      "operation_duration_seconds",
			Help:      "Duration of context store operations",
			Buckets:   prom.DefBuckets,
		}, []string{"action"})
		pr.operationOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "contexthub",
			Name:      "operation_outcomes_total",
			Help:      "Operation counts by action and outcome",
		}, []string{"action", "outcome"})
		pr.resolveChainDepth = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "contexthub",
			Name:      "resolve_chain_depth",
			Help:      "Inheritance chain length observed during resolution",
			Buckets:   []float64{1, 2, 3, 4},
		})
		pr.cacheResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "contexthub",
			Name:      "cache_results_total",
			Help:      "Resolution cache hits and misses",
		}, []string{"result"})
		pr.batchSize = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "contexthub",
			Name:      "batch_size",
			Help:      "Number of coalesced changes per bulk message",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		})
		pr.batchWindow = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "contexthub",
			Name:      "batch_window_seconds",
			Help:      "Time from first buffered change to flush",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1},
		})
		pr.connections = prom.NewGauge(prom.GaugeOpts{
			Namespace: "contexthub",
			Name:      "sync_connections",
			Help:      "Currently attached sync connections",
		})
		pr.messagesSent = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "contexthub",
			Name:      "messages_sent_total",
			Help:      "Messages written to sync connections by type",
		}, []string{"type"})
		pr.messagesDropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "contexthub",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped on saturated connection buffers",
		})
		reg.MustRegister(pr.operationDuration, pr.operationOutcome, pr.resolveChainDepth,
			pr.cacheResults, pr.batchSize, pr.batchWindow, pr.connections,
			pr.messagesSent, pr.messagesDropped)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveOperationDuration(action string, d time.Duration) {
	if p == nil || p.operationDuration == nil {
		return
	}
	p.operationDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncOperationOutcome(action string, outcome OutcomeLabel) {
	if p == nil || p.operationOutcome == nil {
		return
	}
	p.operationOutcome.WithLabelValues(action, string(outcome)).Inc()
}

func (p *PrometheusRecorder) ObserveResolveChainDepth(depth int) {
	if p == nil || p.resolveChainDepth == nil {
		return
	}
	p.resolveChainDepth.Observe(float64(depth))
}

func (p *PrometheusRecorder) IncCacheResult(hit bool) {
	if p == nil || p.cacheResults == nil {
		return
	}
	res := "miss"
	if hit {
		res = "hit"
	}
	p.cacheResults.WithLabelValues(res).Inc()
}

func (p *PrometheusRecorder) ObserveBatchSize(n int) {
	if p == nil || p.batchSize == nil {
		return
	}
	p.batchSize.Observe(float64(n))
}

func (p *PrometheusRecorder) ObserveBatchWindow(d time.Duration) {
	if p == nil || p.batchWindow == nil {
		return
	}
	p.batchWindow.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetConnections(n int) {
	if p == nil || p.connections == nil {
		return
	}
	p.connections.Set(float64(n))
}

func (p *PrometheusRecorder) IncMessagesSent(msgType string) {
	if p == nil || p.messagesSent == nil {
		return
	}
	p.messagesSent.WithLabelValues(msgType).Inc()
}

func (p *PrometheusRecorder) IncMessagesDropped() {
	if p == nil || p.messagesDropped == nil {
		return
	}
	p.messagesDropped.Inc()
}
