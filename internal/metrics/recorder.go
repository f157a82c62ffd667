// Package metrics provides the observability hooks of the hub. Components
// take a Recorder by injection; NoopRecorder is the default so metrics stay
// optional without nil checks at call sites.
package metrics

import "time"

// OutcomeLabel enumerates operation result categories for counters.
type OutcomeLabel string

const (
	OutcomeSuccess  OutcomeLabel = "success"
	OutcomeError    OutcomeLabel = "error"
	OutcomeConflict OutcomeLabel = "conflict"
	OutcomeTimeout  OutcomeLabel = "timeout"
)

// Recorder defines the observability hooks of the daemon. Implementations
// forward to Prometheus or do nothing.
type Recorder interface {
	ObserveOperationDuration(action string, d time.Duration)
	IncOperationOutcome(action string, outcome OutcomeLabel)
	ObserveResolveChainDepth(depth int)
	IncCacheResult(hit bool)
	ObserveBatchSize(n int)
	ObserveBatchWindow(d time.Duration)
	SetConnections(n int)
	IncMessagesSent(msgType string)
	IncMessagesDropped()
}

// NoopRecorder is the default Recorder when metrics are not configured.
type NoopRecorder struct{}

func (NoopRecorder) ObserveOperationDuration(string, time.Duration) {}
func (NoopRecorder) IncOperationOutcome(string, OutcomeLabel)       {}
func (NoopRecorder) ObserveResolveChainDepth(int)                   {}
func (NoopRecorder) IncCacheResult(bool)                            {}
func (NoopRecorder) ObserveBatchSize(int)                           {}
func (NoopRecorder) ObserveBatchWindow(time.Duration)               {}
func (NoopRecorder) SetConnections(int)                             {}
func (NoopRecorder) IncMessagesSent(string)                         {}
func (NoopRecorder) IncMessagesDropped()                            {}
