package events

import (
	"time"

	"git.home.luguber.info/inful/contexthub/internal/cascade"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
	"git.home.luguber.info/inful/contexthub/internal/store"
)

// ContextChanged is published after a write commits. It is the single event
// the delivery pipeline fans out from.
type ContextChanged struct {
	Ref      store.Ref
	Action   string
	Owner    string
	Source   protocol.Source
	Primary  any
	Affected []cascade.Affected
	At       time.Time
}

// CacheInvalidated is published after a change evicts resolution entries.
type CacheInvalidated struct {
	Ref     store.Ref
	Evicted int
	At      time.Time
}

// BatchFlushed is published when the batcher closes a window and emits a
// bulk message.
type BatchFlushed struct {
	Owner   string
	Size    int
	Elapsed time.Duration
	At      time.Time
}

// ConnectionClosed is published when the hub drops a connection, with the
// reason ("client", "slow consumer", "write failure", "shutdown").
type ConnectionClosed struct {
	ConnID string
	Owner  string
	Reason string
	At     time.Time
}
