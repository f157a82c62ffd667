// Package protocol defines the versioned JSON envelope exchanged over
// websocket connections and the change broker.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Version is the current envelope version. Messages carrying any other
// version are rejected at decode time.
const Version = 1

// MessageType enumerates envelope kinds.
type MessageType string

const (
	// TypeUpdate carries a single applied change.
	TypeUpdate MessageType = "update"
	// TypeBulk carries a batch of coalesced changes.
	TypeBulk MessageType = "bulk"
	// TypeSync carries the full snapshot sent when a connection attaches.
	TypeSync MessageType = "sync"
	// TypeHeartbeat keeps idle connections alive.
	TypeHeartbeat MessageType = "heartbeat"
)

// Source tells the batcher which delivery lane a change takes.
type Source string

const (
	// SourceUser marks human-origin changes, delivered immediately.
	SourceUser Source = "user"
	// SourceAutomation marks machine-origin changes, eligible for batching.
	SourceAutomation Source = "automation"
)

// Message is the wire envelope. Sequence is assigned per connection by the
// sync hub just before write; it is zero everywhere else.
type Message struct {
	ID        string      `json:"id"`
	Version   int         `json:"version"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Sequence  uint64      `json:"sequence,omitempty"`
	Payload   Payload     `json:"payload"`
	Metadata  Metadata    `json:"metadata"`
}

// Payload is the domain content of a message.
type Payload struct {
	// Entity identifies the changed context as "<level>:<id>".
	Entity string `json:"entity,omitempty"`
	Action string `json:"action,omitempty"`
	Data   *Data  `json:"data,omitempty"`
	// Changes is populated on bulk messages, ordered oldest first.
	Changes []Payload `json:"changes,omitempty"`
	// Snapshot is populated on sync messages.
	Snapshot any `json:"snapshot,omitempty"`
}

// Data splits a change into the primary write and its cascade effects.
type Data struct {
	Primary any `json:"primary,omitempty"`
	Cascade any `json:"cascade,omitempty"`
}

// Metadata carries routing hints rather than domain content.
type Metadata struct {
	Source Source `json:"source,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

// NewUpdate builds a single-change envelope.
func NewUpdate(entity, action string, data *Data, meta Metadata) Message {
	return Message{
		ID:        uuid.NewString(),
		Version:   Version,
		Type:      TypeUpdate,
		Timestamp: time.Now().UTC(),
		Payload:   Payload{Entity: entity, Action: action, Data: data},
		Metadata:  meta,
	}
}

// NewBulk coalesces updates into one envelope. The metadata of the batch is
// taken from the caller, not from any member.
func NewBulk(changes []Payload, meta Metadata) Message {
	return Message{
		ID:        uuid.NewString(),
		Version:   Version,
		Type:      TypeBulk,
		Timestamp: time.Now().UTC(),
		Payload:   Payload{Changes: changes},
		Metadata:  meta,
	}
}

// NewSync builds the snapshot envelope sent on connection attach.
func NewSync(snapshot any, meta Metadata) Message {
	return Message{
		ID:        uuid.NewString(),
		Version:   Version,
		Type:      TypeSync,
		Timestamp: time.Now().UTC(),
		Payload:   Payload{Snapshot: snapshot},
		Metadata:  meta,
	}
}

// NewHeartbeat builds a keepalive envelope.
func NewHeartbeat() Message {
	return Message{
		ID:        uuid.NewString(),
		Version:   Version,
		Type:      TypeHeartbeat,
		Timestamp: time.Now().UTC(),
	}
}
