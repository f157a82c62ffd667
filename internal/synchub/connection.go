package synchub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
)

// State tracks a connection through its lifecycle. Transitions only move
// forward: Connecting -> Synced -> Streaming -> Disconnected.
type State string

const (
	StateConnecting   State = "connecting"
	StateSynced       State = "synced"
	StateStreaming    State = "streaming"
	StateDisconnected State = "disconnected"
)

// Socket is the transport a connection writes to. *websocket.Conn satisfies
// it; tests use an in-memory fake.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// textMessage mirrors websocket.TextMessage without importing gorilla here.
const textMessage = 1

// Conn is one attached sync client. Messages are queued on a bounded buffer;
// the write pump drains it, assigning the per-connection sequence number at
// write time so sequences are strictly monotonic in delivery order.
type Conn struct {
	ID    string
	Owner string

	hub    *Hub
	sock   Socket
	sendCh chan protocol.Message

	mu       sync.Mutex
	state    State
	seq      uint64
	drops    int
	closed   bool
	closedCh chan struct{}
}

// StateOf returns the current lifecycle state.
func (c *Conn) StateOf() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Closed is closed once the connection is fully torn down.
func (c *Conn) Closed() <-chan struct{} {
	return c.closedCh
}

// enqueue buffers a message for delivery. On a full buffer the oldest queued
// message is dropped to make room; a connection that keeps overflowing past
// the drop limit is disconnected as a slow consumer.
func (c *Conn) enqueue(msg protocol.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for {
		select {
		case c.sendCh <- msg:
			return
		default:
		}

		// Buffer full: shed the oldest message.
		select {
		case <-c.sendCh:
		default:
		}

		c.mu.Lock()
		c.drops++
		drops := c.drops
		c.mu.Unlock()

		c.hub.metrics.IncMessagesDropped()
		if drops > c.hub.cfg.MaxDrops {
			slog.Warn("disconnecting slow consumer",
				logfields.ConnID(c.ID),
				logfields.OwnerID(c.Owner),
				slog.Int("drops", drops))
			c.hub.drop(c, "slow consumer")
			return
		}
	}
}

// writePump drains the send buffer onto the socket and emits heartbeats.
// It owns all socket writes.
func (c *Conn) writePump(ctx context.Context) {
	heartbeat := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			c.hub.drop(c, "shutdown")
			return
		case <-c.closedCh:
			return
		case msg := <-c.sendCh:
			if !c.write(msg) {
				return
			}
		case <-heartbeat.C:
			if !c.write(protocol.NewHeartbeat()) {
				return
			}
		}
	}
}

func (c *Conn) write(msg protocol.Message) bool {
	c.mu.Lock()
	c.seq++
	msg.Sequence = c.seq
	c.mu.Unlock()

	raw, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("encode outbound message", logfields.ConnID(c.ID), logfields.Error(err))
		return true
	}

	_ = c.sock.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
	if err := c.sock.WriteMessage(textMessage, raw); err != nil {
		slog.Debug("sync write failed", logfields.ConnID(c.ID), logfields.Error(err))
		c.hub.drop(c, "write failure")
		return false
	}

	c.hub.metrics.IncMessagesSent(string(msg.Type))
	return true
}

// readPump consumes inbound frames. Clients mostly listen; inbound update
// envelopes are handed to the hub's ingest callback.
func (c *Conn) readPump(ctx context.Context) {
	for {
		_, raw, err := c.sock.ReadMessage()
		if err != nil {
			c.hub.drop(c, "client")
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			slog.Debug("rejecting inbound message", logfields.ConnID(c.ID), logfields.Error(err))
			continue
		}
		if msg.Type == protocol.TypeHeartbeat {
			continue
		}
		if c.hub.ingest != nil {
			c.hub.ingest(ctx, c, msg)
		}
	}
}
