// Package synchub fans applied changes out to attached websocket clients.
// Each connection gets a full snapshot on attach, then a strictly ordered
// stream of update and bulk messages with per-connection sequence numbers.
package synchub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/contexthub/internal/events"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
)

// Config bounds connection behavior.
type Config struct {
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// HeartbeatInterval paces keepalive frames on idle connections.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration
	// MaxDrops disconnects a consumer after this many shed messages.
	MaxDrops int
}

// Snapshotter produces the state snapshot sent to a freshly attached
// connection before it starts streaming.
type Snapshotter interface {
	Snapshot(ctx context.Context, owner string) (any, error)
}

// IngestFunc handles update envelopes received from a client.
type IngestFunc func(ctx context.Context, c *Conn, msg protocol.Message)

// Hub tracks attached connections, keyed by owner for routing.
type Hub struct {
	cfg     Config
	snap    Snapshotter
	ingest  IngestFunc
	bus     *events.Bus
	metrics metrics.Recorder

	mu       sync.RWMutex
	byOwner  map[string]map[string]*Conn
	total    int
	shutdown bool
}

func New(cfg Config, snap Snapshotter, ingest IngestFunc, bus *events.Bus, rec metrics.Recorder) (*Hub, error) {
	if cfg.SendBuffer <= 0 {
		return nil, ferrors.ValidationError("send buffer must be > 0").Build()
	}
	if cfg.HeartbeatInterval <= 0 {
		return nil, ferrors.ValidationError("heartbeat interval must be > 0").Build()
	}
	if cfg.WriteTimeout <= 0 {
		return nil, ferrors.ValidationError("write timeout must be > 0").Build()
	}
	if cfg.MaxDrops <= 0 {
		cfg.MaxDrops = 10
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Hub{
		cfg:     cfg,
		snap:    snap,
		ingest:  ingest,
		bus:     bus,
		metrics: rec,
		byOwner: make(map[string]map[string]*Conn),
	}, nil
}

// Attach registers a socket for an owner, sends the sync snapshot, and
// starts the pumps. It returns once the connection is streaming.
func (h *Hub) Attach(ctx context.Context, owner string, sock Socket) (*Conn, error) {
	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		return nil, ferrors.SyncError("hub is shutting down").Build()
	}
	c := &Conn{
		ID:       uuid.NewString(),
		Owner:    owner,
		hub:      h,
		sock:     sock,
		sendCh:   make(chan protocol.Message, h.cfg.SendBuffer),
		state:    StateConnecting,
		closedCh: make(chan struct{}),
	}
	if h.byOwner[owner] == nil {
		h.byOwner[owner] = make(map[string]*Conn)
	}
	h.byOwner[owner][c.ID] = c
	h.total++
	total := h.total
	h.mu.Unlock()

	h.metrics.SetConnections(total)

	// Snapshot goes through the same queue as the stream so its sequence
	// number is 1 and every later message orders after it.
	if h.snap != nil {
		snapshot, err := h.snap.Snapshot(ctx, owner)
		if err != nil {
			h.drop(c, "snapshot failure")
			return nil, ferrors.WrapError(err, ferrors.CategorySync, "build sync snapshot").
				WithContext("owner", owner).Build()
		}
		c.enqueue(protocol.NewSync(snapshot, protocol.Metadata{Owner: owner}))
	}
	c.setState(StateSynced)

	go c.writePump(ctx)
	go c.readPump(ctx)
	c.setState(StateStreaming)

	slog.Info("sync connection attached",
		logfields.ConnID(c.ID), logfields.OwnerID(owner))
	return c, nil
}

// Deliver routes a message to every connection of an owner. It satisfies
// the batch sink interface, so both delivery lanes end here.
func (h *Hub) Deliver(owner string, msg protocol.Message) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.byOwner[owner]))
	for _, c := range h.byOwner[owner] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(msg)
	}
}

// ConnCount reports attached connections, optionally per owner.
func (h *Hub) ConnCount(owner string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if owner == "" {
		return h.total
	}
	return len(h.byOwner[owner])
}

// drop tears a connection down exactly once and records why.
func (h *Hub) drop(c *Conn, reason string) {
	h.mu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		h.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	close(c.closedCh)
	c.mu.Unlock()

	if owned := h.byOwner[c.Owner]; owned != nil {
		delete(owned, c.ID)
		if len(owned) == 0 {
			delete(h.byOwner, c.Owner)
		}
	}
	h.total--
	total := h.total
	h.mu.Unlock()

	_ = c.sock.Close()
	h.metrics.SetConnections(total)

	slog.Info("sync connection closed",
		logfields.ConnID(c.ID), logfields.OwnerID(c.Owner), slog.String("reason", reason))

	if h.bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.bus.Publish(ctx, events.ConnectionClosed{
			ConnID: c.ID,
			Owner:  c.Owner,
			Reason: reason,
			At:     time.Now(),
		})
	}
}

// Shutdown disconnects every connection and refuses new attaches.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.shutdown = true
	var all []*Conn
	for _, owned := range h.byOwner {
		for _, c := range owned {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		h.drop(c, "shutdown")
	}
}
