// Package daemon wires the context store, cascade calculator, cache
// refresher, batcher, sync hub, and control API into one process.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/contexthub/internal/announce"
	"git.home.luguber.info/inful/contexthub/internal/batch"
	"git.home.luguber.info/inful/contexthub/internal/cache"
	"git.home.luguber.info/inful/contexthub/internal/cascade"
	"git.home.luguber.info/inful/contexthub/internal/config"
	"git.home.luguber.info/inful/contexthub/internal/events"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
	"git.home.luguber.info/inful/contexthub/internal/store"
	"git.home.luguber.info/inful/contexthub/internal/synchub"
)

// Daemon owns every long-lived component.
type Daemon struct {
	cfg *config.Config

	db        *store.DB
	store     *store.Store
	cache     *cache.Cache
	refresher *cache.Refresher
	calc      *cascade.Calculator
	bus       *events.Bus
	hub       *synchub.Hub
	batcher   *batch.Processor
	engine    *Engine
	announcer *announce.Announcer
	metrics   metrics.Recorder

	started time.Time
}

// New assembles the daemon from configuration. Nothing runs until Run.
func New(cfg *config.Config, rec metrics.Recorder) (*Daemon, error) {
	if cfg == nil {
		return nil, ferrors.ConfigError("configuration is required").Build()
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}

	db, err := store.OpenDB(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	c := cache.New()
	bus := events.NewBus()
	st := store.New(db,
		store.WithTimeout(cfg.Store.OperationTimeout),
		store.WithCache(c, cfg.Cache.TTL),
		store.WithMetrics(rec),
		store.WithInvalidationHook(func(ref store.Ref, evicted int) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = bus.Publish(ctx, events.CacheInvalidated{Ref: ref, Evicted: evicted, At: time.Now()})
		}))

	refresher, err := cache.NewRefresher(c, st, db, cfg.Cache.TTL, cfg.Cache.RefreshInterval)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		db:        db,
		store:     st,
		cache:     c,
		refresher: refresher,
		calc:      cascade.New(),
		bus:       bus,
		metrics:   rec,
	}

	d.hub, err = synchub.New(synchub.Config{
		SendBuffer:        cfg.Sync.SendBuffer,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		WriteTimeout:      cfg.Sync.WriteTimeout,
		MaxDrops:          cfg.Sync.MaxDrops,
	}, d, d.ingest, bus, rec)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d.batcher, err = batch.NewProcessor(batch.Config{
		Window:  cfg.Batch.Window,
		MaxSize: cfg.Batch.MaxSize,
	}, d.hub, bus)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	d.announcer, err = announce.New(&cfg.NATS)
	if err != nil {
		// The broker is an optional egress; a failed connect degrades to
		// local-only delivery instead of refusing to start.
		slog.Warn("change announcements unavailable", logfields.Error(err))
		d.announcer = nil
	}

	d.engine = NewEngine(st, d.calc, refresher, d.batcher, bus, d.announcer, rec)
	return d, nil
}

// Engine exposes the operation entry point for the HTTP layer.
func (d *Daemon) Engine() *Engine { return d.engine }

// Hub exposes the sync hub for the websocket endpoint.
func (d *Daemon) Hub() *synchub.Hub { return d.hub }

// Store exposes the underlying store for CLI subcommands.
func (d *Daemon) Store() *store.Store { return d.store }

// StartedAt reports when Run began, for health output.
func (d *Daemon) StartedAt() time.Time { return d.started }

// Run starts the background loops and blocks until the context is canceled,
// then tears everything down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batchDone := make(chan struct{})
	go func() {
		defer close(batchDone)
		if err := d.batcher.Run(runCtx); err != nil {
			slog.Error("batch processor stopped", logfields.Error(err))
		}
	}()
	<-d.batcher.Ready()

	if err := d.refresher.Start(runCtx); err != nil {
		cancel()
		<-batchDone
		return err
	}

	// Observe batch flushes for metrics without coupling the batcher to the
	// recorder.
	flushCh, unsub := events.Subscribe[events.BatchFlushed](d.bus, 16)
	go func() {
		for evt := range flushCh {
			d.metrics.ObserveBatchSize(evt.Size)
			d.metrics.ObserveBatchWindow(evt.Elapsed)
		}
	}()

	slog.Info("context hub running",
		slog.String("store", d.cfg.Store.Path),
		slog.String("addr", d.cfg.HTTP.Addr))

	<-ctx.Done()
	slog.Info("shutting down")

	d.hub.Shutdown()
	cancel()
	<-batchDone
	unsub()

	if err := d.refresher.Stop(); err != nil {
		slog.Warn("stop refresher", logfields.Error(err))
	}
	d.announcer.Close()
	d.bus.Close()
	return d.db.Close()
}

// Snapshot implements the hub's snapshot source: the owner's full context
// listing plus materialized summaries.
func (d *Daemon) Snapshot(ctx context.Context, owner string) (any, error) {
	if owner == "" {
		owner = store.DefaultOwner
	}
	projects, err := d.store.List(ctx, store.LevelProject, "")
	if err != nil {
		return nil, err
	}
	owned := make([]store.Record, 0, len(projects))
	for _, p := range projects {
		if p.OwnerID == owner {
			owned = append(owned, p)
		}
	}
	summaries, err := d.refresher.Summaries(ctx, owner)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"owner":     owner,
		"projects":  owned,
		"summaries": summaries,
	}, nil
}

// ingest applies update envelopes received over a sync connection. Errors
// go back to the sender as sync error messages; other connections only ever
// see committed changes.
func (d *Daemon) ingest(ctx context.Context, c *synchub.Conn, msg protocol.Message) {
	if msg.Type != protocol.TypeUpdate || msg.Payload.Data == nil {
		return
	}
	level, id, ok := splitEntity(msg.Payload.Entity)
	if !ok {
		slog.Debug("ignoring update with malformed entity",
			logfields.ConnID(c.ID), slog.String("entity", msg.Payload.Entity))
		return
	}

	data, _ := msg.Payload.Data.Primary.(map[string]any)
	req := Request{
		Action: msg.Payload.Action,
		Level:  level,
		ID:     id,
		Owner:  c.Owner,
		Data:   store.Document(data),
		Source: msg.Metadata.Source,
	}
	if _, err := d.engine.Apply(ctx, req); err != nil {
		slog.Warn("inbound update rejected",
			logfields.ConnID(c.ID),
			logfields.Action(req.Action),
			logfields.Error(err))
	}
}

func splitEntity(entity string) (level, id string, ok bool) {
	for i := 0; i < len(entity); i++ {
		if entity[i] == ':' {
			return entity[:i], entity[i+1:], i > 0 && i < len(entity)-1
		}
	}
	return "", "", false
}
