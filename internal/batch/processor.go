// Package batch coalesces automation-origin changes into windowed bulk
// messages while letting human-origin changes through immediately.
package batch

import (
	"context"
	"sync"
	"time"

	"git.home.luguber.info/inful/contexthub/internal/events"
	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/protocol"
)

// Sink receives finished messages. The sync hub implements it.
type Sink interface {
	Deliver(owner string, msg protocol.Message)
}

// Config bounds a batching window.
type Config struct {
	// Window is the maximum time a change waits before the batch flushes.
	Window time.Duration
	// MaxSize flushes the batch early once this many changes are buffered.
	MaxSize int
}

// bucket accumulates one owner's pending changes. Changes are deduplicated
// by entity: a later change to the same entity replaces the earlier one in
// place, keeping its original position in the batch.
type bucket struct {
	changes  []protocol.Payload
	byEntity map[string]int
	openedAt time.Time
	deadline time.Time
}

// Processor implements the two delivery lanes. Submit routes by source:
// user changes go straight to the sink as single updates, automation
// changes collect into per-owner buckets flushed on a window or size bound.
type Processor struct {
	cfg  Config
	sink Sink
	bus  *events.Bus

	mu      sync.Mutex
	buckets map[string]*bucket

	kick chan struct{}

	readyOnce sync.Once
	ready     chan struct{}
}

func NewProcessor(cfg Config, sink Sink, bus *events.Bus) (*Processor, error) {
	if sink == nil {
		return nil, ferrors.ValidationError("sink is required").Build()
	}
	if cfg.Window <= 0 {
		return nil, ferrors.ValidationError("batch window must be > 0").Build()
	}
	if cfg.MaxSize <= 0 {
		return nil, ferrors.ValidationError("batch max size must be > 0").Build()
	}
	return &Processor{
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		buckets: make(map[string]*bucket),
		kick:    make(chan struct{}, 1),
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once Run's loop is armed. Intended for tests.
func (p *Processor) Ready() <-chan struct{} {
	return p.ready
}

// Submit routes one change. Safe for concurrent use.
func (p *Processor) Submit(owner string, payload protocol.Payload, source protocol.Source) {
	if source != protocol.SourceAutomation {
		msg := protocol.NewUpdate(payload.Entity, payload.Action, payload.Data,
			protocol.Metadata{Source: source, Owner: owner})
		p.sink.Deliver(owner, msg)
		return
	}

	p.mu.Lock()
	b := p.buckets[owner]
	if b == nil {
		now := time.Now()
		b = &bucket{
			byEntity: make(map[string]int),
			openedAt: now,
			deadline: now.Add(p.cfg.Window),
		}
		p.buckets[owner] = b
	}
	if i, seen := b.byEntity[payload.Entity]; seen {
		b.changes[i] = payload
	} else {
		b.byEntity[payload.Entity] = len(b.changes)
		b.changes = append(b.changes, payload)
	}
	p.mu.Unlock()

	// Wake the loop so it can flush a full bucket or re-arm the window timer.
	p.signal()
}

func (p *Processor) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run drives window expiry. It owns the flush timer; Submit only signals.
func (p *Processor) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	var timerC <-chan time.Time

	resetTimer := func(after time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if after < 0 {
			after = 0
		}
		timer.Reset(after)
		timerC = timer.C
	}

	p.readyOnce.Do(func() { close(p.ready) })

	for {
		p.flushDue(ctx, time.Now())

		next, any := p.nextDeadline()
		if any {
			resetTimer(time.Until(next))
		} else {
			timerC = nil
		}

		select {
		case <-ctx.Done():
			p.flushAll(ctx)
			return nil
		case <-p.kick:
		case <-timerC:
		}
	}
}

func (p *Processor) nextDeadline() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var next time.Time
	for _, b := range p.buckets {
		if next.IsZero() || b.deadline.Before(next) {
			next = b.deadline
		}
	}
	return next, !next.IsZero()
}

// flushDue flushes every bucket past its deadline or over the size bound.
func (p *Processor) flushDue(ctx context.Context, now time.Time) {
	p.mu.Lock()
	var due []ownedBatch
	for owner, b := range p.buckets {
		if !now.Before(b.deadline) || len(b.changes) >= p.cfg.MaxSize {
			due = append(due, ownedBatch{owner: owner, changes: b.changes, openedAt: b.openedAt})
			delete(p.buckets, owner)
		}
	}
	p.mu.Unlock()

	for _, ob := range due {
		p.emit(ctx, ob)
	}
}

func (p *Processor) flushAll(ctx context.Context) {
	p.mu.Lock()
	var all []ownedBatch
	for owner, b := range p.buckets {
		all = append(all, ownedBatch{owner: owner, changes: b.changes, openedAt: b.openedAt})
		delete(p.buckets, owner)
	}
	p.mu.Unlock()

	for _, ob := range all {
		p.emit(ctx, ob)
	}
}

type ownedBatch struct {
	owner    string
	changes  []protocol.Payload
	openedAt time.Time
}

func (p *Processor) emit(ctx context.Context, ob ownedBatch) {
	if len(ob.changes) == 0 {
		return
	}
	msg := protocol.NewBulk(ob.changes, protocol.Metadata{
		Source: protocol.SourceAutomation,
		Owner:  ob.owner,
	})
	p.sink.Deliver(ob.owner, msg)

	if p.bus != nil {
		_ = p.bus.Publish(ctx, events.BatchFlushed{
			Owner:   ob.owner,
			Size:    len(ob.changes),
			Elapsed: time.Since(ob.openedAt),
			At:      time.Now(),
		})
	}
}
