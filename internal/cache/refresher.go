package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/contexthub/internal/store"
)

// Summary is a derived per-entity rollup kept cache-side for cheap reads and
// sync snapshots.
type Summary struct {
	Ref       store.Ref `json:"ref"`
	TaskCount int       `json:"task_count,omitempty"`
	// BranchCount is populated for project summaries.
	BranchCount int       `json:"branch_count,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Lister is the slice of the store the refresher needs.
type Lister interface {
	List(ctx context.Context, level store.Level, parentID string) ([]store.Record, error)
}

// RunTracker records completed refresh routines so repeated process restarts
// do not redo work that already completed this interval.
type RunTracker interface {
	MarkRefreshRun(ctx context.Context, name string) error
	RefreshRunAt(ctx context.Context, name string) (time.Time, bool, error)
}

// Refresher recomputes materialized summaries, either synchronously on a
// cascade hit (cheap, single entity) or in bulk on a gocron schedule.
type Refresher struct {
	cache    *Cache
	lister   Lister
	tracker  RunTracker
	ttl      time.Duration
	interval time.Duration

	scheduler gocron.Scheduler
}

// NewRefresher builds a refresher; Start wires the periodic job.
func NewRefresher(c *Cache, lister Lister, tracker RunTracker, ttl, interval time.Duration) (*Refresher, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	return &Refresher{
		cache:     c,
		lister:    lister,
		tracker:   tracker,
		ttl:       ttl,
		interval:  interval,
		scheduler: s,
	}, nil
}

// Start schedules the periodic bulk refresh and cache purge.
func (r *Refresher) Start(ctx context.Context) error {
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(r.interval),
		gocron.NewTask(func() {
			jobCtx, cancel := context.WithTimeout(context.Background(), r.interval)
			defer cancel()
			if err := r.RefreshAll(jobCtx); err != nil {
				slog.Warn("bulk summary refresh failed", "error", err)
			}
			r.cache.PurgeExpired()
		}),
		gocron.WithName("summary-refresh"),
	)
	if err != nil {
		return fmt.Errorf("schedule summary refresh: %w", err)
	}
	r.scheduler.Start()
	return nil
}

// Stop shuts the scheduler down.
func (r *Refresher) Stop() error {
	return r.scheduler.Shutdown()
}

// SummaryKey returns the cache key of an entity's summary.
func SummaryKey(ref store.Ref) string {
	return "summary:" + string(ref.Level) + ":" + ref.ID
}

// RefreshEntity recomputes one entity's summary synchronously. Used on the
// write path for cascade targets, where recomputation is cheap.
func (r *Refresher) RefreshEntity(ctx context.Context, ref store.Ref) (*Summary, error) {
	sum := &Summary{Ref: ref, UpdatedAt: time.Now()}
	switch ref.Level {
	case store.LevelBranch:
		tasks, err := r.lister.List(ctx, store.LevelTask, ref.ID)
		if err != nil {
			return nil, err
		}
		sum.TaskCount = len(tasks)

	case store.LevelProject:
		branches, err := r.lister.List(ctx, store.LevelBranch, ref.ID)
		if err != nil {
			return nil, err
		}
		sum.BranchCount = len(branches)
		for _, b := range branches {
			tasks, err := r.lister.List(ctx, store.LevelTask, b.ID)
			if err != nil {
				return nil, err
			}
			sum.TaskCount += len(tasks)
		}

	default:
		// Global and task entities carry no rollup summary.
		return nil, nil
	}

	r.cache.Set(SummaryKey(ref), sum, r.ttl)
	return sum, nil
}

// RefreshAll recomputes every branch and project summary and records the run.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	projects, err := r.lister.List(ctx, store.LevelProject, "")
	if err != nil {
		return err
	}
	for _, p := range projects {
		if _, err := r.RefreshEntity(ctx, store.Ref{Level: store.LevelProject, ID: p.ID}); err != nil {
			return err
		}
		branches, err := r.lister.List(ctx, store.LevelBranch, p.ID)
		if err != nil {
			return err
		}
		for _, b := range branches {
			if _, err := r.RefreshEntity(ctx, store.Ref{Level: store.LevelBranch, ID: b.ID}); err != nil {
				return err
			}
		}
	}
	if r.tracker != nil {
		if err := r.tracker.MarkRefreshRun(ctx, "summary-refresh"); err != nil {
			slog.Warn("record refresh run", "error", err)
		}
	}
	return nil
}

// Summaries returns the cached summaries visible to an owner's connections:
// every project and branch summary currently materialized. Missing entries
// are recomputed on demand so a fresh connection always gets a full snapshot.
func (r *Refresher) Summaries(ctx context.Context, owner string) ([]Summary, error) {
	projects, err := r.lister.List(ctx, store.LevelProject, "")
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, p := range projects {
		if p.OwnerID != owner {
			continue
		}
		ref := store.Ref{Level: store.LevelProject, ID: p.ID}
		sum, err := r.summaryFor(ctx, ref)
		if err != nil {
			return nil, err
		}
		if sum != nil {
			out = append(out, *sum)
		}
		branches, err := r.lister.List(ctx, store.LevelBranch, p.ID)
		if err != nil {
			return nil, err
		}
		for _, b := range branches {
			bref := store.Ref{Level: store.LevelBranch, ID: b.ID}
			bsum, err := r.summaryFor(ctx, bref)
			if err != nil {
				return nil, err
			}
			if bsum != nil {
				out = append(out, *bsum)
			}
		}
	}
	return out, nil
}

func (r *Refresher) summaryFor(ctx context.Context, ref store.Ref) (*Summary, error) {
	if v, ok := r.cache.Get(SummaryKey(ref)); ok {
		if sum, ok := v.(*Summary); ok {
			return sum, nil
		}
	}
	return r.RefreshEntity(ctx, ref)
}
