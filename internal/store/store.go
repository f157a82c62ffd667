// Package store implements the four-level hierarchical context store:
// per-level persistence, inheritance resolution, delegation and the
// append-only insight/progress streams.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
)

// ResolutionCache is the derived-view cache consulted by Resolve. Entries are
// never the source of truth; force_refresh bypasses it entirely.
type ResolutionCache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	InvalidatePattern(prefix string) int
}

// Store is the context store service. All operations are safe for concurrent
// use; writes to the same (level, id) serialize through a keyed lock and run
// inside a single UnitOfWork under a bounded timeout.
type Store struct {
	db           *DB
	locks        *keyedMutex
	timeout      time.Duration
	cache        ResolutionCache
	cacheTTL     time.Duration
	metrics      metrics.Recorder
	onInvalidate func(ref Ref, evicted int)
}

// Option configures a Store.
type Option func(*Store)

// WithCache attaches a resolution cache.
func WithCache(c ResolutionCache, ttl time.Duration) Option {
	return func(s *Store) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithTimeout bounds each store operation.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithMetrics attaches an operation recorder for cache hit accounting.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Store) { s.metrics = r }
}

// WithInvalidationHook registers a callback invoked after a write evicts
// resolution cache entries, with the changed ref and the eviction count.
func WithInvalidationHook(fn func(ref Ref, evicted int)) Option {
	return func(s *Store) { s.onInvalidate = fn }
}

// New creates a Store on top of an open database.
func New(db *DB, opts ...Option) *Store {
	s := &Store{
		db:      db,
		locks:   newKeyedMutex(),
		timeout: 5 * time.Second,
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying database for refresh bookkeeping.
func (s *Store) DB() *DB { return s.db }

func validateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" || trimmed != id {
		return ferrors.ValidationError("empty or malformed identifier").
			WithContext("context_id", id).
			Build()
	}
	if len(id) > 256 {
		return ferrors.ValidationError("identifier too long").
			WithContext("context_id", id[:32] + "...").
			Build()
	}
	return nil
}

// write runs fn inside one locked, timeout-bounded unit of work. On timeout
// the transaction rolls back fully; no partial cascade effects survive.
func (s *Store) write(ctx context.Context, level Level, id string, fn func(context.Context, *UnitOfWork) error) error {
	unlock := s.locks.lock(level, id)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uow, err := s.db.Begin(opCtx)
	if err != nil {
		return s.mapTimeout(opCtx, err)
	}
	defer uow.Rollback()

	if err := fn(opCtx, uow); err != nil {
		return s.mapTimeout(opCtx, err)
	}
	if err := uow.Commit(); err != nil {
		return s.mapTimeout(opCtx, err)
	}
	return nil
}

// read runs fn inside a timeout-bounded read-only unit of work.
func (s *Store) read(ctx context.Context, fn func(context.Context, *UnitOfWork) error) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uow, err := s.db.Begin(opCtx)
	if err != nil {
		return s.mapTimeout(opCtx, err)
	}
	defer uow.Rollback()

	if err := fn(opCtx, uow); err != nil {
		return s.mapTimeout(opCtx, err)
	}
	return s.mapTimeout(opCtx, uow.Commit())
}

func (s *Store) mapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ferrors.TimeoutError("store operation exceeded its bound").
			WithContext("timeout", s.timeout.String()).
			Build()
	}
	return err
}

// CreateRequest carries the parameters of an explicit create.
type CreateRequest struct {
	Level    Level
	ID       string
	ParentID string
	OwnerID  string
	Data     Document
}

// Create persists a new context. Missing ancestors are auto-created with
// empty defaults rather than failing (bootstrap hierarchy).
func (s *Store) Create(ctx context.Context, req CreateRequest) (*Record, error) {
	if err := validateID(req.ID); err != nil {
		return nil, err
	}
	if req.OwnerID == "" {
		req.OwnerID = DefaultOwner
	}
	if req.Data == nil {
		req.Data = Document{}
	}

	var rec *Record
	err := s.write(ctx, req.Level, req.ID, func(ctx context.Context, uow *UnitOfWork) error {
		existing, err := uow.getRecord(ctx, req.Level, req.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ferrors.ConflictError("context already exists").
				WithContext("level", req.Level.String()).
				WithContext("context_id", req.ID).
				WithContext("action", "create").
				Build()
		}
		rec, err = s.createInScope(ctx, uow, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFor(req.Level, req.ID)
	return rec, nil
}

// createInScope inserts the record after bootstrapping its ancestor chain,
// all inside the caller's unit of work.
func (s *Store) createInScope(ctx context.Context, uow *UnitOfWork, req CreateRequest) (*Record, error) {
	parentID, err := s.ensureAncestors(ctx, uow, req.Level, req.ParentID, req.OwnerID)
	if err != nil {
		return nil, err
	}

	data := req.Data
	if req.Level == LevelProject {
		data = NormalizeExtensions(data, knownProjectFields)
	}

	rec := &Record{
		Level:    req.Level,
		ID:       req.ID,
		ParentID: parentID,
		OwnerID:  req.OwnerID,
		Data:     data,
	}
	if req.Level == LevelGlobal {
		// The global context is keyed by owner: the record id IS the owner
		// key, one singleton per user, never shared.
		if rec.ID == "" {
			rec.ID = req.OwnerID
		}
		rec.OwnerID = rec.ID
		rec.ParentID = ""
	}
	if err := uow.insertRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// knownProjectFields are the classified project payload fields; anything else
// under local_standards lands in the typed extensions bag.
var knownProjectFields = map[string]struct{}{
	"code_style":   {},
	"review_rules": {},
	"ci":           {},
	"tooling":      {},
}

// ensureAncestors guarantees the parent chain exists, creating empty records
// where the hierarchy is being bootstrapped. It returns the effective parent
// id for the new record.
func (s *Store) ensureAncestors(ctx context.Context, uow *UnitOfWork, level Level, parentID, owner string) (string, error) {
	switch level {
	case LevelGlobal:
		return "", nil

	case LevelProject:
		// A project's parent is always its owner's global context.
		if err := s.ensureGlobal(ctx, uow, owner); err != nil {
			return "", err
		}
		return owner, nil

	case LevelBranch:
		if parentID == "" {
			parentID = DefaultProjectID
		}
		if err := validateID(parentID); err != nil {
			return "", err
		}
		parent, err := uow.getRecord(ctx, LevelProject, parentID)
		if err != nil {
			return "", err
		}
		if parent == nil {
			if _, err := s.createInScope(ctx, uow, CreateRequest{
				Level: LevelProject, ID: parentID, OwnerID: owner, Data: Document{},
			}); err != nil {
				return "", err
			}
		}
		return parentID, nil

	case LevelTask:
		if parentID == "" {
			return "", ferrors.ValidationError("task requires a branch parent").
				WithContext("action", "create").
				Build()
		}
		if err := validateID(parentID); err != nil {
			return "", err
		}
		parent, err := uow.getRecord(ctx, LevelBranch, parentID)
		if err != nil {
			return "", err
		}
		if parent == nil {
			// Bootstrap the branch under the owner's default project.
			if _, err := s.createInScope(ctx, uow, CreateRequest{
				Level: LevelBranch, ID: parentID, OwnerID: owner, Data: Document{},
			}); err != nil {
				return "", err
			}
		}
		return parentID, nil
	}
	return "", ferrors.ValidationError("malformed level").WithContext("level", level.String()).Build()
}

// ensureGlobal creates the per-owner global context on first access.
func (s *Store) ensureGlobal(ctx context.Context, uow *UnitOfWork, owner string) error {
	if err := validateID(owner); err != nil {
		return err
	}
	rec, err := uow.getRecord(ctx, LevelGlobal, owner)
	if err != nil {
		return err
	}
	if rec != nil {
		return nil
	}
	return uow.insertRecord(ctx, &Record{
		Level:   LevelGlobal,
		ID:      owner,
		OwnerID: owner,
		Data:    Document{},
	})
}

// Get returns one context record. With includeInherited it returns the
// inheritance-resolved view instead of the raw record's data.
func (s *Store) Get(ctx context.Context, level Level, id string, includeInherited bool) (*Record, *Resolved, error) {
	if err := validateID(id); err != nil {
		return nil, nil, err
	}
	var (
		rec      *Record
		resolved *Resolved
	)
	err := s.read(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		rec, err = uow.getRecord(ctx, level, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ferrors.NotFoundError("context not found").
				WithContext("level", level.String()).
				WithContext("context_id", id).
				WithContext("action", "get").
				Build()
		}
		if includeInherited {
			resolved, err = s.resolveInScope(ctx, uow, level, id)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return rec, resolved, nil
}

// Update applies a field-level write. With merge the new data deep-merges
// over the existing document (last writer wins per field); without it the
// document is replaced. A missing context is created on first write.
func (s *Store) Update(ctx context.Context, level Level, id string, data Document, merge bool) (*Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if data == nil {
		data = Document{}
	}

	var rec *Record
	err := s.write(ctx, level, id, func(ctx context.Context, uow *UnitOfWork) error {
		existing, err := uow.getRecord(ctx, level, id)
		if err != nil {
			return err
		}
		if existing == nil {
			owner := DefaultOwner
			if level == LevelGlobal {
				owner = id
			}
			rec, err = s.createInScope(ctx, uow, CreateRequest{
				Level: level, ID: id, OwnerID: owner, Data: data,
			})
			return err
		}

		next := data
		if level == LevelProject {
			next = NormalizeExtensions(next, knownProjectFields)
		}
		if merge {
			existing.Data = DeepMerge(existing.Data, next)
		} else {
			existing.Data = next.Clone()
		}
		if err := uow.updateRecord(ctx, existing); err != nil {
			return err
		}
		rec = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFor(level, id)
	return rec, nil
}

// DeleteResult reports what a delete removed. ParentID is the deleted
// root's parent, so callers can recompute the surviving ancestor's
// aggregates after the subtree is gone.
type DeleteResult struct {
	Deleted  []Ref  `json:"deleted"`
	ParentID string `json:"parent_id,omitempty"`
}

// Delete removes a context. Without cascade it is rejected with a conflict
// when children exist; with cascade, children and their append-only logs are
// removed depth-first.
func (s *Store) Delete(ctx context.Context, level Level, id string, cascade bool) (*DeleteResult, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	result := &DeleteResult{}
	err := s.write(ctx, level, id, func(ctx context.Context, uow *UnitOfWork) error {
		rec, err := uow.getRecord(ctx, level, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return ferrors.NotFoundError("context not found").
				WithContext("level", level.String()).
				WithContext("context_id", id).
				WithContext("action", "delete").
				Build()
		}
		result.ParentID = rec.ParentID

		children, err := uow.children(ctx, level, id)
		if err != nil {
			return err
		}
		if len(children) > 0 && !cascade {
			return ferrors.ConflictError("delete blocked by existing children").
				WithContext("level", level.String()).
				WithContext("context_id", id).
				WithContext("children", len(children)).
				WithContext("action", "delete").
				Build()
		}
		return s.deleteTree(ctx, uow, level, id, result)
	})
	if err != nil {
		return nil, err
	}
	for _, ref := range result.Deleted {
		s.invalidateFor(ref.Level, ref.ID)
	}
	return result, nil
}

// deleteTree removes the subtree rooted at (level, id) depth-first. Bounded
// by the four fixed levels; parent pointers are acyclic.
func (s *Store) deleteTree(ctx context.Context, uow *UnitOfWork, level Level, id string, result *DeleteResult) error {
	children, err := uow.children(ctx, level, id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.deleteTree(ctx, uow, child.Level, child.ID, result); err != nil {
			return err
		}
	}
	if err := uow.deleteRecord(ctx, level, id); err != nil {
		return err
	}
	result.Deleted = append(result.Deleted, Ref{Level: level, ID: id})
	return nil
}

// List returns contexts at a level, optionally filtered by parent.
func (s *Store) List(ctx context.Context, level Level, parentID string) ([]Record, error) {
	var out []Record
	err := s.read(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		out, err = uow.listByParent(ctx, level, parentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// invalidateFor evicts the resolution cache entries a write at (level, id)
// can stale: the entity's own resolution plus every level below it, since
// descendants inherit the changed fields.
func (s *Store) invalidateFor(level Level, id string) {
	if s.cache == nil {
		return
	}
	evicted := s.cache.InvalidatePattern("resolve:" + string(level) + ":" + id)
	for below, ok := level.Child(); ok; below, ok = below.Child() {
		evicted += s.cache.InvalidatePattern("resolve:" + string(below) + ":")
	}
	if s.onInvalidate != nil && evicted > 0 {
		s.onInvalidate(Ref{Level: level, ID: id}, evicted)
	}
}
