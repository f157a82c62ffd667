package store

import (
	"context"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// Resolve computes the inheritance-merged view of a context: the document is
// the root-to-leaf deep merge of the ancestor chain (child scalar fields
// override), and the insight/progress streams concatenate root-to-leaf,
// oldest-first within each context. forceRefresh bypasses the cache and
// always queries the store directly.
func (s *Store) Resolve(ctx context.Context, level Level, id string, forceRefresh bool) (*Resolved, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	cacheKey := "resolve:" + string(level) + ":" + id
	if !forceRefresh && s.cache != nil {
		if v, ok := s.cache.Get(cacheKey); ok {
			if resolved, ok := v.(*Resolved); ok {
				s.metrics.IncCacheResult(true)
				return resolved, nil
			}
		}
		s.metrics.IncCacheResult(false)
	}

	var resolved *Resolved
	err := s.read(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		resolved, err = s.resolveInScope(ctx, uow, level, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, resolved, s.cacheTTL)
	}
	return resolved, nil
}

// resolveInScope walks the chain inside an existing unit of work so callers
// that already hold a transactional scope reuse the same handle.
func (s *Store) resolveInScope(ctx context.Context, uow *UnitOfWork, level Level, id string) (*Resolved, error) {
	chain, err := s.chainFor(ctx, uow, level, id)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{Level: level, ID: id, Data: Document{}}
	for _, rec := range chain {
		resolved.Chain = append(resolved.Chain, Ref{Level: rec.Level, ID: rec.ID})
		resolved.Data = DeepMerge(resolved.Data, rec.Data)

		insights, err := uow.logsFor(ctx, rec.Level, rec.ID, LogInsight)
		if err != nil {
			return nil, err
		}
		resolved.Insights = append(resolved.Insights, insights...)

		progress, err := uow.logsFor(ctx, rec.Level, rec.ID, LogProgress)
		if err != nil {
			return nil, err
		}
		resolved.Progress = append(resolved.Progress, progress...)
	}
	return resolved, nil
}

// chainFor returns the ancestor chain root-to-leaf ending at (level, id).
// Resolving a never-written global context bootstraps it, since the global
// context exists per owner on first access.
func (s *Store) chainFor(ctx context.Context, uow *UnitOfWork, level Level, id string) ([]*Record, error) {
	rec, err := uow.getRecord(ctx, level, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if level == LevelGlobal {
			if err := s.ensureGlobal(ctx, uow, id); err != nil {
				return nil, err
			}
			rec, err = uow.getRecord(ctx, level, id)
			if err != nil {
				return nil, err
			}
		}
		if rec == nil {
			return nil, ferrors.NotFoundError("context not found").
				WithContext("level", level.String()).
				WithContext("context_id", id).
				WithContext("action", "resolve").
				Build()
		}
	}

	// Walk upward, then reverse into root-to-leaf order. The chain is bounded
	// by the four fixed levels.
	upward := []*Record{rec}
	current := rec
	for {
		parentLevel, ok := current.Level.Parent()
		if !ok || current.ParentID == "" {
			break
		}
		parent, err := uow.getRecord(ctx, parentLevel, current.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			// Dangling parent pointer: resolution is a read path, so treat the
			// missing ancestor as empty rather than failing the whole view.
			break
		}
		upward = append(upward, parent)
		current = parent
	}

	chain := make([]*Record, 0, len(upward))
	for i := len(upward) - 1; i >= 0; i-- {
		chain = append(chain, upward[i])
	}
	return chain, nil
}
