package store

import (
	"context"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// Delegate copies a subset of a child context's data upward to an ancestor
// level, recording the delegation with its reason for audit. The target is
// located by walking the child's parent chain; the payload deep-merges into
// the target's document.
func (s *Store) Delegate(ctx context.Context, level Level, id string, targetLevel Level, data Document, reason string) (*Record, *Delegation, error) {
	if err := validateID(id); err != nil {
		return nil, nil, err
	}
	if !targetLevel.Above(level) {
		return nil, nil, ferrors.ValidationError("delegation target must be an ancestor level").
			WithContext("level", level.String()).
			WithContext("target_level", targetLevel.String()).
			WithContext("action", "delegate").
			Build()
	}
	if len(data) == 0 {
		return nil, nil, ferrors.ValidationError("delegation payload is empty").
			WithContext("action", "delegate").
			Build()
	}

	var (
		target     *Record
		delegation *Delegation
	)
	err := s.write(ctx, level, id, func(ctx context.Context, uow *UnitOfWork) error {
		chain, err := s.chainFor(ctx, uow, level, id)
		if err != nil {
			return err
		}
		for _, rec := range chain {
			if rec.Level == targetLevel {
				target = rec
				break
			}
		}
		if target == nil {
			return ferrors.NotFoundError("ancestor at target level not found").
				WithContext("level", level.String()).
				WithContext("context_id", id).
				WithContext("target_level", targetLevel.String()).
				WithContext("action", "delegate").
				Build()
		}

		target.Data = DeepMerge(target.Data, data)
		if err := uow.updateRecord(ctx, target); err != nil {
			return err
		}

		delegation = &Delegation{
			FromLevel: level,
			FromID:    id,
			ToLevel:   targetLevel,
			ToID:      target.ID,
			Reason:    reason,
			Data:      data.Clone(),
		}
		return uow.insertDelegation(ctx, delegation)
	})
	if err != nil {
		return nil, nil, err
	}
	s.invalidateFor(targetLevel, target.ID)
	return target, delegation, nil
}

// Delegations returns the audit trail of delegations originating at (level, id).
func (s *Store) Delegations(ctx context.Context, level Level, id string) ([]Delegation, error) {
	var out []Delegation
	err := s.read(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		rows, err := uow.tx.QueryContext(ctx,
			"SELECT id, from_level, from_id, to_level, to_id, reason, data, created_at FROM delegations WHERE from_level = ? AND from_id = ? ORDER BY id",
			level, id)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryStore, "query delegations").Build()
		}
		defer rows.Close()

		for rows.Next() {
			var (
				d         Delegation
				raw       string
				createdAt int64
			)
			if err := rows.Scan(&d.ID, &d.FromLevel, &d.FromID, &d.ToLevel, &d.ToID, &d.Reason, &raw, &createdAt); err != nil {
				return ferrors.WrapError(err, ferrors.CategoryStore, "scan delegation").Build()
			}
			if err := decodeDocument(raw, &d.Data); err != nil {
				return err
			}
			d.CreatedAt = unixTime(createdAt)
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
