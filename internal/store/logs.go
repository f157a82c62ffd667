package store

import (
	"context"
	"encoding/json"
	"time"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// AddInsight appends one entry to a context's insight stream. Entries are
// monotonically sequenced and never overwritten, even under concurrent
// writers: per-entity locking plus in-transaction sequencing guarantees
// every call lands as a distinct row.
func (s *Store) AddInsight(ctx context.Context, level Level, id string, entry Document) (*LogEntry, error) {
	return s.appendLogEntry(ctx, level, id, LogInsight, entry)
}

// AddProgress appends one entry to a context's progress stream.
func (s *Store) AddProgress(ctx context.Context, level Level, id string, entry Document) (*LogEntry, error) {
	return s.appendLogEntry(ctx, level, id, LogProgress, entry)
}

func (s *Store) appendLogEntry(ctx context.Context, level Level, id string, kind LogKind, entry Document) (*LogEntry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if len(entry) == 0 {
		return nil, ferrors.ValidationError("log entry is empty").
			WithContext("level", level.String()).
			WithContext("context_id", id).
			Build()
	}

	var le *LogEntry
	err := s.write(ctx, level, id, func(ctx context.Context, uow *UnitOfWork) error {
		rec, err := uow.getRecord(ctx, level, id)
		if err != nil {
			return err
		}
		if rec == nil {
			// Logs are writes too: bootstrap the context on first write.
			owner := DefaultOwner
			if level == LevelGlobal {
				owner = id
			}
			if _, err := s.createInScope(ctx, uow, CreateRequest{
				Level: level, ID: id, OwnerID: owner, Data: Document{},
			}); err != nil {
				return err
			}
		}
		le, err = uow.appendLog(ctx, level, id, kind, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFor(level, id)
	return le, nil
}

// Logs returns one stream of a context in insertion order.
func (s *Store) Logs(ctx context.Context, level Level, id string, kind LogKind) ([]LogEntry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	var out []LogEntry
	err := s.read(ctx, func(ctx context.Context, uow *UnitOfWork) error {
		var err error
		out, err = uow.logsFor(ctx, level, id, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func decodeDocument(raw string, into *Document) error {
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "decode document").Build()
	}
	return nil
}

func unixTime(ts int64) time.Time { return time.Unix(ts, 0) }
