package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	ferrors "git.home.luguber.info/inful/contexthub/internal/foundation/errors"
)

// UnitOfWork is the single transactional scope for one store operation.
// Every read, write and cascade lookup inside an operation goes through the
// same UnitOfWork; there is deliberately no ambient fallback handle, so a
// sub-operation cannot silently commit against a scope nobody else touched.
type UnitOfWork struct {
	tx   *sql.Tx
	done bool
}

// Begin opens a unit of work. The caller must Commit or Rollback exactly once.
func (d *DB) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "begin transaction").Build()
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.done {
		return ferrors.InternalError("unit of work already finished").Build()
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "commit transaction").Build()
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit (no-op).
func (u *UnitOfWork) Rollback() {
	if u.done {
		return
	}
	u.done = true
	_ = u.tx.Rollback()
}

// getRecord loads one context record inside this scope.
func (u *UnitOfWork) getRecord(ctx context.Context, level Level, id string) (*Record, error) {
	row := u.tx.QueryRowContext(ctx,
		"SELECT id, parent_id, owner_id, data, created_at, updated_at FROM "+level.table()+" WHERE id = ?", id)
	return scanRecord(row, level)
}

func scanRecord(row *sql.Row, level Level) (*Record, error) {
	var (
		rec       Record
		parent    sql.NullString
		rawData   string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&rec.ID, &parent, &rec.OwnerID, &rawData, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "scan context record").
			WithContext("level", level.String()).
			Build()
	}
	rec.Level = level
	rec.ParentID = parent.String
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(rawData), &rec.Data); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "decode context data").
			WithContext("level", level.String()).
			WithContext("context_id", rec.ID).
			Build()
	}
	return &rec, nil
}

// insertRecord persists a new context record.
func (u *UnitOfWork) insertRecord(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "encode context data").Build()
	}
	var parent any
	if rec.ParentID != "" {
		parent = rec.ParentID
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err = u.tx.ExecContext(ctx,
		"INSERT INTO "+rec.Level.table()+" (id, parent_id, owner_id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, parent, rec.OwnerID, string(raw), now.Unix(), now.Unix())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "insert context record").
			WithContext("level", rec.Level.String()).
			WithContext("context_id", rec.ID).
			Build()
	}
	return nil
}

// updateRecord rewrites an existing record's document.
func (u *UnitOfWork) updateRecord(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec.Data)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "encode context data").Build()
	}
	rec.UpdatedAt = time.Now()
	res, err := u.tx.ExecContext(ctx,
		"UPDATE "+rec.Level.table()+" SET data = ?, updated_at = ? WHERE id = ?",
		string(raw), rec.UpdatedAt.Unix(), rec.ID)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "update context record").
			WithContext("level", rec.Level.String()).
			WithContext("context_id", rec.ID).
			Build()
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ferrors.NotFoundError("context vanished during update").
			WithContext("level", rec.Level.String()).
			WithContext("context_id", rec.ID).
			Build()
	}
	return nil
}

// deleteRecord removes one record and its log entries.
func (u *UnitOfWork) deleteRecord(ctx context.Context, level Level, id string) error {
	if _, err := u.tx.ExecContext(ctx, "DELETE FROM "+level.table()+" WHERE id = ?", id); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "delete context record").
			WithContext("level", level.String()).
			WithContext("context_id", id).
			Build()
	}
	if _, err := u.tx.ExecContext(ctx, "DELETE FROM context_log WHERE level = ? AND context_id = ?", level, id); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "delete context log entries").
			WithContext("level", level.String()).
			WithContext("context_id", id).
			Build()
	}
	return nil
}

// children lists direct child records of (level, id).
func (u *UnitOfWork) children(ctx context.Context, level Level, id string) ([]Ref, error) {
	child, ok := level.Child()
	if !ok {
		return nil, nil
	}
	rows, err := u.tx.QueryContext(ctx, "SELECT id FROM "+child.table()+" WHERE parent_id = ?", id)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "query children").
			WithContext("level", level.String()).
			WithContext("context_id", id).
			Build()
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "scan child id").Build()
		}
		refs = append(refs, Ref{Level: child, ID: cid})
	}
	return refs, rows.Err()
}

// listByParent lists records at level filtered by parent (all when parentID is empty).
func (u *UnitOfWork) listByParent(ctx context.Context, level Level, parentID string) ([]Record, error) {
	query := "SELECT id, parent_id, owner_id, data, created_at, updated_at FROM " + level.table()
	args := []any{}
	if parentID != "" {
		query += " WHERE parent_id = ?"
		args = append(args, parentID)
	}
	query += " ORDER BY id"

	rows, err := u.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "list contexts").
			WithContext("level", level.String()).
			Build()
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec       Record
			parent    sql.NullString
			rawData   string
			createdAt int64
			updatedAt int64
		)
		if err := rows.Scan(&rec.ID, &parent, &rec.OwnerID, &rawData, &createdAt, &updatedAt); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "scan context record").Build()
		}
		rec.Level = level
		rec.ParentID = parent.String
		rec.CreatedAt = time.Unix(createdAt, 0)
		rec.UpdatedAt = time.Unix(updatedAt, 0)
		if err := json.Unmarshal([]byte(rawData), &rec.Data); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "decode context data").Build()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// appendLog inserts the next entry of an append-only stream. The sequence is
// assigned inside the transaction; combined with the per-entity lock this
// guarantees no entry is ever overwritten.
func (u *UnitOfWork) appendLog(ctx context.Context, level Level, id string, kind LogKind, entry Document) (*LogEntry, error) {
	var maxSeq sql.NullInt64
	err := u.tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM context_log WHERE level = ? AND context_id = ? AND kind = ?",
		level, id, kind).Scan(&maxSeq)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "read log sequence").Build()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "encode log entry").Build()
	}
	le := &LogEntry{
		Level:     level,
		ContextID: id,
		Kind:      kind,
		Seq:       maxSeq.Int64 + 1,
		Entry:     entry,
		CreatedAt: time.Now(),
	}
	_, err = u.tx.ExecContext(ctx,
		"INSERT INTO context_log (level, context_id, kind, seq, entry, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		level, id, kind, le.Seq, string(raw), le.CreatedAt.Unix())
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "append log entry").
			WithContext("level", level.String()).
			WithContext("context_id", id).
			Build()
	}
	return le, nil
}

// logsFor returns a context's stream in insertion order.
func (u *UnitOfWork) logsFor(ctx context.Context, level Level, id string, kind LogKind) ([]LogEntry, error) {
	rows, err := u.tx.QueryContext(ctx,
		"SELECT seq, entry, created_at FROM context_log WHERE level = ? AND context_id = ? AND kind = ? ORDER BY seq",
		level, id, kind)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "query log entries").Build()
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		le := LogEntry{Level: level, ContextID: id, Kind: kind}
		var raw string
		var createdAt int64
		if err := rows.Scan(&le.Seq, &raw, &createdAt); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "scan log entry").Build()
		}
		le.CreatedAt = time.Unix(createdAt, 0)
		if err := json.Unmarshal([]byte(raw), &le.Entry); err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryStore, "decode log entry").Build()
		}
		out = append(out, le)
	}
	return out, rows.Err()
}

// insertDelegation records a delegation audit row.
func (u *UnitOfWork) insertDelegation(ctx context.Context, d *Delegation) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "encode delegation data").Build()
	}
	d.CreatedAt = time.Now()
	res, err := u.tx.ExecContext(ctx,
		"INSERT INTO delegations (from_level, from_id, to_level, to_id, reason, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		d.FromLevel, d.FromID, d.ToLevel, d.ToID, d.Reason, string(raw), d.CreatedAt.Unix())
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryStore, "insert delegation").Build()
	}
	if id, err := res.LastInsertId(); err == nil {
		d.ID = id
	}
	return nil
}
