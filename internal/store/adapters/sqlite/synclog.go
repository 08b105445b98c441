package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

type logStore struct{ s *Store }

func (l *logStore) FetchPending(ctx context.Context, table string, afterID int64, limit int) ([]repository.SyncLogEntry, error) {
	q := l.s.db.From("sync_log").
		Select("log_id", "table_name", "record_id", "operation", "old_data", "new_data",
			"occurred_at", "status", "error_message", "processed_at", "attempts").
		Where(goqu.C("log_id").Gt(afterID)).
		Order(goqu.C("log_id").Asc())
	if table != "" {
		q = q.Where(goqu.C("table_name").Eq(table))
	}
	if limit > 0 {
		q = q.Limit(uint(limit))
	}
	return l.query(ctx, q)
}

func (l *logStore) List(ctx context.Context, table, status string, limit, offset int) ([]repository.SyncLogEntry, error) {
	q := l.s.db.From("sync_log").
		Select("log_id", "table_name", "record_id", "operation", "old_data", "new_data",
			"occurred_at", "status", "error_message", "processed_at", "attempts").
		Order(goqu.C("log_id").Asc())
	if table != "" {
		q = q.Where(goqu.C("table_name").Eq(table))
	}
	if status != "" {
		q = q.Where(goqu.C("status").Eq(status))
	}
	if limit > 0 {
		q = q.Limit(uint(limit))
	}
	if offset > 0 {
		q = q.Offset(uint(offset))
	}
	return l.query(ctx, q)
}

func (l *logStore) query(ctx context.Context, q *goqu.SelectDataset) ([]repository.SyncLogEntry, error) {
	query, args, err := q.ToSQL()
	if err != nil {
		return nil, repository.Permanent(err)
	}
	rows, err := l.s.rawDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, repository.Transient(err)
	}
	defer rows.Close()

	var out []repository.SyncLogEntry
	for rows.Next() {
		var (
			e           repository.SyncLogEntry
			oldRaw      sql.NullString
			newRaw      sql.NullString
			errMsg      sql.NullString
			processedAt sql.NullTime
		)
		if err := rows.Scan(&e.LogID, &e.Table, &e.RecordID, &e.Operation,
			&oldRaw, &newRaw, &e.OccurredAt, &e.Status, &errMsg, &processedAt, &e.Attempts); err != nil {
			return nil, repository.Transient(err)
		}
		if oldRaw.Valid {
			if err := json.Unmarshal([]byte(oldRaw.String), &e.OldData); err != nil {
				return nil, repository.Permanent(err)
			}
		}
		if newRaw.Valid {
			if err := json.Unmarshal([]byte(newRaw.String), &e.NewData); err != nil {
				return nil, repository.Permanent(err)
			}
		}
		if errMsg.Valid {
			e.ErrorMsg = errMsg.String
		}
		if processedAt.Valid {
			t := processedAt.Time
			e.ProcessedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *logStore) MarkApplied(ctx context.Context, logID int64) error {
	return l.mark(ctx, logID, repository.LogApplied, "")
}

func (l *logStore) MarkFailed(ctx context.Context, logID int64, msg string) error {
	return l.mark(ctx, logID, repository.LogFailed, msg)
}

func (l *logStore) BumpAttempts(ctx context.Context, logID int64) (int, error) {
	query, args, err := l.s.db.Update("sync_log").
		Set(goqu.Record{"attempts": goqu.L("attempts + 1")}).
		Where(goqu.C("log_id").Eq(logID)).
		ToSQL()
	if err != nil {
		return 0, repository.Permanent(err)
	}
	if _, err := l.s.rawDB.ExecContext(ctx, query, args...); err != nil {
		return 0, repository.Transient(err)
	}

	sel, selArgs, err := l.s.db.From("sync_log").
		Select("attempts").
		Where(goqu.C("log_id").Eq(logID)).
		ToSQL()
	if err != nil {
		return 0, repository.Permanent(err)
	}
	var attempts int
	if err := l.s.rawDB.QueryRowContext(ctx, sel, selArgs...).Scan(&attempts); err != nil {
		if err == sql.ErrNoRows {
			return 0, repository.ErrNotFound
		}
		return 0, repository.Transient(err)
	}
	return attempts, nil
}

func (l *logStore) mark(ctx context.Context, logID int64, status, msg string) error {
	rec := goqu.Record{
		"status":       status,
		"processed_at": time.Now().UTC(),
	}
	if msg != "" {
		rec["error_message"] = msg
	}
	query, args, err := l.s.db.Update("sync_log").
		Set(rec).
		Where(goqu.C("log_id").Eq(logID)).
		ToSQL()
	if err != nil {
		return repository.Permanent(err)
	}
	res, err := l.s.rawDB.ExecContext(ctx, query, args...)
	if err != nil {
		return repository.Transient(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
