package pg

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

type conflictStore struct{ pool *pgxpool.Pool }

func marshalOrNil(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (c *conflictStore) Create(ctx context.Context, rec *repository.ConflictRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now().UTC()
	}
	rec.Status = repository.ConflictPending

	srcOld, err := marshalOrNil(rec.SourceOld)
	if err != nil {
		return repository.Permanent(err)
	}
	srcNew, err := marshalOrNil(rec.SourceNew)
	if err != nil {
		return repository.Permanent(err)
	}
	tgtCur, err := marshalOrNil(rec.TargetData)
	if err != nil {
		return repository.Permanent(err)
	}

	const q = `
		INSERT INTO sync_conflicts (
			id, reason, origin, target, table_name, record_id, edge_log_id,
			source_v_clock, target_v_clock, source_old, source_new, target_current,
			status, detected_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	_, err = c.pool.Exec(ctx, q,
		rec.ID, rec.Reason, rec.Origin, rec.Target, rec.Table, rec.RecordID, rec.EdgeLogID,
		[]byte(rec.SourceClock.String()), []byte(rec.TargetClock.String()),
		srcOld, srcNew, tgtCur,
		rec.Status, rec.DetectedAt,
	)
	if err != nil {
		return repository.Transient(err)
	}
	return nil
}

const conflictColumns = `
	id, reason, origin, target, table_name, record_id, edge_log_id,
	source_v_clock, target_v_clock, source_old, source_new, target_current,
	status, COALESCE(resolution, ''), COALESCE(resolution_note, ''),
	COALESCE(resolved_by, ''), resolved_at, detected_at`

func scanConflict(row pgx.Row) (*repository.ConflictRecord, error) {
	var (
		rec        repository.ConflictRecord
		srcClock   []byte
		tgtClock   []byte
		srcOld     []byte
		srcNew     []byte
		tgtCur     []byte
		resolvedAt *time.Time
	)
	err := row.Scan(
		&rec.ID, &rec.Reason, &rec.Origin, &rec.Target, &rec.Table, &rec.RecordID, &rec.EdgeLogID,
		&srcClock, &tgtClock, &srcOld, &srcNew, &tgtCur,
		&rec.Status, &rec.Resolution, &rec.Note, &rec.ResolvedBy, &resolvedAt, &rec.DetectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, repository.Transient(err)
	}

	rec.SourceClock = vclock.Parse(srcClock)
	rec.TargetClock = vclock.Parse(tgtClock)
	rec.ResolvedAt = resolvedAt
	if rec.SourceOld, err = unmarshalOrNil(srcOld); err != nil {
		return nil, err
	}
	if rec.SourceNew, err = unmarshalOrNil(srcNew); err != nil {
		return nil, err
	}
	if rec.TargetData, err = unmarshalOrNil(tgtCur); err != nil {
		return nil, err
	}
	return &rec, nil
}

func unmarshalOrNil(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, repository.Permanent(err)
	}
	return m, nil
}

func (c *conflictStore) Get(ctx context.Context, id string) (*repository.ConflictRecord, error) {
	q := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE id = $1`
	return scanConflict(c.pool.QueryRow(ctx, q, id))
}

func (c *conflictStore) List(ctx context.Context, f repository.ConflictFilter) ([]repository.ConflictRecord, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where += ` AND ` + col + ` = $` + strconv.Itoa(len(args))
	}
	add("status", f.Status)
	add("table_name", f.Table)
	add("origin", f.Origin)
	add("target", f.Target)

	var total int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_conflicts`+where, args...).Scan(&total); err != nil {
		return nil, 0, repository.Transient(err)
	}

	q := `SELECT ` + conflictColumns + ` FROM sync_conflicts` + where + ` ORDER BY detected_at ASC`
	if f.Limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(f.Limit)
	}
	if f.Offset > 0 {
		q += ` OFFSET ` + strconv.Itoa(f.Offset)
	}

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, repository.Transient(err)
	}
	defer rows.Close()

	var out []repository.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (c *conflictStore) MarkResolved(ctx context.Context, id, resolution, note, resolvedBy string) error {
	const q = `
		UPDATE sync_conflicts
		SET status = $2, resolution = $3, resolution_note = $4, resolved_by = $5, resolved_at = NOW()
		WHERE id = $1 AND status = $6`

	tag, err := c.pool.Exec(ctx, q, id, repository.ConflictResolved, resolution, note, resolvedBy, repository.ConflictPending)
	if err != nil {
		return repository.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		// pending no matcheó: o no existe, o ya está resuelto
		var status string
		err := c.pool.QueryRow(ctx, `SELECT status FROM sync_conflicts WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		if err != nil {
			return repository.Transient(err)
		}
		return repository.ErrAlreadyResolved
	}
	return nil
}

func (c *conflictStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_conflicts WHERE status = $1`, repository.ConflictPending).Scan(&n)
	if err != nil {
		return 0, repository.Transient(err)
	}
	return n, nil
}
