package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

// ─── CursorStore ───

type cursorStore struct{ pool *pgxpool.Pool }

func (c *cursorStore) Load(ctx context.Context, name string) (*repository.WorkerCursor, error) {
	const q = `
		INSERT INTO sync_cursors (name, value) VALUES ($1, 0)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING name, value, updated_at`

	var cur repository.WorkerCursor
	if err := c.pool.QueryRow(ctx, q, name).Scan(&cur.Name, &cur.Value, &cur.UpdatedAt); err != nil {
		return nil, repository.Transient(err)
	}
	return &cur, nil
}

func (c *cursorStore) Store(ctx context.Context, name string, value int64) error {
	const q = `
		INSERT INTO sync_cursors (name, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err := c.pool.Exec(ctx, q, name, value); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (c *cursorStore) Bump(ctx context.Context, name string) (int64, error) {
	const q = `
		INSERT INTO sync_cursors (name, value, updated_at) VALUES ($1, 1, NOW())
		ON CONFLICT (name) DO UPDATE SET value = sync_cursors.value + 1, updated_at = NOW()
		RETURNING value`

	var v int64
	if err := c.pool.QueryRow(ctx, q, name).Scan(&v); err != nil {
		return 0, repository.Transient(err)
	}
	return v, nil
}

// ─── SyncConfigStore ───

type configStore struct{ pool *pgxpool.Pool }

const configColumns = `id, table_name, origin, target, mode, enabled, interval_seconds, last_run_at, created_at, updated_at`

func scanConfig(row pgx.Row) (*repository.SyncConfig, error) {
	var cfg repository.SyncConfig
	err := row.Scan(&cfg.ID, &cfg.Table, &cfg.Origin, &cfg.Target, &cfg.Mode, &cfg.Enabled,
		&cfg.IntervalS, &cfg.LastRunAt, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrConfigNotFound
		}
		return nil, repository.Transient(err)
	}
	return &cfg, nil
}

func (c *configStore) Create(ctx context.Context, cfg *repository.SyncConfig) error {
	const q = `
		INSERT INTO sync_configs (table_name, origin, target, mode, enabled, interval_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := c.pool.QueryRow(ctx, q, cfg.Table, cfg.Origin, cfg.Target, cfg.Mode, cfg.Enabled, cfg.IntervalS).
		Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateConfig
		}
		return repository.Transient(err)
	}
	return nil
}

func (c *configStore) Update(ctx context.Context, cfg *repository.SyncConfig) error {
	const q = `
		UPDATE sync_configs
		SET table_name = $2, origin = $3, target = $4, mode = $5, enabled = $6,
		    interval_seconds = $7, updated_at = NOW()
		WHERE id = $1`

	tag, err := c.pool.Exec(ctx, q, cfg.ID, cfg.Table, cfg.Origin, cfg.Target, cfg.Mode, cfg.Enabled, cfg.IntervalS)
	if err != nil {
		return repository.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConfigNotFound
	}
	return nil
}

func (c *configStore) Delete(ctx context.Context, id int64) error {
	tag, err := c.pool.Exec(ctx, `DELETE FROM sync_configs WHERE id = $1`, id)
	if err != nil {
		return repository.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConfigNotFound
	}
	return nil
}

func (c *configStore) Get(ctx context.Context, id int64) (*repository.SyncConfig, error) {
	q := `SELECT ` + configColumns + ` FROM sync_configs WHERE id = $1`
	return scanConfig(c.pool.QueryRow(ctx, q, id))
}

func (c *configStore) List(ctx context.Context) ([]repository.SyncConfig, error) {
	return c.list(ctx, `SELECT `+configColumns+` FROM sync_configs ORDER BY id`)
}

func (c *configStore) ListEnabled(ctx context.Context) ([]repository.SyncConfig, error) {
	return c.list(ctx, `SELECT `+configColumns+` FROM sync_configs WHERE enabled ORDER BY id`)
}

func (c *configStore) list(ctx context.Context, q string) ([]repository.SyncConfig, error) {
	rows, err := c.pool.Query(ctx, q)
	if err != nil {
		return nil, repository.Transient(err)
	}
	defer rows.Close()

	var out []repository.SyncConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func (c *configStore) TouchLastRun(ctx context.Context, id int64, at time.Time) error {
	tag, err := c.pool.Exec(ctx, `UPDATE sync_configs SET last_run_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return repository.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrConfigNotFound
	}
	return nil
}

// ─── StatsStore ───

type statsStore struct{ pool *pgxpool.Pool }

func (s *statsStore) BumpSuccess(ctx context.Context, day string, n int64) error {
	const q = `
		INSERT INTO sync_daily_stats (day, success_count) VALUES ($1, $2)
		ON CONFLICT (day) DO UPDATE SET success_count = sync_daily_stats.success_count + EXCLUDED.success_count`
	if _, err := s.pool.Exec(ctx, q, day, n); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *statsStore) BumpConflict(ctx context.Context, day string, n int64) error {
	const q = `
		INSERT INTO sync_daily_stats (day, conflict_count) VALUES ($1, $2)
		ON CONFLICT (day) DO UPDATE SET conflict_count = sync_daily_stats.conflict_count + EXCLUDED.conflict_count`
	if _, err := s.pool.Exec(ctx, q, day, n); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *statsStore) Today(ctx context.Context, day string) (*repository.DailyStats, error) {
	const q = `SELECT day, success_count, conflict_count FROM sync_daily_stats WHERE day = $1`

	var d repository.DailyStats
	err := s.pool.QueryRow(ctx, q, day).Scan(&d.Day, &d.Success, &d.Conflicts)
	if errors.Is(err, pgx.ErrNoRows) {
		return &repository.DailyStats{Day: day}, nil
	}
	if err != nil {
		return nil, repository.Transient(err)
	}
	return &d, nil
}
