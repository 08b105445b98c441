// Package pg implementa la réplica hub sobre PostgreSQL. Además del
// estado replicado, el hub aloja los stores de control: conflictos,
// cursores, configs de sincronización y stats diarias.
package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
	migrations "github.com/dropDatabas3/syncmesh/migrations/hub"
)

type adapter struct{}

func (adapter) Name() string { return "postgres" }

func (adapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.Connection, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.Migrate {
		db := stdlib.OpenDBFromPool(pool)
		m := store.NewMigrator(migrations.HubFS, migrations.HubDir)
		if err := m.Run(ctx, store.DBExecutor{DB: db}, "postgres"); err != nil {
			pool.Close()
			return nil, err
		}
		_ = db.Close()
	}

	return &Store{name: cfg.ReplicaName, code: cfg.Code, pool: pool}, nil
}

func init() { store.RegisterAdapter(adapter{}) }

// Store es la réplica hub abierta.
type Store struct {
	name string
	code string
	pool *pgxpool.Pool
}

func (s *Store) Name() string { return s.name }
func (s *Store) Code() string { return s.code }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) GetRow(ctx context.Context, table, recordID string) (*repository.Row, error) {
	const q = `
		SELECT data, v_clock, updated_at
		FROM synced_records
		WHERE table_name = $1 AND record_id = $2`

	var (
		dataRaw   []byte
		clockRaw  []byte
		updatedAt time.Time
	)
	err := s.pool.QueryRow(ctx, q, table, recordID).Scan(&dataRaw, &clockRaw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, repository.Transient(err)
	}

	var data map[string]any
	if err := json.Unmarshal(dataRaw, &data); err != nil {
		return nil, repository.Permanent(fmt.Errorf("pg: corrupt row data: %w", err))
	}
	return &repository.Row{
		RecordID:  recordID,
		Data:      data,
		Clock:     vclock.Parse(clockRaw),
		UpdatedAt: updatedAt,
	}, nil
}

func (s *Store) ApplyUpsert(ctx context.Context, table, recordID string, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return repository.Permanent(err)
	}
	clock := vclock.Parse(data["v_clock"])

	const q = `
		INSERT INTO synced_records (table_name, record_id, data, v_clock, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (table_name, record_id)
		DO UPDATE SET data = EXCLUDED.data, v_clock = EXCLUDED.v_clock, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, q, table, recordID, payload, []byte(clock.String())); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) ApplyDelete(ctx context.Context, table, recordID string) error {
	const q = `DELETE FROM synced_records WHERE table_name = $1 AND record_id = $2`
	if _, err := s.pool.Exec(ctx, q, table, recordID); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) Conflicts() repository.ConflictStore { return &conflictStore{pool: s.pool} }
func (s *Store) Cursors() repository.CursorStore     { return &cursorStore{pool: s.pool} }
func (s *Store) Configs() repository.SyncConfigStore { return &configStore{pool: s.pool} }
func (s *Store) Stats() repository.StatsStore        { return &statsStore{pool: s.pool} }

var _ store.Connection = (*Store)(nil)
