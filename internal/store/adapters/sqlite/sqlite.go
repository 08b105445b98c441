// Package sqlite implementa una réplica edge sobre SQLite: estado local
// en synced_records y captura de cambios en sync_log, ambos en la misma
// transacción para las escrituras de negocio.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	// NOTE: required to register the dialect for goqu.
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"

	// Driver sqlite puro Go, registra "sqlite".
	_ "github.com/glebarez/go-sqlite"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store"
	syncx "github.com/dropDatabas3/syncmesh/internal/sync"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
	migrations "github.com/dropDatabas3/syncmesh/migrations/edge"
)

const recordsTable = "synced_records"

type adapter struct{}

func (adapter) Name() string { return "sqlite" }

func (adapter) Connect(ctx context.Context, cfg store.AdapterConfig) (store.Connection, error) {
	raw, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Un edge es single-writer; serializar el pool evita SQLITE_BUSY.
	raw.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := raw.ExecContext(ctx, pragma); err != nil {
			raw.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if cfg.Migrate {
		m := store.NewMigrator(migrations.EdgeFS, migrations.EdgeDir)
		if err := m.Run(ctx, store.DBExecutor{DB: raw}, "sqlite"); err != nil {
			raw.Close()
			return nil, err
		}
	}

	return &Store{
		name:  cfg.ReplicaName,
		code:  cfg.Code,
		rawDB: raw,
		db:    goqu.New("sqlite3", raw),
	}, nil
}

func init() { store.RegisterAdapter(adapter{}) }

// Store es una réplica edge abierta.
type Store struct {
	name  string
	code  string
	rawDB *sql.DB
	db    *goqu.Database
}

func (s *Store) Name() string { return s.name }
func (s *Store) Code() string { return s.code }

func (s *Store) Ping(ctx context.Context) error { return s.rawDB.PingContext(ctx) }
func (s *Store) Close() error                   { return s.rawDB.Close() }

// Stores de control: viven en el hub, no en los edges.
func (s *Store) Conflicts() repository.ConflictStore { return nil }
func (s *Store) Cursors() repository.CursorStore     { return nil }
func (s *Store) Configs() repository.SyncConfigStore { return nil }
func (s *Store) Stats() repository.StatsStore        { return nil }

func (s *Store) GetRow(ctx context.Context, table, recordID string) (*repository.Row, error) {
	query, args, err := s.db.From(recordsTable).
		Select("data", "v_clock", "updated_at").
		Where(goqu.C("table_name").Eq(table), goqu.C("record_id").Eq(recordID)).
		ToSQL()
	if err != nil {
		return nil, repository.Permanent(err)
	}

	var (
		dataRaw   string
		clockRaw  string
		updatedAt time.Time
	)
	row := s.rawDB.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&dataRaw, &clockRaw, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, repository.Transient(err)
	}
	return buildRow(recordID, dataRaw, clockRaw, updatedAt)
}

func buildRow(recordID, dataRaw, clockRaw string, updatedAt time.Time) (*repository.Row, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(dataRaw), &data); err != nil {
		return nil, repository.Permanent(fmt.Errorf("sqlite: corrupt row data: %w", err))
	}
	return &repository.Row{
		RecordID:  recordID,
		Data:      data,
		Clock:     vclock.Parse(clockRaw),
		UpdatedAt: updatedAt,
	}, nil
}

// upsertSQL arma el upsert del registro. El snapshot se escribe tal
// cual llega, v_clock incluido.
func (s *Store) upsertSQL(table, recordID string, data map[string]any) (string, []any, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", nil, repository.Permanent(err)
	}
	clock := vclock.Parse(data["v_clock"])
	now := time.Now().UTC()

	query, args, err := s.db.Insert(recordsTable).
		Rows(goqu.Record{
			"table_name": table,
			"record_id":  recordID,
			"data":       string(payload),
			"v_clock":    clock.String(),
			"updated_at": now,
		}).
		OnConflict(goqu.DoUpdate("table_name, record_id", goqu.Record{
			"data":       string(payload),
			"v_clock":    clock.String(),
			"updated_at": now,
		})).
		ToSQL()
	if err != nil {
		return "", nil, repository.Permanent(err)
	}
	return query, args, nil
}

func (s *Store) ApplyUpsert(ctx context.Context, table, recordID string, data map[string]any) error {
	query, args, err := s.upsertSQL(table, recordID, data)
	if err != nil {
		return err
	}
	if _, err := s.rawDB.ExecContext(ctx, query, args...); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) ApplyDelete(ctx context.Context, table, recordID string) error {
	query, args, err := s.db.Delete(recordsTable).
		Where(goqu.C("table_name").Eq(table), goqu.C("record_id").Eq(recordID)).
		ToSQL()
	if err != nil {
		return repository.Permanent(err)
	}
	if _, err := s.rawDB.ExecContext(ctx, query, args...); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) LocalUpsert(ctx context.Context, table, recordID string, data map[string]any) (*repository.Row, error) {
	// Escrituras con provenance de replicación no se capturan.
	if syncx.IsReplication(ctx) {
		if err := s.ApplyUpsert(ctx, table, recordID, data); err != nil {
			return nil, err
		}
		return s.GetRow(ctx, table, recordID)
	}

	tx, err := s.rawDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, repository.Transient(err)
	}
	defer tx.Rollback()

	prev, err := s.getRowTx(ctx, tx, table, recordID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	op := repository.OpInsert
	clock := vclock.Clock{}
	var oldSnap map[string]any
	if prev != nil {
		op = repository.OpUpdate
		clock = prev.Clock
		oldSnap = prev.Data
	}
	clock = clock.Bump(s.code)

	newData := map[string]any{}
	for k, v := range data {
		newData[k] = v
	}
	newData["v_clock"] = clock.String()

	query, args, err := s.upsertSQL(table, recordID, newData)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, repository.Transient(err)
	}

	if err := s.captureTx(ctx, tx, table, recordID, op, oldSnap, newData); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, repository.Transient(err)
	}

	return &repository.Row{
		RecordID:  recordID,
		Data:      newData,
		Clock:     clock,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (s *Store) LocalDelete(ctx context.Context, table, recordID string) error {
	if syncx.IsReplication(ctx) {
		return s.ApplyDelete(ctx, table, recordID)
	}

	tx, err := s.rawDB.BeginTx(ctx, nil)
	if err != nil {
		return repository.Transient(err)
	}
	defer tx.Rollback()

	prev, err := s.getRowTx(ctx, tx, table, recordID)
	if err != nil {
		return err
	}

	// El snapshot del delete lleva el clock bumpeado para que la
	// desaparición del registro tenga orden causal propio.
	oldSnap := map[string]any{}
	for k, v := range prev.Data {
		oldSnap[k] = v
	}
	oldSnap["v_clock"] = prev.Clock.Bump(s.code).String()

	query, args, err := s.db.Delete(recordsTable).
		Where(goqu.C("table_name").Eq(table), goqu.C("record_id").Eq(recordID)).
		ToSQL()
	if err != nil {
		return repository.Permanent(err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return repository.Transient(err)
	}

	if err := s.captureTx(ctx, tx, table, recordID, repository.OpDelete, oldSnap, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) getRowTx(ctx context.Context, tx *sql.Tx, table, recordID string) (*repository.Row, error) {
	query, args, err := s.db.From(recordsTable).
		Select("data", "v_clock", "updated_at").
		Where(goqu.C("table_name").Eq(table), goqu.C("record_id").Eq(recordID)).
		ToSQL()
	if err != nil {
		return nil, repository.Permanent(err)
	}

	var (
		dataRaw   string
		clockRaw  string
		updatedAt time.Time
	)
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&dataRaw, &clockRaw, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, repository.Transient(err)
	}
	return buildRow(recordID, dataRaw, clockRaw, updatedAt)
}

// captureTx inserta la entrada de sync_log dentro de la transacción de
// la escritura de negocio.
func (s *Store) captureTx(ctx context.Context, tx *sql.Tx, table, recordID, op string, oldData, newData map[string]any) error {
	rec := goqu.Record{
		"table_name":  table,
		"record_id":   recordID,
		"operation":   op,
		"occurred_at": time.Now().UTC(),
		"status":      repository.LogPending,
	}
	if oldData != nil {
		b, err := json.Marshal(oldData)
		if err != nil {
			return repository.Permanent(err)
		}
		rec["old_data"] = string(b)
	}
	if newData != nil {
		b, err := json.Marshal(newData)
		if err != nil {
			return repository.Permanent(err)
		}
		rec["new_data"] = string(b)
	}

	query, args, err := s.db.Insert("sync_log").Rows(rec).ToSQL()
	if err != nil {
		return repository.Permanent(err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return repository.Transient(err)
	}
	return nil
}

func (s *Store) SyncLog() repository.SyncLogStore { return &logStore{s} }

var _ repository.EdgeStore = (*Store)(nil)
var _ store.Connection = (*Store)(nil)
