package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Las migraciones SQL se embeben en el binario.
// Formato de archivo: {version}_{name}.sql (ej: 0001_init.sql)

// Migrator aplica migraciones SQL a una base de datos.
type Migrator struct {
	migrationsFS  embed.FS
	migrationsDir string
}

// NewMigrator crea un nuevo Migrator.
func NewMigrator(migrationsFS embed.FS, migrationsDir string) *Migrator {
	return &Migrator{migrationsFS: migrationsFS, migrationsDir: migrationsDir}
}

// Migration representa una migración individual.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// ParseMigrations lee y parsea las migraciones del FS embebido.
func (m *Migrator) ParseMigrations() ([]Migration, error) {
	var migrations []Migration

	err := fs.WalkDir(m.migrationsFS, m.migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		filename := filepath.Base(path)
		matches := migrationFilePattern.FindStringSubmatch(filename)
		if matches == nil {
			return nil
		}
		version, _ := strconv.Atoi(matches[1])
		content, err := m.migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		migrations = append(migrations, Migration{
			Version: version,
			Name:    matches[2],
			SQL:     string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// SQLExecutor interfaz para ejecutar SQL (abstrae pgx vs database/sql).
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryVersions(ctx context.Context, query string) ([]int, error)
}

// DBExecutor adapta un *sql.DB al SQLExecutor del migrator.
type DBExecutor struct{ DB *sql.DB }

func (e DBExecutor) Exec(ctx context.Context, query string, args ...any) error {
	_, err := e.DB.ExecContext(ctx, query, args...)
	return err
}

func (e DBExecutor) QueryVersions(ctx context.Context, query string) ([]int, error) {
	rows, err := e.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Run aplica las migraciones pendientes.
func (m *Migrator) Run(ctx context.Context, exec SQLExecutor, driver string) error {
	if err := m.ensureMigrationsTable(ctx, exec, driver); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := m.getAppliedVersions(ctx, exec)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	migrations, err := m.ParseMigrations()
	if err != nil {
		return fmt.Errorf("parsing migrations: %w", err)
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := exec.Exec(ctx, mig.SQL); err != nil {
			return fmt.Errorf("applying migration %d_%s: %w", mig.Version, mig.Name, err)
		}
		if err := exec.Exec(ctx,
			insertMigrationSQL(driver), mig.Version, mig.Name); err != nil {
			return fmt.Errorf("recording migration %d: %w", mig.Version, err)
		}
	}
	return nil
}

func insertMigrationSQL(driver string) string {
	if driver == "postgres" {
		return `INSERT INTO _migrations (version, name) VALUES ($1, $2)`
	}
	return `INSERT INTO _migrations (version, name) VALUES (?, ?)`
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context, exec SQLExecutor, driver string) error {
	var createSQL string
	switch driver {
	case "postgres":
		createSQL = `
			CREATE TABLE IF NOT EXISTS _migrations (
				version INT PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				applied_at TIMESTAMPTZ DEFAULT NOW()
			)`
	default:
		createSQL = `
			CREATE TABLE IF NOT EXISTS _migrations (
				version INT PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`
	}
	return exec.Exec(ctx, createSQL)
}

func (m *Migrator) getAppliedVersions(ctx context.Context, exec SQLExecutor) (map[int]bool, error) {
	versions, err := exec.QueryVersions(ctx, `SELECT version FROM _migrations`)
	if err != nil {
		return nil, err
	}
	applied := map[int]bool{}
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}
