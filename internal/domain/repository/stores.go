package repository

import (
	"context"
	"time"
)

// ReplicaStore es la vista mínima de una réplica que necesita el motor:
// leer el estado actual de una fila y aplicarle cambios replicados.
// ApplyUpsert y ApplyDelete NO deben generar entradas de sync_log ni
// bump de clock: escriben el snapshot tal cual (supresión de eco).
type ReplicaStore interface {
	// Name es el nombre lógico de la réplica ("hub", "north", ...).
	Name() string
	// Code es el código corto usado como componente de vector clock.
	Code() string

	// GetRow devuelve ErrNotFound si el registro no existe.
	GetRow(ctx context.Context, table, recordID string) (*Row, error)
	ApplyUpsert(ctx context.Context, table, recordID string, data map[string]any) error
	ApplyDelete(ctx context.Context, table, recordID string) error

	Ping(ctx context.Context) error
	Close() error
}

// EdgeStore extiende ReplicaStore con el write path local: escrituras de
// negocio que hacen bump del clock y registran la entrada de sync_log en
// la misma transacción. Las escrituras con provenance de replicación
// (ver internal/sync) pasan por Apply* y se saltean la captura.
type EdgeStore interface {
	ReplicaStore

	LocalUpsert(ctx context.Context, table, recordID string, data map[string]any) (*Row, error)
	LocalDelete(ctx context.Context, table, recordID string) error

	SyncLog() SyncLogStore
}

// SyncLogStore opera sobre el log append-only de un edge.
type SyncLogStore interface {
	// FetchPending devuelve hasta limit entradas con log_id > afterID,
	// en orden ascendente de log_id, cualquiera sea su status. El worker
	// filtra por cursor, no por status.
	FetchPending(ctx context.Context, table string, afterID int64, limit int) ([]SyncLogEntry, error)

	MarkApplied(ctx context.Context, logID int64) error
	MarkFailed(ctx context.Context, logID int64, msg string) error

	// BumpAttempts incrementa el contador de reintentos de la entrada y
	// devuelve el valor nuevo. No cambia el status.
	BumpAttempts(ctx context.Context, logID int64) (int, error)

	// List pagina el log para inspección por operadores.
	List(ctx context.Context, table string, status string, limit, offset int) ([]SyncLogEntry, error)
}

// CursorStore persiste los cursores durables de los workers.
type CursorStore interface {
	// Load devuelve el cursor name, creándolo en 0 si no existe.
	Load(ctx context.Context, name string) (*WorkerCursor, error)
	Store(ctx context.Context, name string, value int64) error
	// Bump incrementa atómicamente y devuelve el valor nuevo.
	Bump(ctx context.Context, name string) (int64, error)
}

// ConflictFilter acota List de conflictos.
type ConflictFilter struct {
	Status string
	Table  string
	Origin string
	Target string
	Limit  int
	Offset int
}

// ConflictStore persiste los conflictos detectados.
type ConflictStore interface {
	Create(ctx context.Context, rec *ConflictRecord) error
	Get(ctx context.Context, id string) (*ConflictRecord, error)
	List(ctx context.Context, f ConflictFilter) ([]ConflictRecord, int, error)
	// MarkResolved exige status pending; si ya está resuelto devuelve
	// ErrAlreadyResolved.
	MarkResolved(ctx context.Context, id, resolution, note, resolvedBy string) error
	// CountPending alimenta el endpoint de status y la métrica gauge.
	CountPending(ctx context.Context) (int, error)
}

// SyncConfigStore administra los flujos de replicación configurados.
type SyncConfigStore interface {
	Create(ctx context.Context, cfg *SyncConfig) error
	Update(ctx context.Context, cfg *SyncConfig) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*SyncConfig, error)
	List(ctx context.Context) ([]SyncConfig, error)
	ListEnabled(ctx context.Context) ([]SyncConfig, error)
	TouchLastRun(ctx context.Context, id int64, at time.Time) error
}

// StatsStore acumula contadores diarios. day en formato YYYY-MM-DD UTC.
type StatsStore interface {
	BumpSuccess(ctx context.Context, day string, n int64) error
	BumpConflict(ctx context.Context, day string, n int64) error
	Today(ctx context.Context, day string) (*DailyStats, error)
}
