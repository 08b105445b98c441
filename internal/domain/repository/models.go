// Package repository define los tipos de dominio y las interfaces de
// persistencia del motor de sincronización. Las implementaciones viven
// en internal/store/adapters.
package repository

import (
	"time"

	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

// Operaciones registradas en el sync_log.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Estados de una entrada del sync_log.
const (
	LogPending = "pending"
	LogApplied = "applied"
	LogFailed  = "failed"
)

// Estados de un conflicto.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
)

// Estrategias de resolución de un conflicto.
const (
	StrategySource = "source"
	StrategyTarget = "target"
	StrategyManual = "manual"
)

// Modos de un flujo de replicación.
const (
	ModeRealtime  = "realtime"
	ModeScheduled = "scheduled"
)

// Row es el estado actual de un registro en una réplica. Data es el
// snapshot completo de columnas; la columna v_clock viaja adentro de
// Data como JSON y además parseada en Clock.
type Row struct {
	RecordID  string
	Data      map[string]any
	Clock     vclock.Clock
	UpdatedAt time.Time
}

// SyncLogEntry es una fila del log append-only de un edge. OldData es
// nil para inserts; NewData es nil para deletes.
type SyncLogEntry struct {
	LogID       int64          `json:"log_id"`
	Table       string         `json:"table_name"`
	RecordID    string         `json:"record_id"`
	Operation   string         `json:"operation"`
	OldData     map[string]any `json:"old_data,omitempty"`
	NewData     map[string]any `json:"new_data,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Status      string         `json:"status"`
	ErrorMsg    string         `json:"error_message,omitempty"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	Attempts    int            `json:"attempts"`
}

// Clock extrae el vector clock del snapshot relevante de la entrada
// (NewData para insert/update, OldData para delete).
func (e *SyncLogEntry) Clock() vclock.Clock {
	snap := e.NewData
	if e.Operation == OpDelete {
		snap = e.OldData
	}
	if snap == nil {
		return vclock.Clock{}
	}
	return vclock.Parse(snap["v_clock"])
}

// SyncConfig describe un flujo de replicación origen -> destino para
// una tabla. Deshabilitar un config frena el worker sin perder cursor.
type SyncConfig struct {
	ID        int64      `json:"id"`
	Table     string     `json:"table_name"`
	Origin    string     `json:"origin"`
	Target    string     `json:"target"`
	Mode      string     `json:"mode"` // realtime | scheduled
	Enabled   bool       `json:"enabled"`
	IntervalS int        `json:"interval_seconds"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// WorkerCursor es la posición durable de un worker sobre el sync_log de
// un origen. Value es el último log_id procesado (0 = nada procesado).
type WorkerCursor struct {
	Name      string    `json:"name"`
	Value     int64     `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CursorName arma el nombre canónico del cursor de un origen.
func CursorName(origin string) string {
	return "edge_sync_log:" + origin
}

// ManualTriggerCursor es la fila contador que el endpoint de disparo
// manual incrementa; el worker la compara contra su último valor visto.
const ManualTriggerCursor = "manual_trigger"

// ConflictRecord es un conflicto detectado, pendiente de resolución por
// un operador. Los clocks se guardan serializados para exhibirlos tal
// cual estaban al momento de la detección.
type ConflictRecord struct {
	ID          string         `json:"id"`
	Reason      string         `json:"reason"`
	Origin      string         `json:"origin"`
	Target      string         `json:"target"`
	Table       string         `json:"table_name"`
	RecordID    string         `json:"record_id"`
	EdgeLogID   int64          `json:"edge_log_id"`
	SourceClock vclock.Clock   `json:"source_v_clock"`
	TargetClock vclock.Clock   `json:"target_v_clock"`
	SourceOld   map[string]any `json:"source_old,omitempty"`
	SourceNew   map[string]any `json:"source_new,omitempty"`
	TargetData  map[string]any `json:"target_current,omitempty"`
	Status      string         `json:"status"`
	Resolution  string         `json:"resolution,omitempty"` // estrategia elegida
	Note        string         `json:"resolution_note,omitempty"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// DailyStats acumula contadores de sincronización por día (UTC).
type DailyStats struct {
	Day       string `json:"day"` // YYYY-MM-DD
	Success   int64  `json:"success_count"`
	Conflicts int64  `json:"conflict_count"`
}
