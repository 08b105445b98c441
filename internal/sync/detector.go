package sync

import (
	"reflect"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

// Verdict es la decisión del detector para una entrada del sync_log
// contra el estado actual del destino.
type Verdict int

const (
	// ApplyClean: el cambio entrante es causalmente posterior (o el
	// registro no existe en el destino); se aplica directo.
	ApplyClean Verdict = iota
	// SkipStale: el destino ya tiene un estado más nuevo; la entrada se
	// descarta como aplicada (idempotencia ante redelivery).
	SkipStale
	// Conflict: clocks concurrentes con contenido distinto; requiere
	// resolución manual.
	Conflict
)

func (v Verdict) String() string {
	switch v {
	case ApplyClean:
		return "apply"
	case SkipStale:
		return "skip_stale"
	default:
		return "conflict"
	}
}

// Columnas de housekeeping que no cuentan como contenido de negocio.
var metaColumns = map[string]bool{
	"v_clock":    true,
	"created_at": true,
	"updated_at": true,
}

// Classify decide qué hacer con una entrada del sync_log dado el estado
// actual del registro en el destino (target == nil si no existe).
//
// Reglas, en orden:
//  1. Registro ausente en destino => ApplyClean.
//  2. Contenido de negocio idéntico => ApplyClean (apply idempotente;
//     cubre redelivery y el caso de clocks iguales).
//  3. Entrante domina o iguala al destino => ApplyClean.
//  4. Destino domina al entrante => SkipStale.
//  5. Concurrentes => Conflict.
func Classify(entry *repository.SyncLogEntry, target *repository.Row) Verdict {
	if target == nil {
		return ApplyClean
	}

	src := entry.Clock()
	dst := target.Clock

	if entry.Operation != repository.OpDelete && ContentEqual(entry.NewData, target.Data) {
		return ApplyClean
	}

	switch src.Compare(dst) {
	case vclock.Equal, vclock.Dominates:
		return ApplyClean
	case vclock.Dominated:
		return SkipStale
	default:
		return Conflict
	}
}

// ContentEqual compara dos snapshots ignorando las columnas de
// housekeeping. Snapshots nil cuentan como vacíos.
func ContentEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(businessFields(a), businessFields(b))
}

// businessFields filtra las columnas de negocio de un snapshot.
func businessFields(m map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range m {
		if metaColumns[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// NeedsClockRepair detecta la anomalía "campos cambiaron pero el clock
// no": un snapshot entrante con contenido distinto al del destino pero
// clock igual. En ese caso el worker repara bumpeando la componente del
// origen antes de aplicar, para que el cambio no quede invisible para
// los demás flujos.
func NeedsClockRepair(entry *repository.SyncLogEntry, target *repository.Row) bool {
	if target == nil || entry.Operation == repository.OpDelete {
		return false
	}
	if ContentEqual(entry.NewData, target.Data) {
		return false
	}
	return entry.Clock().Compare(target.Clock) == vclock.Equal
}
