package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - REPLICACIÓN
// =================================================================================

// Replica crea un campo para el nombre de una réplica.
func Replica(v string) zap.Field {
	return zap.String("replica", v)
}

// Origin crea un campo para la réplica origen de un flujo.
func Origin(v string) zap.Field {
	return zap.String("origin", v)
}

// Target crea un campo para la réplica destino de un flujo.
func Target(v string) zap.Field {
	return zap.String("target", v)
}

// Table crea un campo para la tabla sincronizada.
func Table(v string) zap.Field {
	return zap.String("table", v)
}

// RecordID crea un campo para el ID del registro afectado.
func RecordID(v string) zap.Field {
	return zap.String("record_id", v)
}

// LogID crea un campo para el ID de entrada del sync_log.
func LogID(v int64) zap.Field {
	return zap.Int64("log_id", v)
}

// Cursor crea un campo para la posición del cursor de un worker.
func Cursor(v int64) zap.Field {
	return zap.Int64("cursor", v)
}

// ConflictID crea un campo para el ID de un conflicto.
func ConflictID(v string) zap.Field {
	return zap.String("conflict_id", v)
}

// Operation crea un campo para la operación replicada (insert/update/delete).
func Operation(v string) zap.Field {
	return zap.String("operation", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
