// Package cache provee una abstracción chica de cache con soporte
// multi-backend. El motor la usa para el registro de jti de magic links
// ya consumidos y para contadores efímeros.
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
package cache

import "time"

// Cache define las operaciones mínimas que necesita el motor.
type Cache interface {
	// Get retorna el valor y si la key existe.
	Get(k string) ([]byte, bool)

	// Set guarda un valor con TTL. Si ttl es 0, usa el default del backend.
	Set(k string, v []byte, ttl time.Duration)

	// Delete elimina una key.
	Delete(k string)
}
