// Package sync implementa el motor de replicación: captura de cambios,
// clasificación causal y el worker de polling con cursores durables.
package sync

import "context"

type provenanceKey struct{}

// WithProvenance marca el contexto como escritura de replicación.
// Los edge stores consultan la marca para saltear la captura de
// sync_log y el bump de clock, cortando el eco infinito entre réplicas.
func WithProvenance(ctx context.Context) context.Context {
	return context.WithValue(ctx, provenanceKey{}, true)
}

// IsReplication reporta si ctx viene de un apply del worker o de una
// resolución de conflicto, y no de una escritura de negocio local.
func IsReplication(ctx context.Context) bool {
	v, _ := ctx.Value(provenanceKey{}).(bool)
	return v
}
