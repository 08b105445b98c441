// Package conflict implementa la resolución de conflictos por
// operadores: inspección con diff de campos y convergencia forzada
// escribiendo el lado ganador en todas las réplicas.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/metrics"
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
	syncx "github.com/dropDatabas3/syncmesh/internal/sync"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

// ErrInvalidStrategy indica una estrategia de resolución desconocida.
var ErrInvalidStrategy = errors.New("conflict: strategy must be source, target or manual")

// ErrMissingPayload indica una resolución manual sin snapshot del operador.
var ErrMissingPayload = errors.New("conflict: manual resolution requires a payload")

// Service opera sobre los conflictos registrados.
type Service struct {
	conflicts repository.ConflictStore
	replicas  map[string]repository.ReplicaStore
	codes     []string // componentes de clock de todas las réplicas
	log       *zap.Logger
}

func NewService(conflicts repository.ConflictStore, replicas map[string]repository.ReplicaStore) *Service {
	codes := make([]string, 0, len(replicas))
	for _, r := range replicas {
		codes = append(codes, r.Code())
	}
	sort.Strings(codes)
	return &Service{
		conflicts: conflicts,
		replicas:  replicas,
		codes:     codes,
		log:       logger.Named("conflict"),
	}
}

// FieldDiff es la discrepancia de un campo entre ambos lados.
type FieldDiff struct {
	Field  string `json:"field"`
	Source any    `json:"source"`
	Target any    `json:"target"`
}

// Detail es un conflicto con su diff calculado.
type Detail struct {
	repository.ConflictRecord
	Diff []FieldDiff `json:"diff"`
}

func (s *Service) List(ctx context.Context, f repository.ConflictFilter) ([]repository.ConflictRecord, int, error) {
	return s.conflicts.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	rec, err := s.conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{ConflictRecord: *rec, Diff: Diff(rec.SourceNew, rec.TargetData)}, nil
}

// Columnas de housekeeping excluidas del diff.
var metaColumns = map[string]bool{
	"v_clock":    true,
	"created_at": true,
	"updated_at": true,
}

// Diff lista los campos de negocio que difieren entre ambos snapshots.
func Diff(source, target map[string]any) []FieldDiff {
	keys := map[string]bool{}
	for k := range source {
		keys[k] = true
	}
	for k := range target {
		keys[k] = true
	}

	var out []FieldDiff
	names := make([]string, 0, len(keys))
	for k := range keys {
		if !metaColumns[k] {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		sv, tv := source[k], target[k]
		if fmt.Sprintf("%v", sv) == fmt.Sprintf("%v", tv) {
			continue
		}
		out = append(out, FieldDiff{Field: k, Source: sv, Target: tv})
	}
	return out
}

// Resolve aplica el estado ganador en TODAS las réplicas configuradas
// y marca el conflicto como resuelto. Con estrategia manual el snapshot
// lo aporta el operador en payload. El clock resultante es el join de
// ambos lados bumpeado en cada componente de la malla, así domina
// estrictamente a los dos estados en pugna y converge en todos lados.
//
// Si la escritura falla en alguna réplica el conflicto queda pending y
// la resolución puede reintentarse.
func (s *Service) Resolve(ctx context.Context, id, strategy, note, resolvedBy string, payload map[string]any) (*repository.ConflictRecord, error) {
	switch strategy {
	case repository.StrategySource, repository.StrategyTarget:
	case repository.StrategyManual:
		if payload == nil {
			return nil, ErrMissingPayload
		}
	default:
		return nil, ErrInvalidStrategy
	}

	rec, err := s.conflicts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != repository.ConflictPending {
		return nil, repository.ErrAlreadyResolved
	}

	resolved := rec.SourceClock.Merge(rec.TargetClock)
	for _, code := range s.codes {
		resolved = resolved.Bump(code)
	}

	if err := s.writeResolution(ctx, rec, strategy, payload, resolved); err != nil {
		return nil, err
	}

	if err := s.conflicts.MarkResolved(ctx, id, strategy, note, resolvedBy); err != nil {
		return nil, err
	}

	metrics.ConflictsResolved.Inc()
	if n, err := s.conflicts.CountPending(ctx); err == nil {
		metrics.PendingConflicts.Set(float64(n))
	}

	s.log.Info("conflict resolved",
		logger.ConflictID(id),
		logger.String("strategy", strategy),
		logger.String("resolved_by", resolvedBy))

	return s.conflicts.Get(ctx, id)
}

// writeResolution fuerza el snapshot ganador en todas las réplicas, con
// provenance de replicación para no generar nuevas capturas.
func (s *Service) writeResolution(ctx context.Context, rec *repository.ConflictRecord, strategy string, payload map[string]any, clock vclock.Clock) error {
	rctx := syncx.WithProvenance(ctx)

	var data map[string]any
	del := false
	switch strategy {
	case repository.StrategySource:
		if rec.SourceNew == nil {
			del = true
		} else {
			data = rec.SourceNew
		}
	case repository.StrategyTarget:
		if rec.TargetData == nil {
			del = true
		} else {
			data = rec.TargetData
		}
	case repository.StrategyManual:
		data = payload
	}

	if !del {
		snap := make(map[string]any, len(data)+1)
		for k, v := range data {
			snap[k] = v
		}
		snap["v_clock"] = clock.String()
		data = snap
	}

	for name, r := range s.replicas {
		var err error
		if del {
			err = r.ApplyDelete(rctx, rec.Table, rec.RecordID)
		} else {
			err = r.ApplyUpsert(rctx, rec.Table, rec.RecordID, data)
		}
		if err != nil {
			return fmt.Errorf("writing winner to replica %s: %w", name, err)
		}
	}
	return nil
}

// ResolveResult es el resultado por conflicto de una resolución masiva.
type ResolveResult struct {
	ConflictID string `json:"conflict_id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// ResolveAll resuelve todos los conflictos pendientes que matchean el
// filtro (tabla, origen y/o target) aplicando la misma estrategia a
// cada uno. La estrategia manual no tiene sentido en masa y se rechaza.
// El Status del filtro se ignora: siempre opera sobre pendientes.
func (s *Service) ResolveAll(ctx context.Context, filter repository.ConflictFilter, strategy, note, resolvedBy string) ([]ResolveResult, error) {
	if strategy != repository.StrategySource && strategy != repository.StrategyTarget {
		return nil, ErrInvalidStrategy
	}
	filter.Status = repository.ConflictPending
	pending, _, err := s.conflicts.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	out := make([]ResolveResult, 0, len(pending))
	for _, rec := range pending {
		res := ResolveResult{ConflictID: rec.ID, OK: true}
		if _, err := s.Resolve(ctx, rec.ID, strategy, note, resolvedBy, nil); err != nil {
			res.OK = false
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out, nil
}
