package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/metrics"
	"github.com/dropDatabas3/syncmesh/internal/observability/logger"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

// ConflictNotifier avisa a los operadores cuando se registra un
// conflicto nuevo. Implementado por el paquete email.
type ConflictNotifier interface {
	NotifyConflict(ctx context.Context, rec *repository.ConflictRecord) error
}

// Options parametriza el worker.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	ApplyTimeout time.Duration
	// FailedSkipAfter: reintentos de una falla permanente antes de
	// marcar la entrada como failed y avanzar el cursor. 0 = la entrada
	// bloquea su flujo hasta intervención manual.
	FailedSkipAfter int
}

// Worker es el replicador de polling. Un task por réplica origen;
// dentro de cada origen las entradas se procesan en orden estricto de
// log_id contra un cursor durable.
type Worker struct {
	opts Options

	replicas map[string]repository.ReplicaStore
	edges    map[string]repository.EdgeStore

	cursors   repository.CursorStore
	conflicts repository.ConflictStore
	configs   repository.SyncConfigStore
	stats     repository.StatsStore

	notifier ConflictNotifier // puede ser nil

	manualSeeded bool
	lastManual   int64
	log          *zap.Logger
}

// New arma un worker. replicas debe incluir todos los targets
// configurables; edges el subconjunto con sync_log.
func New(opts Options, replicas map[string]repository.ReplicaStore, edges map[string]repository.EdgeStore,
	cursors repository.CursorStore, conflicts repository.ConflictStore,
	configs repository.SyncConfigStore, stats repository.StatsStore,
	notifier ConflictNotifier) *Worker {

	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ApplyTimeout <= 0 {
		opts.ApplyTimeout = 10 * time.Second
	}
	return &Worker{
		opts:      opts,
		replicas:  replicas,
		edges:     edges,
		cursors:   cursors,
		conflicts: conflicts,
		configs:   configs,
		stats:     stats,
		notifier:  notifier,
		log:       logger.Named("sync.worker"),
	}
}

// Run ejecuta el loop de polling hasta que el contexto se cancele.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.log.Info("worker started",
		logger.Int("batch_size", w.opts.BatchSize),
		logger.Duration(w.opts.PollInterval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("tick failed", logger.Err(err))
			}
		}
	}
}

// Tick corre una pasada: decide qué flujos están vencidos (por interval
// o por disparo manual) y procesa sus orígenes en paralelo.
func (w *Worker) Tick(ctx context.Context) error {
	manual := false
	if cur, err := w.cursors.Load(ctx, repository.ManualTriggerCursor); err == nil {
		switch {
		case !w.manualSeeded:
			// Primera pasada tras el arranque: el valor histórico del
			// cursor no es un disparo nuevo.
			w.manualSeeded = true
			w.lastManual = cur.Value
		case cur.Value > w.lastManual:
			manual = true
			w.lastManual = cur.Value
		}
	}

	cfgs, err := w.configs.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("listing sync configs: %w", err)
	}

	now := time.Now().UTC()
	due := map[string]bool{} // origins con al menos un flujo vencido
	byOrigin := map[string][]repository.SyncConfig{}
	for _, cfg := range cfgs {
		byOrigin[cfg.Origin] = append(byOrigin[cfg.Origin], cfg)
		if manual || flowDue(cfg, now) {
			due[cfg.Origin] = true
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for origin := range due {
		origin := origin
		flows := byOrigin[origin]
		g.Go(func() error {
			// El cursor de un origen es compartido entre sus tablas, así
			// que al procesar un origen se rutea contra TODOS sus flujos
			// habilitados, vencidos o no; el interval solo marca cadencia.
			return w.runOrigin(gctx, origin, flows)
		})
	}
	return g.Wait()
}

// RunAll procesa todos los orígenes con flujos habilitados, ignorando
// intervalos. Lo usan los tests y el modo one-shot del CLI.
func (w *Worker) RunAll(ctx context.Context) error {
	cfgs, err := w.configs.ListEnabled(ctx)
	if err != nil {
		return err
	}
	byOrigin := map[string][]repository.SyncConfig{}
	for _, cfg := range cfgs {
		byOrigin[cfg.Origin] = append(byOrigin[cfg.Origin], cfg)
	}
	g, gctx := errgroup.WithContext(ctx)
	for origin, flows := range byOrigin {
		origin, flows := origin, flows
		g.Go(func() error { return w.runOrigin(gctx, origin, flows) })
	}
	return g.Wait()
}

// flowDue decide la cadencia: un flujo realtime está vencido en cada
// tick y uno scheduled según su interval_s.
func flowDue(cfg repository.SyncConfig, now time.Time) bool {
	if cfg.Mode != repository.ModeScheduled {
		return true
	}
	if cfg.IntervalS <= 0 || cfg.LastRunAt == nil {
		return true
	}
	return now.Sub(*cfg.LastRunAt) >= time.Duration(cfg.IntervalS)*time.Second
}

// runOrigin drena el sync_log de un origen desde su cursor durable.
// Cualquier falla transitoria corta el batch sin avanzar; la entrada se
// reintenta en el próximo ciclo (redelivery at-least-once).
func (w *Worker) runOrigin(ctx context.Context, origin string, flows []repository.SyncConfig) error {
	edge, ok := w.edges[origin]
	if !ok {
		w.log.Warn("origin has no edge store, skipping", logger.Origin(origin))
		return nil
	}

	cursorName := repository.CursorName(origin)
	cur, err := w.cursors.Load(ctx, cursorName)
	if err != nil {
		return fmt.Errorf("loading cursor %s: %w", cursorName, err)
	}

	entries, err := edge.SyncLog().FetchPending(ctx, "", cur.Value, w.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("fetching sync_log of %s: %w", origin, err)
	}

	// last_run_at se toca aunque el poll venga vacío; es la señal de
	// vida del flujo para el endpoint de status.
	now := time.Now().UTC()
	for _, f := range flows {
		if err := w.configs.TouchLastRun(ctx, f.ID, now); err != nil {
			w.log.Warn("touch last_run failed", logger.Int("config_id", int(f.ID)), logger.Err(err))
		}
	}

	processed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := entry
		if err := w.processEntry(ctx, edge, &entry, flows); err != nil {
			if repository.IsTransient(err) || repository.IsPermanent(err) {
				w.log.Warn("entry blocked, stopping batch",
					logger.Origin(origin), logger.LogID(entry.LogID), logger.Err(err))
				break
			}
			return err
		}
		if err := w.cursors.Store(ctx, cursorName, entry.LogID); err != nil {
			return fmt.Errorf("advancing cursor %s: %w", cursorName, err)
		}
		processed++
	}

	metrics.CursorLag.WithLabelValues(origin).Set(float64(len(entries) - processed))
	if processed > 0 {
		w.log.Info("batch processed",
			logger.Origin(origin),
			logger.Int("entries", processed),
			logger.Cursor(cur.Value+int64(processed)))
	}
	return nil
}

// processEntry rutea una entrada hacia todos los flujos de su tabla.
// Devuelve nil cuando la entrada quedó "resuelta" (aplicada, descartada
// como vieja, en conflicto registrado, o dead-letter) y el cursor puede
// avanzar; devuelve error transitorio/permanente cuando debe bloquear.
func (w *Worker) processEntry(ctx context.Context, edge repository.EdgeStore,
	entry *repository.SyncLogEntry, flows []repository.SyncConfig) error {

	matched := false
	for _, f := range flows {
		if f.Table != entry.Table {
			continue
		}
		matched = true
		if err := w.applyToTarget(ctx, edge, entry, f); err != nil {
			if repository.IsPermanent(err) {
				blocked, derr := w.deadLetter(ctx, edge, entry, err)
				if derr != nil {
					return derr
				}
				if blocked {
					return err
				}
				// dead-letter: la entrada se marca failed y el flujo sigue
				continue
			}
			return err
		}
	}

	if !matched {
		// Tabla sin flujo configurado: se marca para no re-visitarla.
		if err := edge.SyncLog().MarkApplied(ctx, entry.LogID); err != nil {
			return err
		}
	}
	return nil
}

// deadLetter decide qué pasa con una falla permanente. Devuelve
// blocked=true si la entrada debe seguir bloqueando el flujo.
func (w *Worker) deadLetter(ctx context.Context, edge repository.EdgeStore,
	entry *repository.SyncLogEntry, cause error) (bool, error) {

	attempts, err := edge.SyncLog().BumpAttempts(ctx, entry.LogID)
	if err != nil {
		return true, err
	}
	// El error se persiste en la entrada aunque siga bloqueando, para
	// que el operador lo vea en /sync/logs sin revisar los logs del
	// proceso.
	if err := edge.SyncLog().MarkFailed(ctx, entry.LogID, cause.Error()); err != nil {
		return true, err
	}
	if w.opts.FailedSkipAfter <= 0 || attempts < w.opts.FailedSkipAfter {
		return true, nil
	}
	w.log.Error("entry dead-lettered after repeated permanent failures",
		logger.LogID(entry.LogID),
		logger.Table(entry.Table),
		logger.Int("attempts", attempts),
		logger.Err(cause))
	return false, nil
}

// applyToTarget ejecuta el veredicto del detector para un flujo.
func (w *Worker) applyToTarget(ctx context.Context, edge repository.EdgeStore,
	entry *repository.SyncLogEntry, flow repository.SyncConfig) error {

	target, ok := w.replicas[flow.Target]
	if !ok {
		return repository.Permanent(fmt.Errorf("unknown target replica %q", flow.Target))
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.ApplyTimeout)
	defer cancel()

	tRow, err := target.GetRow(ctx, entry.Table, entry.RecordID)
	if err != nil && !repository.IsNotFound(err) {
		return err
	}
	if repository.IsNotFound(err) {
		tRow = nil
	}

	day := time.Now().UTC().Format("2006-01-02")

	switch Classify(entry, tRow) {
	case SkipStale:
		metrics.EntriesSkipped.WithLabelValues(flow.Origin, flow.Target, flow.Table).Inc()
		return edge.SyncLog().MarkApplied(ctx, entry.LogID)

	case Conflict:
		return w.recordConflict(ctx, edge, entry, flow, tRow, day)

	default: // ApplyClean
	}

	start := time.Now()
	rctx := WithProvenance(ctx)

	if entry.Operation == repository.OpDelete {
		if err := target.ApplyDelete(rctx, entry.Table, entry.RecordID); err != nil {
			return err
		}
	} else {
		incoming := entry.Clock()
		if NeedsClockRepair(entry, tRow) {
			// Campos cambiaron sin bump de clock: reparar bumpeando la
			// componente del origen, y propagar la reparación también al
			// propio origen para que ambos lados queden consistentes.
			incoming = incoming.Bump(edge.Code())
			if err := edge.ApplyUpsert(rctx, entry.Table, entry.RecordID, withClock(entry.NewData, incoming)); err != nil {
				return err
			}
			w.log.Info("clock repaired on stale-clock change",
				logger.Origin(flow.Origin),
				logger.Table(entry.Table),
				logger.RecordID(entry.RecordID))
		}

		// El clock persistido es el join de ambos lados: nunca pierde
		// componentes que el target ya conocía.
		stored := incoming
		if tRow != nil {
			stored = stored.Merge(tRow.Clock)
		}
		if err := target.ApplyUpsert(rctx, entry.Table, entry.RecordID, withClock(entry.NewData, stored)); err != nil {
			return err
		}
	}

	metrics.ApplyLatency.Observe(float64(time.Since(start).Milliseconds()))
	metrics.EntriesApplied.WithLabelValues(flow.Origin, flow.Target, flow.Table).Inc()
	if err := w.stats.BumpSuccess(ctx, day, 1); err != nil {
		w.log.Warn("stats bump failed", logger.Err(err))
	}
	return edge.SyncLog().MarkApplied(ctx, entry.LogID)
}

// withClock copia el snapshot con el v_clock dado.
func withClock(data map[string]any, clock vclock.Clock) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["v_clock"] = clock.String()
	return out
}

// recordConflict registra el conflicto y marca la entrada como
// entregada: el cursor avanza, la deuda queda en manos del operador.
func (w *Worker) recordConflict(ctx context.Context, edge repository.EdgeStore,
	entry *repository.SyncLogEntry, flow repository.SyncConfig,
	tRow *repository.Row, day string) error {

	rec := &repository.ConflictRecord{
		Reason:      "concurrent_update",
		Origin:      flow.Origin,
		Target:      flow.Target,
		Table:       entry.Table,
		RecordID:    entry.RecordID,
		EdgeLogID:   entry.LogID,
		SourceClock: entry.Clock(),
		SourceOld:   entry.OldData,
		SourceNew:   entry.NewData,
	}
	if entry.Operation == repository.OpDelete {
		rec.Reason = "concurrent_delete"
	}
	if tRow != nil {
		rec.TargetClock = tRow.Clock
		rec.TargetData = tRow.Data
	}

	if err := w.conflicts.Create(ctx, rec); err != nil {
		return err
	}

	metrics.ConflictsDetected.WithLabelValues(flow.Origin, flow.Target, flow.Table).Inc()
	if err := w.stats.BumpConflict(ctx, day, 1); err != nil {
		w.log.Warn("stats bump failed", logger.Err(err))
	}
	if n, err := w.conflicts.CountPending(ctx); err == nil {
		metrics.PendingConflicts.Set(float64(n))
	}

	w.log.Warn("conflict detected",
		logger.ConflictID(rec.ID),
		logger.Origin(flow.Origin),
		logger.Target(flow.Target),
		logger.Table(entry.Table),
		logger.RecordID(entry.RecordID))

	if w.notifier != nil {
		if err := w.notifier.NotifyConflict(ctx, rec); err != nil {
			w.log.Warn("conflict notification failed", logger.ConflictID(rec.ID), logger.Err(err))
		}
	}
	return edge.SyncLog().MarkApplied(ctx, entry.LogID)
}
