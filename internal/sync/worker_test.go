package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store/adapters/memory"
	syncx "github.com/dropDatabas3/syncmesh/internal/sync"
)

type mesh struct {
	hub  *memory.Store
	edge *memory.Store
	w    *syncx.Worker
}

func newMesh(t *testing.T, opts syncx.Options) *mesh {
	t.Helper()
	hub := memory.New("hub", "H")
	edge := memory.New("north", "N")

	replicas := map[string]repository.ReplicaStore{"hub": hub, "north": edge}
	edges := map[string]repository.EdgeStore{"north": edge}

	w := syncx.New(opts, replicas, edges,
		hub.Cursors(), hub.Conflicts(), hub.Configs(), hub.Stats(), nil)

	err := hub.Configs().Create(context.Background(), &repository.SyncConfig{
		Table:   "items",
		Origin:  "north",
		Target:  "hub",
		Mode:    repository.ModeRealtime,
		Enabled: true,
	})
	require.NoError(t, err)

	return &mesh{hub: hub, edge: edge, w: w}
}

func TestReplicateInsert(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp", "qty": 3})
	require.NoError(t, err)

	require.NoError(t, m.w.RunAll(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Data["name"])
	assert.Equal(t, int64(1), got.Clock.Get("N"))

	log := m.edge.DumpLog()
	require.Len(t, log, 1)
	assert.Equal(t, repository.LogApplied, log[0].Status)

	cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Equal(t, log[0].LogID, cur.Value)
}

func TestReplicateDelete(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)
	require.NoError(t, m.w.RunAll(ctx))

	require.NoError(t, m.edge.LocalDelete(ctx, "items", "r1"))
	require.NoError(t, m.w.RunAll(ctx))

	_, err = m.hub.GetRow(ctx, "items", "r1")
	assert.True(t, repository.IsNotFound(err))
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)
	require.NoError(t, m.w.RunAll(ctx))

	// Simula un crash post-apply pre-cursor: el cursor vuelve a 0 y la
	// entrada se vuelve a entregar. No debe generar conflicto.
	require.NoError(t, m.hub.Cursors().Store(ctx, repository.CursorName("north"), 0))
	require.NoError(t, m.w.RunAll(ctx))

	pending, err := m.hub.Conflicts().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Data["name"])
}

func TestConcurrentEditsConflict(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	// el hub ya tiene su propia edición, invisible para el edge
	m.hub.Seed("items", "r1", map[string]any{"name": "hub-side", "v_clock": `{"H":1}`})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "north-side"})
	require.NoError(t, err)

	require.NoError(t, m.w.RunAll(ctx))

	// el estado del hub no se pisa
	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "hub-side", got.Data["name"])

	// el conflicto queda registrado con ambos lados
	recs, total, err := m.hub.Conflicts().List(ctx, repository.ConflictFilter{Status: repository.ConflictPending})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	rec := recs[0]
	assert.Equal(t, "concurrent_update", rec.Reason)
	assert.Equal(t, "north", rec.Origin)
	assert.Equal(t, "hub", rec.Target)
	assert.Equal(t, "north-side", rec.SourceNew["name"])
	assert.Equal(t, "hub-side", rec.TargetData["name"])

	// la entrada se entregó: el cursor avanza y no bloquea el flujo
	log := m.edge.DumpLog()
	require.Len(t, log, 1)
	assert.Equal(t, repository.LogApplied, log[0].Status)
	cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Equal(t, log[0].LogID, cur.Value)
}

func TestStaleEntrySkipped(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "v1"})
	require.NoError(t, err)

	// el hub ya vio una versión posterior del mismo origen
	m.hub.Seed("items", "r1", map[string]any{"name": "v2", "v_clock": `{"N":5}`})

	require.NoError(t, m.w.RunAll(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Data["name"])

	pending, err := m.hub.Conflicts().CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestTransientFailureBlocksCursor(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	m.hub.Fail = errors.New("hub down")
	_ = m.w.RunAll(ctx)

	cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Zero(t, cur.Value, "una falla transitoria no debe avanzar el cursor")

	// la réplica vuelve y la entrada se reintenta sola
	m.hub.Fail = nil
	require.NoError(t, m.w.RunAll(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Data["name"])
}

// brokenReplica envuelve una réplica para forzar fallas permanentes de
// apply, como una violación de constraint en el destino.
type brokenReplica struct {
	repository.ReplicaStore
	applyErr error
}

func (b *brokenReplica) ApplyUpsert(ctx context.Context, table, recordID string, data map[string]any) error {
	if b.applyErr != nil {
		return b.applyErr
	}
	return b.ReplicaStore.ApplyUpsert(ctx, table, recordID, data)
}

func newBrokenMesh(t *testing.T, opts syncx.Options) (*mesh, *brokenReplica) {
	t.Helper()
	hub := memory.New("hub", "H")
	edge := memory.New("north", "N")
	broken := &brokenReplica{ReplicaStore: hub}

	replicas := map[string]repository.ReplicaStore{"hub": broken, "north": edge}
	edges := map[string]repository.EdgeStore{"north": edge}

	w := syncx.New(opts, replicas, edges,
		hub.Cursors(), hub.Conflicts(), hub.Configs(), hub.Stats(), nil)

	err := hub.Configs().Create(context.Background(), &repository.SyncConfig{
		Table:   "items",
		Origin:  "north",
		Target:  "hub",
		Mode:    repository.ModeRealtime,
		Enabled: true,
	})
	require.NoError(t, err)

	return &mesh{hub: hub, edge: edge, w: w}, broken
}

func TestPermanentFailurePersistsAndBlocks(t *testing.T) {
	ctx := context.Background()
	m, broken := newBrokenMesh(t, syncx.Options{})
	broken.applyErr = repository.Permanent(errors.New("fk violation"))

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.w.RunAll(ctx))
	}

	// sin failed_skip_after la entrada bloquea su flujo
	cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Zero(t, cur.Value)

	// pero el error queda a la vista del operador en la entrada
	log := m.edge.DumpLog()
	require.Len(t, log, 1)
	assert.Equal(t, repository.LogFailed, log[0].Status)
	assert.Contains(t, log[0].ErrorMsg, "fk violation")
	assert.Equal(t, 3, log[0].Attempts)
}

func TestPermanentFailureDeadLettersAfterRetries(t *testing.T) {
	ctx := context.Background()
	m, broken := newBrokenMesh(t, syncx.Options{FailedSkipAfter: 2})
	broken.applyErr = repository.Permanent(errors.New("fk violation"))

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	// primer intento: todavía por debajo del umbral, bloquea
	require.NoError(t, m.w.RunAll(ctx))
	cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Zero(t, cur.Value)

	// segundo intento: umbral alcanzado, la entrada queda failed y el
	// cursor avanza
	require.NoError(t, m.w.RunAll(ctx))
	log := m.edge.DumpLog()
	require.Len(t, log, 1)
	assert.Equal(t, repository.LogFailed, log[0].Status)
	cur, err = m.hub.Cursors().Load(ctx, repository.CursorName("north"))
	require.NoError(t, err)
	assert.Equal(t, log[0].LogID, cur.Value)

	// las entradas posteriores fluyen con normalidad
	broken.applyErr = nil
	_, err = m.edge.LocalUpsert(ctx, "items", "r2", map[string]any{"name": "chair"})
	require.NoError(t, err)
	require.NoError(t, m.w.RunAll(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r2")
	require.NoError(t, err)
	assert.Equal(t, "chair", got.Data["name"])
}

func TestManualTriggerNotReplayedAfterRestart(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	// flujo scheduled con intervalo largo y last_run reciente: no vence
	cfgs, err := m.hub.Configs().List(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	cfgs[0].Mode = repository.ModeScheduled
	cfgs[0].IntervalS = 3600
	require.NoError(t, m.hub.Configs().Update(ctx, &cfgs[0]))
	require.NoError(t, m.hub.Configs().TouchLastRun(ctx, cfgs[0].ID, time.Now().UTC()))

	// disparo manual previo al "reinicio" del proceso
	_, err = m.hub.Cursors().Bump(ctx, repository.ManualTriggerCursor)
	require.NoError(t, err)

	_, err = m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	// worker nuevo: el valor histórico del cursor no cuenta como disparo
	w2 := syncx.New(syncx.Options{},
		map[string]repository.ReplicaStore{"hub": m.hub, "north": m.edge},
		map[string]repository.EdgeStore{"north": m.edge},
		m.hub.Cursors(), m.hub.Conflicts(), m.hub.Configs(), m.hub.Stats(), nil)
	require.NoError(t, w2.Tick(ctx))
	_, err = m.hub.GetRow(ctx, "items", "r1")
	assert.True(t, repository.IsNotFound(err))

	// un disparo nuevo sí fuerza la pasada
	_, err = m.hub.Cursors().Bump(ctx, repository.ManualTriggerCursor)
	require.NoError(t, err)
	require.NoError(t, w2.Tick(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Data["name"])
}

func TestCursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	for i := 0; i < 5; i++ {
		_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"seq": i})
		require.NoError(t, err)
		require.NoError(t, m.w.RunAll(ctx))

		cur, err := m.hub.Cursors().Load(ctx, repository.CursorName("north"))
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), cur.Value)
	}
}

func TestClockJoinOnApply(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	// Ambos lados arrancan del mismo estado con historia del hub.
	m.hub.Seed("items", "r1", map[string]any{"name": "v1", "v_clock": `{"H":2}`})
	m.edge.Seed("items", "r1", map[string]any{"name": "v1", "v_clock": `{"H":2}`})

	_, err := m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "v2"})
	require.NoError(t, err)

	require.NoError(t, m.w.RunAll(ctx))

	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Data["name"])
	// el clock guardado conserva las componentes de ambos lados
	assert.Equal(t, int64(2), got.Clock.Get("H"))
	assert.Equal(t, int64(1), got.Clock.Get("N"))
}

func TestUnconfiguredTableIsDrained(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	_, err := m.edge.LocalUpsert(ctx, "orders", "o1", map[string]any{"total": 10})
	require.NoError(t, err)
	_, err = m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	require.NoError(t, m.w.RunAll(ctx))

	// la tabla sin flujo no frena a la que sí tiene
	got, err := m.hub.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "lamp", got.Data["name"])

	_, err = m.hub.GetRow(ctx, "orders", "o1")
	assert.True(t, repository.IsNotFound(err))
}

func TestDisabledFlowIsIgnored(t *testing.T) {
	ctx := context.Background()
	m := newMesh(t, syncx.Options{})

	cfgs, err := m.hub.Configs().List(ctx)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	cfgs[0].Enabled = false
	require.NoError(t, m.hub.Configs().Update(ctx, &cfgs[0]))

	_, err = m.edge.LocalUpsert(ctx, "items", "r1", map[string]any{"name": "lamp"})
	require.NoError(t, err)

	require.NoError(t, m.w.RunAll(ctx))

	_, err = m.hub.GetRow(ctx, "items", "r1")
	assert.True(t, repository.IsNotFound(err))
}
