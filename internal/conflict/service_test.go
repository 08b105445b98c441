package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store/adapters/memory"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

func seedConflict(t *testing.T, hub *memory.Store) *repository.ConflictRecord {
	t.Helper()
	rec := &repository.ConflictRecord{
		Reason:      "concurrent_update",
		Origin:      "north",
		Target:      "hub",
		Table:       "items",
		RecordID:    "r1",
		SourceClock: vclock.Parse(`{"N":1}`),
		TargetClock: vclock.Parse(`{"H":1}`),
		SourceNew:   map[string]any{"name": "north-side", "v_clock": `{"N":1}`},
		TargetData:  map[string]any{"name": "hub-side", "v_clock": `{"H":1}`},
	}
	require.NoError(t, hub.Conflicts().Create(context.Background(), rec))
	return rec
}

func newFixture(t *testing.T) (*Service, *memory.Store, *memory.Store) {
	t.Helper()
	hub := memory.New("hub", "H")
	edge := memory.New("north", "N")
	hub.Seed("items", "r1", map[string]any{"name": "hub-side", "v_clock": `{"H":1}`})
	edge.Seed("items", "r1", map[string]any{"name": "north-side", "v_clock": `{"N":1}`})

	svc := NewService(hub.Conflicts(), map[string]repository.ReplicaStore{
		"hub":   hub,
		"north": edge,
	})
	return svc, hub, edge
}

func TestResolveSourceConverges(t *testing.T) {
	ctx := context.Background()
	svc, hub, edge := newFixture(t)
	rec := seedConflict(t, hub)

	out, err := svc.Resolve(ctx, rec.ID, repository.StrategySource, "north wins", "ana", nil)
	require.NoError(t, err)
	assert.Equal(t, repository.ConflictResolved, out.Status)
	assert.Equal(t, repository.StrategySource, out.Resolution)
	assert.Equal(t, "north wins", out.Note)
	assert.Equal(t, "ana", out.ResolvedBy)
	require.NotNil(t, out.ResolvedAt)

	for name, r := range map[string]*memory.Store{"hub": hub, "north": edge} {
		row, err := r.GetRow(ctx, "items", "r1")
		require.NoError(t, err, name)
		assert.Equal(t, "north-side", row.Data["name"], name)
		// el clock resuelto domina a ambos lados originales
		assert.Equal(t, int64(2), row.Clock.Get("N"), name)
		assert.Equal(t, int64(2), row.Clock.Get("H"), name)
	}

	// la convergencia no generó capturas nuevas en el edge
	assert.Empty(t, edge.DumpLog())
}

func TestResolveTargetConverges(t *testing.T) {
	ctx := context.Background()
	svc, hub, edge := newFixture(t)
	rec := seedConflict(t, hub)

	_, err := svc.Resolve(ctx, rec.ID, repository.StrategyTarget, "", "ana", nil)
	require.NoError(t, err)

	row, err := edge.GetRow(ctx, "items", "r1")
	require.NoError(t, err)
	assert.Equal(t, "hub-side", row.Data["name"])
}

func TestResolveManualPayload(t *testing.T) {
	ctx := context.Background()
	svc, hub, edge := newFixture(t)
	rec := seedConflict(t, hub)

	payload := map[string]any{"name": "merged-by-hand"}
	out, err := svc.Resolve(ctx, rec.ID, repository.StrategyManual, "merge manual", "ana", payload)
	require.NoError(t, err)
	assert.Equal(t, repository.StrategyManual, out.Resolution)

	for _, r := range []*memory.Store{hub, edge} {
		row, err := r.GetRow(ctx, "items", "r1")
		require.NoError(t, err)
		assert.Equal(t, "merged-by-hand", row.Data["name"])
	}
}

func TestResolveManualRequiresPayload(t *testing.T) {
	ctx := context.Background()
	svc, hub, _ := newFixture(t)
	rec := seedConflict(t, hub)

	_, err := svc.Resolve(ctx, rec.ID, repository.StrategyManual, "", "ana", nil)
	assert.ErrorIs(t, err, ErrMissingPayload)
}

func TestResolveTwiceFails(t *testing.T) {
	ctx := context.Background()
	svc, hub, _ := newFixture(t)
	rec := seedConflict(t, hub)

	_, err := svc.Resolve(ctx, rec.ID, repository.StrategySource, "", "ana", nil)
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, rec.ID, repository.StrategyTarget, "", "ana", nil)
	assert.ErrorIs(t, err, repository.ErrAlreadyResolved)
}

func TestResolveUnknownStrategy(t *testing.T) {
	ctx := context.Background()
	svc, hub, _ := newFixture(t)
	rec := seedConflict(t, hub)

	_, err := svc.Resolve(ctx, rec.ID, "coinflip", "", "ana", nil)
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestResolveAllSkipsManual(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.ResolveAll(ctx, repository.ConflictFilter{}, repository.StrategyManual, "", "ana")
	assert.ErrorIs(t, err, ErrInvalidStrategy)
}

func TestResolveAll(t *testing.T) {
	ctx := context.Background()
	svc, hub, _ := newFixture(t)
	a := seedConflict(t, hub)
	b := seedConflict(t, hub)

	results, err := svc.ResolveAll(ctx, repository.ConflictFilter{Table: "items"}, repository.StrategySource, "bulk", "ana")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.OK, res.Error)
	}

	for _, id := range []string{a.ID, b.ID} {
		got, err := hub.Conflicts().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.ConflictResolved, got.Status)
	}
}

func TestResolveAllFiltersByReplica(t *testing.T) {
	ctx := context.Background()
	svc, hub, _ := newFixture(t)
	north := seedConflict(t, hub)

	other := &repository.ConflictRecord{
		Reason:      "concurrent_update",
		Origin:      "south",
		Target:      "hub",
		Table:       "items",
		RecordID:    "r2",
		SourceClock: vclock.Parse(`{"S":1}`),
		TargetClock: vclock.Parse(`{"H":1}`),
		SourceNew:   map[string]any{"name": "south-side"},
		TargetData:  map[string]any{"name": "hub-side"},
	}
	require.NoError(t, hub.Conflicts().Create(ctx, other))

	results, err := svc.ResolveAll(ctx,
		repository.ConflictFilter{Origin: "north", Target: "hub"},
		repository.StrategySource, "", "ana")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, north.ID, results[0].ConflictID)

	// el conflicto de otro origen sigue pendiente
	got, err := hub.Conflicts().Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.ConflictPending, got.Status)
}

func TestDiffExcludesHousekeeping(t *testing.T) {
	d := Diff(
		map[string]any{"name": "a", "qty": 3, "v_clock": `{"N":1}`, "updated_at": "x"},
		map[string]any{"name": "b", "qty": 3, "v_clock": `{"H":1}`},
	)
	require.Len(t, d, 1)
	assert.Equal(t, "name", d[0].Field)
	assert.Equal(t, "a", d[0].Source)
	assert.Equal(t, "b", d[0].Target)
}
