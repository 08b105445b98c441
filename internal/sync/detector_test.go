package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

func upd(data map[string]any, clock string) *repository.SyncLogEntry {
	data["v_clock"] = clock
	return &repository.SyncLogEntry{
		LogID:     1,
		Table:     "items",
		RecordID:  "r1",
		Operation: repository.OpUpdate,
		NewData:   data,
	}
}

func del(old map[string]any, clock string) *repository.SyncLogEntry {
	old["v_clock"] = clock
	return &repository.SyncLogEntry{
		LogID:     1,
		Table:     "items",
		RecordID:  "r1",
		Operation: repository.OpDelete,
		OldData:   old,
	}
}

func row(data map[string]any, clock string) *repository.Row {
	data["v_clock"] = clock
	return &repository.Row{
		RecordID: "r1",
		Data:     data,
		Clock:    vclock.Parse(clock),
	}
}

func TestClassifyMissingTarget(t *testing.T) {
	e := upd(map[string]any{"name": "a"}, `{"N":1}`)
	assert.Equal(t, ApplyClean, Classify(e, nil))
}

func TestClassifyIncomingDominates(t *testing.T) {
	e := upd(map[string]any{"name": "b"}, `{"H":1,"N":2}`)
	tgt := row(map[string]any{"name": "a"}, `{"H":1,"N":1}`)
	assert.Equal(t, ApplyClean, Classify(e, tgt))
}

func TestClassifyTargetDominates(t *testing.T) {
	e := upd(map[string]any{"name": "old"}, `{"N":1}`)
	tgt := row(map[string]any{"name": "new"}, `{"H":1,"N":2}`)
	assert.Equal(t, SkipStale, Classify(e, tgt))
}

func TestClassifyConcurrent(t *testing.T) {
	e := upd(map[string]any{"name": "north"}, `{"N":1}`)
	tgt := row(map[string]any{"name": "hub"}, `{"H":1}`)
	assert.Equal(t, Conflict, Classify(e, tgt))
}

func TestClassifyConcurrentButSameContent(t *testing.T) {
	// mismo contenido de negocio: no hay nada que pelear, apply
	// idempotente aunque los clocks sean concurrentes
	e := upd(map[string]any{"name": "same"}, `{"N":1}`)
	tgt := row(map[string]any{"name": "same"}, `{"H":1}`)
	assert.Equal(t, ApplyClean, Classify(e, tgt))
}

func TestClassifyEqualClocks(t *testing.T) {
	e := upd(map[string]any{"name": "changed"}, `{"N":1}`)
	tgt := row(map[string]any{"name": "orig"}, `{"N":1}`)
	assert.Equal(t, ApplyClean, Classify(e, tgt))
	assert.True(t, NeedsClockRepair(e, tgt))
}

func TestNeedsClockRepairNotOnEqualContent(t *testing.T) {
	e := upd(map[string]any{"name": "same"}, `{"N":1}`)
	tgt := row(map[string]any{"name": "same"}, `{"N":1}`)
	assert.False(t, NeedsClockRepair(e, tgt))
}

func TestClassifyConcurrentDelete(t *testing.T) {
	e := del(map[string]any{"name": "gone"}, `{"N":2}`)
	tgt := row(map[string]any{"name": "edited"}, `{"N":1,"H":1}`)
	assert.Equal(t, Conflict, Classify(e, tgt))
}

func TestClassifyDominatingDelete(t *testing.T) {
	e := del(map[string]any{"name": "gone"}, `{"N":2,"H":1}`)
	tgt := row(map[string]any{"name": "x"}, `{"N":1,"H":1}`)
	assert.Equal(t, ApplyClean, Classify(e, tgt))
}

func TestContentEqualIgnoresHousekeeping(t *testing.T) {
	a := map[string]any{"name": "x", "v_clock": `{"N":1}`, "updated_at": "2026-01-01"}
	b := map[string]any{"name": "x", "v_clock": `{"H":9}`, "created_at": "2020-05-05"}
	assert.True(t, ContentEqual(a, b))

	b["name"] = "y"
	assert.False(t, ContentEqual(a, b))
}
