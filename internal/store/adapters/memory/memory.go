// Package memory implementa una réplica en memoria con sync_log y los
// stores de control completos. Se usa en tests y en el modo demo.
package memory

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	"github.com/dropDatabas3/syncmesh/internal/store"
	syncx "github.com/dropDatabas3/syncmesh/internal/sync"
	"github.com/dropDatabas3/syncmesh/internal/vclock"
)

type adapter struct{}

func (adapter) Name() string { return "memory" }

func (adapter) Connect(_ context.Context, cfg store.AdapterConfig) (store.Connection, error) {
	return New(cfg.ReplicaName, cfg.Code), nil
}

func init() { store.RegisterAdapter(adapter{}) }

// Store es una réplica en memoria. Implementa store.Connection y
// repository.EdgeStore, y expone todos los stores de control, así que
// puede oficiar de hub y de edge a la vez.
type Store struct {
	name string
	code string

	mu        gosync.Mutex
	rows      map[string]map[string]*repository.Row // table -> record_id -> row
	log       []repository.SyncLogEntry
	nextLogID int64
	cursors   map[string]*repository.WorkerCursor
	conflicts map[string]*repository.ConflictRecord
	configs   map[int64]*repository.SyncConfig
	nextCfgID int64
	stats     map[string]*repository.DailyStats

	// Fail simula una réplica caída: los Apply* y GetRow devuelven
	// el error configurado. Solo para tests.
	Fail error
}

func New(name, code string) *Store {
	return &Store{
		name:      name,
		code:      code,
		rows:      map[string]map[string]*repository.Row{},
		nextLogID: 1,
		cursors:   map[string]*repository.WorkerCursor{},
		conflicts: map[string]*repository.ConflictRecord{},
		configs:   map[int64]*repository.SyncConfig{},
		nextCfgID: 1,
		stats:     map[string]*repository.DailyStats{},
	}
}

func (s *Store) Name() string { return s.name }
func (s *Store) Code() string { return s.code }

func (s *Store) Ping(context.Context) error { return s.Fail }
func (s *Store) Close() error               { return nil }

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) GetRow(_ context.Context, table, recordID string) (*repository.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, repository.Transient(s.Fail)
	}
	r, ok := s.rows[table][recordID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	cp.Data = cloneMap(r.Data)
	cp.Clock = r.Clock.Clone()
	return &cp, nil
}

func (s *Store) ApplyUpsert(_ context.Context, table, recordID string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return repository.Transient(s.Fail)
	}
	s.putRow(table, recordID, data)
	return nil
}

func (s *Store) ApplyDelete(_ context.Context, table, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return repository.Transient(s.Fail)
	}
	delete(s.rows[table], recordID)
	return nil
}

// putRow escribe el snapshot tal cual llega, clock incluido.
func (s *Store) putRow(table, recordID string, data map[string]any) *repository.Row {
	if s.rows[table] == nil {
		s.rows[table] = map[string]*repository.Row{}
	}
	row := &repository.Row{
		RecordID:  recordID,
		Data:      cloneMap(data),
		Clock:     vclock.Parse(data["v_clock"]),
		UpdatedAt: time.Now().UTC(),
	}
	s.rows[table][recordID] = row
	return row
}

func (s *Store) LocalUpsert(ctx context.Context, table, recordID string, data map[string]any) (*repository.Row, error) {
	// Escrituras con provenance de replicación no se capturan.
	if syncx.IsReplication(ctx) {
		if err := s.ApplyUpsert(ctx, table, recordID, data); err != nil {
			return nil, err
		}
		return s.GetRow(ctx, table, recordID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, repository.Transient(s.Fail)
	}

	var oldSnap map[string]any
	op := repository.OpInsert
	clock := vclock.Clock{}
	if prev, ok := s.rows[table][recordID]; ok {
		op = repository.OpUpdate
		oldSnap = cloneMap(prev.Data)
		clock = prev.Clock
	}
	clock = clock.Bump(s.code)

	newData := cloneMap(data)
	if newData == nil {
		newData = map[string]any{}
	}
	newData["v_clock"] = clock.String()

	row := s.putRow(table, recordID, newData)
	s.appendLog(table, recordID, op, oldSnap, cloneMap(newData))
	return row, nil
}

func (s *Store) LocalDelete(ctx context.Context, table, recordID string) error {
	if syncx.IsReplication(ctx) {
		return s.ApplyDelete(ctx, table, recordID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return repository.Transient(s.Fail)
	}
	prev, ok := s.rows[table][recordID]
	if !ok {
		return repository.ErrNotFound
	}
	oldSnap := cloneMap(prev.Data)
	oldSnap["v_clock"] = prev.Clock.Bump(s.code).String()
	delete(s.rows[table], recordID)
	s.appendLog(table, recordID, repository.OpDelete, oldSnap, nil)
	return nil
}

func (s *Store) appendLog(table, recordID, op string, oldData, newData map[string]any) {
	s.log = append(s.log, repository.SyncLogEntry{
		LogID:      s.nextLogID,
		Table:      table,
		RecordID:   recordID,
		Operation:  op,
		OldData:    oldData,
		NewData:    newData,
		OccurredAt: time.Now().UTC(),
		Status:     repository.LogPending,
	})
	s.nextLogID++
}

func (s *Store) SyncLog() repository.SyncLogStore { return (*logStore)(s) }

// ─── SyncLogStore ───

type logStore Store

func (l *logStore) FetchPending(_ context.Context, table string, afterID int64, limit int) ([]repository.SyncLogEntry, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []repository.SyncLogEntry{}
	for _, e := range s.log {
		if e.LogID <= afterID || (table != "" && e.Table != table) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *logStore) MarkApplied(_ context.Context, logID int64) error {
	return l.mark(logID, repository.LogApplied, "")
}

func (l *logStore) MarkFailed(_ context.Context, logID int64, msg string) error {
	return l.mark(logID, repository.LogFailed, msg)
}

func (l *logStore) mark(logID int64, status, msg string) error {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].LogID == logID {
			now := time.Now().UTC()
			s.log[i].Status = status
			s.log[i].ErrorMsg = msg
			s.log[i].ProcessedAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (l *logStore) BumpAttempts(_ context.Context, logID int64) (int, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].LogID == logID {
			s.log[i].Attempts++
			return s.log[i].Attempts, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (l *logStore) List(_ context.Context, table, status string, limit, offset int) ([]repository.SyncLogEntry, error) {
	s := (*Store)(l)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []repository.SyncLogEntry{}
	skipped := 0
	for _, e := range s.log {
		if table != "" && e.Table != table {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ─── CursorStore ───

func (s *Store) Cursors() repository.CursorStore { return (*cursorStore)(s) }

type cursorStore Store

func (c *cursorStore) Load(_ context.Context, name string) (*repository.WorkerCursor, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[name]
	if !ok {
		cur = &repository.WorkerCursor{Name: name, Value: 0, UpdatedAt: time.Now().UTC()}
		s.cursors[name] = cur
	}
	cp := *cur
	return &cp, nil
}

func (c *cursorStore) Store(_ context.Context, name string, value int64) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[name] = &repository.WorkerCursor{Name: name, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (c *cursorStore) Bump(_ context.Context, name string) (int64, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cursors[name]
	if !ok {
		cur = &repository.WorkerCursor{Name: name}
		s.cursors[name] = cur
	}
	cur.Value++
	cur.UpdatedAt = time.Now().UTC()
	return cur.Value, nil
}

// ─── ConflictStore ───

func (s *Store) Conflicts() repository.ConflictStore { return (*conflictStore)(s) }

type conflictStore Store

func (c *conflictStore) Create(_ context.Context, rec *repository.ConflictRecord) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now().UTC()
	}
	rec.Status = repository.ConflictPending
	cp := *rec
	s.conflicts[rec.ID] = &cp
	return nil
}

func (c *conflictStore) Get(_ context.Context, id string) (*repository.ConflictRecord, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conflicts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (c *conflictStore) List(_ context.Context, f repository.ConflictFilter) ([]repository.ConflictRecord, int, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	all := []repository.ConflictRecord{}
	for _, rec := range s.conflicts {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Table != "" && rec.Table != f.Table {
			continue
		}
		if f.Origin != "" && rec.Origin != f.Origin {
			continue
		}
		if f.Target != "" && rec.Target != f.Target {
			continue
		}
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DetectedAt.Before(all[j].DetectedAt) })
	total := len(all)
	if f.Offset > 0 {
		if f.Offset >= len(all) {
			all = nil
		} else {
			all = all[f.Offset:]
		}
	}
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (c *conflictStore) MarkResolved(_ context.Context, id, resolution, note, resolvedBy string) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conflicts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Status != repository.ConflictPending {
		return repository.ErrAlreadyResolved
	}
	now := time.Now().UTC()
	rec.Status = repository.ConflictResolved
	rec.Resolution = resolution
	rec.Note = note
	rec.ResolvedBy = resolvedBy
	rec.ResolvedAt = &now
	return nil
}

func (c *conflictStore) CountPending(_ context.Context) (int, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.conflicts {
		if rec.Status == repository.ConflictPending {
			n++
		}
	}
	return n, nil
}

// ─── SyncConfigStore ───

func (s *Store) Configs() repository.SyncConfigStore { return (*configStore)(s) }

type configStore Store

func (c *configStore) Create(_ context.Context, cfg *repository.SyncConfig) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.configs {
		if existing.Table == cfg.Table && existing.Origin == cfg.Origin && existing.Target == cfg.Target {
			return repository.ErrDuplicateConfig
		}
	}
	cfg.ID = s.nextCfgID
	s.nextCfgID++
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (c *configStore) Update(_ context.Context, cfg *repository.SyncConfig) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.configs[cfg.ID]
	if !ok {
		return repository.ErrConfigNotFound
	}
	cfg.CreatedAt = cur.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	cp := *cfg
	s.configs[cfg.ID] = &cp
	return nil
}

func (c *configStore) Delete(_ context.Context, id int64) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return repository.ErrConfigNotFound
	}
	delete(s.configs, id)
	return nil
}

func (c *configStore) Get(_ context.Context, id int64) (*repository.SyncConfig, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, repository.ErrConfigNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (c *configStore) List(_ context.Context) ([]repository.SyncConfig, error) {
	return c.list(false)
}

func (c *configStore) ListEnabled(_ context.Context) ([]repository.SyncConfig, error) {
	return c.list(true)
}

func (c *configStore) list(onlyEnabled bool) ([]repository.SyncConfig, error) {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []repository.SyncConfig{}
	for _, cfg := range s.configs {
		if onlyEnabled && !cfg.Enabled {
			continue
		}
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *configStore) TouchLastRun(_ context.Context, id int64, at time.Time) error {
	s := (*Store)(c)
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return repository.ErrConfigNotFound
	}
	cfg.LastRunAt = &at
	return nil
}

// ─── StatsStore ───

func (s *Store) Stats() repository.StatsStore { return (*statsStore)(s) }

type statsStore Store

func (st *statsStore) bump(day string, success, conflict int64) error {
	s := (*Store)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.stats[day]
	if !ok {
		d = &repository.DailyStats{Day: day}
		s.stats[day] = d
	}
	d.Success += success
	d.Conflicts += conflict
	return nil
}

func (st *statsStore) BumpSuccess(_ context.Context, day string, n int64) error {
	return st.bump(day, n, 0)
}

func (st *statsStore) BumpConflict(_ context.Context, day string, n int64) error {
	return st.bump(day, 0, n)
}

func (st *statsStore) Today(_ context.Context, day string) (*repository.DailyStats, error) {
	s := (*Store)(st)
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.stats[day]
	if !ok {
		return &repository.DailyStats{Day: day}, nil
	}
	cp := *d
	return &cp, nil
}

// Seed carga una fila directamente, sin captura ni bump. Solo tests.
func (s *Store) Seed(table, recordID string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putRow(table, recordID, data)
}

// DumpLog devuelve una copia del log completo. Solo tests.
func (s *Store) DumpLog() []repository.SyncLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.SyncLogEntry, len(s.log))
	copy(out, s.log)
	return out
}

var _ repository.EdgeStore = (*Store)(nil)
var _ store.Connection = (*Store)(nil)
