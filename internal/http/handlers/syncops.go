package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
)

// SyncOpsHandler expone el estado operativo del motor: status agregado,
// inspección del sync_log de cada edge y el disparo manual. Solo admin.
type SyncOpsHandler struct {
	Configs   repository.SyncConfigStore
	Cursors   repository.CursorStore
	Conflicts repository.ConflictStore
	Stats     repository.StatsStore
	Edges     map[string]repository.EdgeStore
}

func (h *SyncOpsHandler) Register(r chi.Router) {
	r.Get("/v1/sync/status", h.status)
	r.Get("/v1/sync/logs", h.logs)
	r.Post("/v1/sync/run", h.run)
}

type flowStatus struct {
	repository.SyncConfig
	CursorValue int64 `json:"cursor_value"`
}

func (h *SyncOpsHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cfgs, err := h.Configs.List(ctx)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	flows := make([]flowStatus, 0, len(cfgs))
	for _, cfg := range cfgs {
		fs := flowStatus{SyncConfig: cfg}
		if cur, err := h.Cursors.Load(ctx, repository.CursorName(cfg.Origin)); err == nil {
			fs.CursorValue = cur.Value
		}
		flows = append(flows, fs)
	}

	pending, err := h.Conflicts.CountPending(ctx)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	stats, err := h.Stats.Today(ctx, day)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	edges := make([]string, 0, len(h.Edges))
	for name := range h.Edges {
		edges = append(edges, name)
	}
	sort.Strings(edges)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"pending_conflicts": pending,
		"flows":             flows,
		"edges":             edges,
		"today":             stats,
	})
}

func (h *SyncOpsHandler) logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	name := q.Get("edge")
	if name == "" && len(h.Edges) == 1 {
		for n := range h.Edges {
			name = n
		}
	}
	edge, ok := h.Edges[name]
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "edge desconocido: "+name)
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	entries, err := edge.SyncLog().List(r.Context(), q.Get("table"), q.Get("status"), limit, offset)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []repository.SyncLogEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"edge":   name,
		"items":  entries,
		"limit":  limit,
		"offset": offset,
	})
}

// run incrementa el contador de disparo manual; el worker lo detecta en
// su próximo tick y procesa todos los flujos habilitados sin esperar
// sus intervalos.
func (h *SyncOpsHandler) run(w http.ResponseWriter, r *http.Request) {
	val, err := h.Cursors.Bump(r.Context(), repository.ManualTriggerCursor)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"triggered": true,
		"sequence":  val,
	})
}
