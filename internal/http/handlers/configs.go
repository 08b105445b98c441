package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
)

// ConfigsHandler administra los flujos de replicación. Solo admin.
type ConfigsHandler struct {
	Configs  repository.SyncConfigStore
	Replicas map[string]repository.ReplicaStore
}

func (h *ConfigsHandler) Register(r chi.Router) {
	r.Get("/v1/sync/configs", h.list)
	r.Post("/v1/sync/configs", h.create)
	r.Put("/v1/sync/configs/{id}", h.update)
	r.Delete("/v1/sync/configs/{id}", h.delete)
}

type configRequest struct {
	Table     string `json:"table_name"`
	Origin    string `json:"origin"`
	Target    string `json:"target"`
	Mode      string `json:"mode"`
	Enabled   *bool  `json:"enabled"`
	IntervalS int    `json:"interval_seconds"`
}

func (h *ConfigsHandler) validate(w http.ResponseWriter, req *configRequest) bool {
	if req.Table == "" || req.Origin == "" || req.Target == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "table_name, origin y target son requeridos")
		return false
	}
	if req.Origin == req.Target {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "origin y target no pueden ser la misma réplica")
		return false
	}
	if _, ok := h.Replicas[req.Origin]; !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "origin desconocido: "+req.Origin)
		return false
	}
	if _, ok := h.Replicas[req.Target]; !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "target desconocido: "+req.Target)
		return false
	}
	switch req.Mode {
	case "":
		req.Mode = repository.ModeRealtime
	case repository.ModeRealtime, repository.ModeScheduled:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "mode debe ser realtime o scheduled")
		return false
	}
	if req.Mode == repository.ModeScheduled && req.IntervalS <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "un flujo scheduled requiere interval_seconds > 0")
		return false
	}
	if req.IntervalS < 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "interval_seconds no puede ser negativo")
		return false
	}
	return true
}

func (h *ConfigsHandler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.Configs.List(r.Context())
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if items == nil {
		items = []repository.SyncConfig{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ConfigsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if !h.validate(w, &req) {
		return
	}

	cfg := repository.SyncConfig{
		Table:     req.Table,
		Origin:    req.Origin,
		Target:    req.Target,
		Mode:      req.Mode,
		Enabled:   req.Enabled == nil || *req.Enabled,
		IntervalS: req.IntervalS,
	}
	if err := h.Configs.Create(r.Context(), &cfg); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, cfg)
}

func (h *ConfigsHandler) update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "id inválido")
		return
	}

	var req configRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if !h.validate(w, &req) {
		return
	}

	cfg, err := h.Configs.Get(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	cfg.Table = req.Table
	cfg.Origin = req.Origin
	cfg.Target = req.Target
	cfg.Mode = req.Mode
	cfg.IntervalS = req.IntervalS
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := h.Configs.Update(r.Context(), cfg); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}

func (h *ConfigsHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "id inválido")
		return
	}
	if err := h.Configs.Delete(r.Context(), id); err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
