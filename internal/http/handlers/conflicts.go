package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/syncmesh/internal/conflict"
	"github.com/dropDatabas3/syncmesh/internal/conflictlink"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
)

// ConflictsHandler expone la cola de conflictos y su resolución.
// Autorización: API key de admin, o un token de sesión de magic link
// que solo habilita SU conflicto.
type ConflictsHandler struct {
	Svc    *conflict.Service
	Links  *conflictlink.Issuer
	APIKey string
}

func (h *ConflictsHandler) Register(r chi.Router) {
	r.Get("/v1/sync/conflicts", h.list)
	r.Get("/v1/sync/conflicts/{id}", h.get)
	r.Put("/v1/sync/conflicts/{id}/resolve", h.resolve)
	r.Post("/v1/sync/conflicts/resolve-all", h.resolveAll)
}

// authorize deja pasar admins siempre; un token de sesión solo si está
// atado al conflicto pedido y (para resolver) con purpose resolve.
// conflictID vacío = endpoint de colección, solo admin.
func (h *ConflictsHandler) authorize(w http.ResponseWriter, r *http.Request, conflictID string, needResolve bool) bool {
	if httpx.AdminKey(r, h.APIKey) {
		return true
	}
	tok := httpx.BearerToken(r)
	if tok == "" || conflictID == "" || h.Links == nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="syncmesh"`)
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "credenciales requeridas")
		return false
	}
	claims, err := h.Links.ValidateSession(tok)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return false
	}
	if claims.ConflictID != conflictID {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "la sesión no corresponde a este conflicto")
		return false
	}
	if needResolve && claims.Purpose != conflictlink.PurposeResolve {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "la sesión no permite resolver")
		return false
	}
	return true
}

func (h *ConflictsHandler) list(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "", false) {
		return
	}
	q := r.URL.Query()

	f := repository.ConflictFilter{
		Table:  q.Get("table"),
		Origin: q.Get("source"),
		Target: q.Get("target"),
		Status: repository.ConflictPending,
	}
	if q.Get("resolved") == "true" {
		f.Status = repository.ConflictResolved
	}

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(q.Get("page_size"))
	if size < 1 || size > 200 {
		size = 50
	}
	f.Limit = size
	f.Offset = (page - 1) * size

	items, total, err := h.Svc.List(r.Context(), f)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	if items == nil {
		items = []repository.ConflictRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

func (h *ConflictsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorize(w, r, id, false) {
		return
	}
	det, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, det)
}

type resolveRequest struct {
	Strategy   string         `json:"strategy"`
	Note       string         `json:"note"`
	Payload    map[string]any `json:"payload"`
	ResolvedBy string         `json:"resolved_by"`
}

func (h *ConflictsHandler) resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.authorize(w, r, id, true) {
		return
	}

	var req resolveRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}

	rec, err := h.Svc.Resolve(r.Context(), id, req.Strategy, req.Note, req.ResolvedBy, req.Payload)
	if err != nil {
		switch {
		case errors.Is(err, conflict.ErrInvalidStrategy), errors.Is(err, conflict.ErrMissingPayload):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		default:
			httpx.WriteDomainError(w, err)
		}
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

type resolveAllRequest struct {
	Table      string `json:"table"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	Strategy   string `json:"strategy"`
	Note       string `json:"note"`
	ResolvedBy string `json:"resolved_by"`
}

func (h *ConflictsHandler) resolveAll(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, "", false) {
		return
	}

	var req resolveAllRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.ResolvedBy == "" {
		req.ResolvedBy = "operator"
	}

	filter := repository.ConflictFilter{
		Table:  req.Table,
		Origin: req.Source,
		Target: req.Target,
	}
	results, err := h.Svc.ResolveAll(r.Context(), filter, req.Strategy, req.Note, req.ResolvedBy)
	if err != nil {
		if errors.Is(err, conflict.ErrInvalidStrategy) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		httpx.WriteDomainError(w, err)
		return
	}
	if results == nil {
		results = []conflict.ResolveResult{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
}
