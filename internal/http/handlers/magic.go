package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/syncmesh/internal/conflictlink"
	httpx "github.com/dropDatabas3/syncmesh/internal/http"
)

// MagicHandler canjea los magic links que viajan en los emails de
// conflicto por sesiones cortas atadas a ese conflicto. Público: el
// token ES la credencial.
type MagicHandler struct {
	Links *conflictlink.Issuer
}

func (h *MagicHandler) Register(r chi.Router) {
	r.Post("/v1/auth/magic/conflict", h.redeem)
}

type redeemRequest struct {
	Token string `json:"token"`
}

func (h *MagicHandler) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !httpx.ReadJSON(w, r, &req) {
		return
	}
	if req.Token == "" {
		// fallback: el link del email puede llegar como query param
		req.Token = r.URL.Query().Get("token")
	}
	if req.Token == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "token requerido")
		return
	}

	session, claims, err := h.Links.Redeem(req.Token)
	if err != nil {
		httpx.WriteDomainError(w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"session_token": session,
		"conflict_id":   claims.ConflictID,
		"purpose":       claims.Purpose,
		"expires_at":    claims.ExpiresAt.Time,
	})
}
