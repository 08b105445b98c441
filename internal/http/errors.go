package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rid := w.Header().Get("X-Request-ID")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error:            code,
		ErrorDescription: desc,
		RequestID:        rid,
	})
}

// WriteJSON: respuesta JSON estándar
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON: decodifica JSON de forma tolerante (NO falla por campos
// desconocidos). Valida Content-Type y limita el body a 1MB.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		WriteError(w, http.StatusBadRequest, "invalid_json", "Content-Type debe ser application/json")
		return false
	}
	// máx 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err != io.EOF {
		WriteError(w, http.StatusBadRequest, "invalid_json", "json inválido")
		return false
	}
	return true
}

// WriteDomainError mapea errores de dominio a status HTTP.
func WriteDomainError(w http.ResponseWriter, err error) {
	switch {
	case repository.IsNotFound(err):
		WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, repository.ErrAlreadyResolved):
		WriteError(w, http.StatusConflict, "already_resolved", err.Error())
	case errors.Is(err, repository.ErrDuplicateConfig):
		WriteError(w, http.StatusConflict, "duplicate_config", err.Error())
	case errors.Is(err, repository.ErrTokenExpired):
		WriteError(w, http.StatusUnauthorized, "token_expired", err.Error())
	case errors.Is(err, repository.ErrTokenAlreadyUsed):
		WriteError(w, http.StatusUnauthorized, "token_already_used", err.Error())
	case errors.Is(err, repository.ErrInvalidToken):
		WriteError(w, http.StatusUnauthorized, "invalid_token", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
