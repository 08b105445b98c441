package repository

import (
	"errors"
	"fmt"
)

// Errores sentinela del dominio. Los adapters de storage traducen sus
// errores nativos (sql.ErrNoRows, pgx.ErrNoRows, etc.) a estos para que
// los servicios y handlers HTTP no dependan del driver.
var (
	ErrNotFound         = errors.New("repository: not found")
	ErrConfigNotFound   = errors.New("repository: sync config not found")
	ErrAlreadyResolved  = errors.New("repository: conflict already resolved")
	ErrTokenExpired     = errors.New("repository: token expired")
	ErrTokenAlreadyUsed = errors.New("repository: token already used")
	ErrInvalidToken     = errors.New("repository: invalid token")
	ErrDuplicateConfig  = errors.New("repository: sync config already exists")
)

// IsNotFound cubre los dos sentinelas de ausencia.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfigNotFound)
}

// TransientError marca una falla de apply que puede resolverse sola
// (réplica caída, timeout). El worker corta el batch sin avanzar el
// cursor y reintenta en el próximo ciclo.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient envuelve err como falla transitoria.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reporta si err (o su cadena) es una falla transitoria.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PermanentError marca una falla de apply que no va a resolverse
// reintentando (violación de constraint, payload malformado).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent envuelve err como falla permanente.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reporta si err (o su cadena) es una falla permanente.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
