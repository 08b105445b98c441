// Package conflictlink emite y canjea los magic links de conflicto:
// JWTs de capacidad acotada que dejan a un operador ver y resolver UN
// conflicto puntual, sin credenciales de admin.
package conflictlink

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dropDatabas3/syncmesh/internal/cache"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

const (
	// ScopeLink es el scope del token que viaja en el email.
	ScopeLink = "conflict_link"
	// ScopeSession es el scope del token de sesión corto que devuelve
	// el canje del link.
	ScopeSession = "conflict_session"

	// PurposeResolve habilita ver y resolver; PurposeView solo ver.
	PurposeResolve = "resolve"
	PurposeView    = "view"
)

// Issuer firma y valida los tokens de conflicto.
type Issuer struct {
	secret     []byte
	issuer     string
	linkTTL    time.Duration
	sessionTTL time.Duration

	// used registra los jti de links ya canjeados (single-use).
	used cache.Cache
}

func NewIssuer(secret, issuer string, linkTTL, sessionTTL time.Duration, used cache.Cache) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		linkTTL:    linkTTL,
		sessionTTL: sessionTTL,
		used:       used,
	}
}

// Claims son los claims de ambos tipos de token.
type Claims struct {
	Scope      string `json:"scope"`
	Purpose    string `json:"purpose,omitempty"`
	ConflictID string `json:"conflict_id"`
	jwt.RegisteredClaims
}

// IssueLink emite el token que viaja en el magic link del email.
func (i *Issuer) IssueLink(conflictID, purpose string) (string, error) {
	if purpose != PurposeResolve && purpose != PurposeView {
		return "", fmt.Errorf("conflictlink: unknown purpose %q", purpose)
	}
	now := time.Now().UTC()
	claims := Claims{
		Scope:      ScopeLink,
		Purpose:    purpose,
		ConflictID: conflictID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.linkTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Redeem valida un token de link y lo consume: emite una sesión corta
// atada al mismo conflicto. Un link canjeado dos veces devuelve
// ErrTokenAlreadyUsed.
func (i *Issuer) Redeem(token string) (string, *Claims, error) {
	claims, err := i.parse(token, ScopeLink)
	if err != nil {
		return "", nil, err
	}

	if _, seen := i.used.Get(jtiKey(claims.ID)); seen {
		return "", nil, repository.ErrTokenAlreadyUsed
	}
	// El registro expira junto con el token; después de exp el token
	// ya no valida y el jti no hace falta.
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return "", nil, repository.ErrTokenExpired
	}
	i.used.Set(jtiKey(claims.ID), []byte("1"), ttl)

	now := time.Now().UTC()
	session := Claims{
		Scope:      ScopeSession,
		Purpose:    claims.Purpose,
		ConflictID: claims.ConflictID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.sessionTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, session).SignedString(i.secret)
	if err != nil {
		return "", nil, err
	}
	return signed, &session, nil
}

// ValidateSession valida un token de sesión y devuelve sus claims.
func (i *Issuer) ValidateSession(token string) (*Claims, error) {
	return i.parse(token, ScopeSession)
}

func (i *Issuer) parse(token, wantScope string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("conflictlink: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, repository.ErrTokenExpired
		}
		return nil, repository.ErrInvalidToken
	}
	if claims.Scope != wantScope {
		return nil, repository.ErrInvalidToken
	}
	if claims.ConflictID == "" {
		return nil, repository.ErrInvalidToken
	}
	return &claims, nil
}

func jtiKey(jti string) string { return "conflictlink:jti:" + jti }
