package conflictlink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/dropDatabas3/syncmesh/internal/cache/memory"
	"github.com/dropDatabas3/syncmesh/internal/domain/repository"
)

func newTestIssuer(linkTTL time.Duration) *Issuer {
	return NewIssuer("test-secret", "syncmesh-test", linkTTL, 15*time.Minute, cachemem.New(time.Minute))
}

func TestRedeemHappyPath(t *testing.T) {
	iss := newTestIssuer(30 * time.Minute)

	link, err := iss.IssueLink("conf-1", PurposeResolve)
	require.NoError(t, err)

	session, claims, err := iss.Redeem(link)
	require.NoError(t, err)
	assert.Equal(t, "conf-1", claims.ConflictID)
	assert.Equal(t, ScopeSession, claims.Scope)
	assert.Equal(t, PurposeResolve, claims.Purpose)

	got, err := iss.ValidateSession(session)
	require.NoError(t, err)
	assert.Equal(t, "conf-1", got.ConflictID)
	assert.Equal(t, PurposeResolve, got.Purpose)
}

func TestRedeemIsSingleUse(t *testing.T) {
	iss := newTestIssuer(30 * time.Minute)

	link, err := iss.IssueLink("conf-1", PurposeResolve)
	require.NoError(t, err)

	_, _, err = iss.Redeem(link)
	require.NoError(t, err)

	_, _, err = iss.Redeem(link)
	assert.ErrorIs(t, err, repository.ErrTokenAlreadyUsed)
}

func TestRedeemExpiredLink(t *testing.T) {
	iss := newTestIssuer(-time.Minute)

	link, err := iss.IssueLink("conf-1", PurposeView)
	require.NoError(t, err)

	_, _, err = iss.Redeem(link)
	assert.ErrorIs(t, err, repository.ErrTokenExpired)
}

func TestLinkIsNotASession(t *testing.T) {
	iss := newTestIssuer(30 * time.Minute)

	link, err := iss.IssueLink("conf-1", PurposeResolve)
	require.NoError(t, err)

	_, err = iss.ValidateSession(link)
	assert.ErrorIs(t, err, repository.ErrInvalidToken)
}

func TestForeignSecretRejected(t *testing.T) {
	iss := newTestIssuer(30 * time.Minute)
	other := NewIssuer("other-secret", "syncmesh-test", 30*time.Minute, 15*time.Minute, cachemem.New(time.Minute))

	link, err := other.IssueLink("conf-1", PurposeResolve)
	require.NoError(t, err)

	_, _, err = iss.Redeem(link)
	assert.ErrorIs(t, err, repository.ErrInvalidToken)
}

func TestUnknownPurposeRejected(t *testing.T) {
	iss := newTestIssuer(30 * time.Minute)
	_, err := iss.IssueLink("conf-1", "superuser")
	assert.Error(t, err)
}
