package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Hotline/internal/domain"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder("app-123", "cert-secret", time.Hour)
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return b
}

func TestIssueScopeMatchesInput(t *testing.T) {
	b := newTestBuilder(t)

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	assert.NotEmpty(t, tok.Value)
	assert.Equal(t, domain.ChannelName("911"), tok.Scope.Channel)
	assert.Equal(t, domain.UID(42), tok.Scope.UID)
	assert.Equal(t, domain.RolePublisher, tok.Scope.Role)
}

func TestIssueValidityWindow(t *testing.T) {
	b := NewBuilder("app-123", "cert-secret", 30*time.Minute)
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, tok.ExpiresAt.Sub(tok.IssuedAt))
	assert.True(t, tok.ExpiresAt.After(tok.IssuedAt))
}

func TestIssueMissingSecretsIsConfigError(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
	}{
		{"no app id", NewBuilder("", "cert-secret", time.Hour)},
		{"no certificate", NewBuilder("app-123", "", time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Request is syntactically perfect; the deployment is not.
			_, err := tc.b.Issue("911", 42, domain.RolePublisher)
			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	b := newTestBuilder(t)

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	scope, err := b.Verify(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, tok.Scope, scope)
}

func TestVerifyForRejectsForeignScope(t *testing.T) {
	b := newTestBuilder(t)

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	_, err = b.VerifyFor(tok.Value, "911", 42)
	require.NoError(t, err)

	_, err = b.VerifyFor(tok.Value, "912", 42)
	assert.True(t, errors.Is(err, ErrScopeMismatch))

	_, err = b.VerifyFor(tok.Value, "911", 43)
	assert.True(t, errors.Is(err, ErrScopeMismatch))
}

func TestVerifyRejectsExpired(t *testing.T) {
	b := NewBuilder("app-123", "cert-secret", time.Hour)
	issuedAt := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return issuedAt }

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	b.now = func() time.Time { return issuedAt.Add(2 * time.Hour) }
	_, err = b.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRejectsTampering(t *testing.T) {
	b := newTestBuilder(t)

	tok, err := b.Issue("911", 42, domain.RolePublisher)
	require.NoError(t, err)

	other := NewBuilder("app-123", "different-cert", time.Hour)
	_, err = other.Verify(tok.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
