package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Hotline/internal/agent"
	"github.com/dkeye/Hotline/internal/domain"
	"github.com/dkeye/Hotline/internal/token"
)

type stubStarter struct {
	err      error
	resp     *agent.Response
	requests []domain.AgentRequest
}

func (s *stubStarter) StartAgent(_ context.Context, req domain.AgentRequest) (*agent.Response, error) {
	s.requests = append(s.requests, req)
	return s.resp, s.err
}

func newService(appID, cert string) *CredentialService {
	return NewCredentialService(token.NewBuilder(appID, cert, time.Hour), &stubStarter{})
}

func TestIssueTokenScope(t *testing.T) {
	svc := newService("app-123", "cert")

	tok, err := svc.IssueToken("911", 42)
	require.NoError(t, err)

	assert.Equal(t, domain.ChannelName("911"), tok.Scope.Channel)
	assert.Equal(t, domain.UID(42), tok.Scope.UID)
	assert.Equal(t, domain.RolePublisher, tok.Scope.Role, "this system issues publisher credentials only")
	assert.Equal(t, time.Hour, tok.ExpiresAt.Sub(tok.IssuedAt))
}

func TestIssueTokenRejectsBadInput(t *testing.T) {
	svc := newService("app-123", "cert")

	cases := []struct {
		name    string
		channel string
		uid     int64
	}{
		{"empty channel", "", 42},
		{"negative uid", "911", -1},
		{"uid overflows uint32", "911", 1 << 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.IssueToken(tc.channel, tc.uid)
			var badReq *domain.BadRequestError
			require.ErrorAs(t, err, &badReq)
			assert.Equal(t, "channelName and a valid numeric uid are required", badReq.Reason)
		})
	}
}

func TestIssueTokenMissingSecrets(t *testing.T) {
	svc := newService("", "")

	// A perfect request still fails when the deployment lacks secrets.
	_, err := svc.IssueToken("911", 42)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestStartAgentValidation(t *testing.T) {
	starter := &stubStarter{resp: &agent.Response{Status: 200, Body: []byte(`{}`)}}
	svc := NewCredentialService(token.NewBuilder("app", "cert", time.Hour), starter)

	_, err := svc.StartAgent(context.Background(), domain.AgentRequest{Channel: "", Token: "tok"})
	var badReq *domain.BadRequestError
	require.ErrorAs(t, err, &badReq)
	assert.Empty(t, starter.requests)

	resp, err := svc.StartAgent(context.Background(), domain.AgentRequest{Channel: "911", RemoteUID: 42, Token: "tok"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	require.Len(t, starter.requests, 1)
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	r.Add("911", 42)
	info, ok := r.Get("911")
	require.True(t, ok)
	assert.Equal(t, CallActive, info.State)
	assert.Equal(t, domain.UID(42), info.UID)
	assert.False(t, info.StartedAt.IsZero())

	r.MarkEscalated("911")
	info, _ = r.Get("911")
	assert.Equal(t, CallEscalated, info.State)

	// Escalating an unknown channel is a no-op, not a panic.
	r.MarkEscalated("nope")

	assert.Len(t, r.Snapshot(), 1)
	r.Remove("911")
	_, ok = r.Get("911")
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())
}
