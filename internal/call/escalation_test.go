package call

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Hotline/internal/core"
	"github.com/dkeye/Hotline/internal/domain"
)

type fakeStarter struct {
	err      error
	requests []domain.AgentRequest
}

func (f *fakeStarter) StartAgent(_ context.Context, req domain.AgentRequest) error {
	f.requests = append(f.requests, req)
	return f.err
}

func TestJoinAndStartAgentHappyPath(t *testing.T) {
	h := newHarness()
	starter := &fakeStarter{}
	esc := NewEscalation(h.session, starter)

	err := esc.JoinAndStartAgent(context.Background(), "911", 42, "tok")
	require.NoError(t, err)

	assert.Equal(t, core.StateConnected, h.session.State())
	// Audio was publishing before the agent was requested.
	assert.Equal(t, 1, h.transport.publishCalls)
	require.Len(t, starter.requests, 1)
	assert.Equal(t, domain.AgentRequest{Channel: "911", RemoteUID: 42, Token: "tok"}, starter.requests[0])
}

func TestAgentFailureUnwindsSession(t *testing.T) {
	h := newHarness()
	starter := &fakeStarter{err: &domain.UpstreamError{Status: 503, Body: []byte(`{"reason":"capacity"}`)}}
	esc := NewEscalation(h.session, starter)

	err := esc.JoinAndStartAgent(context.Background(), "911", 42, "tok")
	require.Error(t, err)

	var upstream *domain.UpstreamError
	assert.ErrorAs(t, err, &upstream)
	assert.Equal(t, core.StateDisconnected, h.session.State(), "no orphaned live publish")
	assert.Equal(t, 1, h.transport.leaveCalls)
	require.Len(t, h.source.tracks, 1)
	assert.Equal(t, 1, h.source.tracks[0].closed)
}

func TestJoinFailureSkipsAgentStart(t *testing.T) {
	h := newHarness()
	h.transport.joinErr = errors.New("token rejected")
	starter := &fakeStarter{}
	esc := NewEscalation(h.session, starter)

	err := esc.JoinAndStartAgent(context.Background(), "911", 42, "tok")

	var joinErr *domain.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Empty(t, starter.requests, "agent must not start without live audio")
}

func TestEscalationValidatesInput(t *testing.T) {
	h := newHarness()
	esc := NewEscalation(h.session, &fakeStarter{})

	var badReq *domain.BadRequestError
	err := esc.JoinAndStartAgent(context.Background(), "", 42, "tok")
	require.ErrorAs(t, err, &badReq)

	err = esc.JoinAndStartAgent(context.Background(), "911", 42, "")
	require.ErrorAs(t, err, &badReq)
	assert.Zero(t, h.transport.joinCalls)
}

func TestEscalationLeaveTearsDownSession(t *testing.T) {
	h := newHarness()
	esc := NewEscalation(h.session, &fakeStarter{})
	require.NoError(t, esc.JoinAndStartAgent(context.Background(), "911", 42, "tok"))

	esc.Leave(context.Background())

	assert.Equal(t, core.StateDisconnected, h.session.State())
	assert.Equal(t, 1, h.transport.leaveCalls)
}
