package call

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/domain"
)

// AgentStarter requests agent attachment through the backend. Implemented by
// backend.Client.
type AgentStarter interface {
	StartAgent(ctx context.Context, req domain.AgentRequest) error
}

// Escalation composes a publisher join with an agent-start request. Audio
// must be publishing before the agent attaches so the agent has a live
// remote track to listen to.
type Escalation struct {
	session *Session
	agents  AgentStarter
}

func NewEscalation(session *Session, agents AgentStarter) *Escalation {
	return &Escalation{session: session, agents: agents}
}

func (e *Escalation) Session() *Session { return e.session }

// JoinAndStartAgent joins the channel as a publisher, then asks the backend
// to attach the agent. If the agent start fails after the join succeeded,
// the session is fully unwound before the error propagates: a live publish
// with no agent attached is not a valid end state for this workflow.
func (e *Escalation) JoinAndStartAgent(ctx context.Context, channel domain.ChannelName, uid domain.UID, accessToken string) error {
	if channel == "" || accessToken == "" {
		return &domain.BadRequestError{Reason: "channel name, uid and token are required"}
	}

	if err := e.session.Join(ctx, channel, accessToken, &uid, domain.RolePublisher); err != nil {
		return err
	}

	req := domain.AgentRequest{Channel: channel, RemoteUID: uid, Token: accessToken}
	if err := e.agents.StartAgent(ctx, req); err != nil {
		log.Error().Err(err).
			Str("module", "call.escalation").
			Str("channel", string(channel)).
			Msg("agent start failed, unwinding session")
		e.session.Leave(ctx)
		return fmt.Errorf("start agent: %w", err)
	}

	log.Info().
		Str("module", "call.escalation").
		Str("channel", string(channel)).
		Uint32("uid", uint32(uid)).
		Msg("agent escalation complete")
	return nil
}

// Leave tears down the local session. The agent side is not detached
// explicitly: the provider reclaims the agent through its idle timeout once
// the caller's audio stops, and there is no detach endpoint to call.
func (e *Escalation) Leave(ctx context.Context) {
	e.session.Leave(ctx)
}
