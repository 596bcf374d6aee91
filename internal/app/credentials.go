package app

import (
	"context"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/agent"
	"github.com/dkeye/Hotline/internal/domain"
	"github.com/dkeye/Hotline/internal/token"
)

// ErrBadTokenRequest keeps the exact wording the caller UI matches on.
var ErrBadTokenRequest = &domain.BadRequestError{
	Reason: "channelName and a valid numeric uid are required",
}

// AgentStarter is what a credential service needs from the provider client.
type AgentStarter interface {
	StartAgent(ctx context.Context, req domain.AgentRequest) (*agent.Response, error)
}

// CredentialService issues channel-scoped tokens and escalates calls to the
// conversational-AI provider. Both operations have external side effects
// (token minted, agent provisioned) and must never be repeated by an
// automatic retry layer.
type CredentialService struct {
	tokens *token.Builder
	agents AgentStarter
}

func NewCredentialService(tokens *token.Builder, agents AgentStarter) *CredentialService {
	return &CredentialService{tokens: tokens, agents: agents}
}

// IssueToken validates the request, then mints a publisher token for the
// channel/uid pair. Request validation failures and deployment failures are
// kept distinct: the first is the caller's problem, the second the
// operator's.
func (s *CredentialService) IssueToken(channelName string, uid int64) (domain.AccessToken, error) {
	if channelName == "" || uid < 0 || uid > math.MaxUint32 {
		return domain.AccessToken{}, ErrBadTokenRequest
	}

	log.Info().
		Str("module", "app.credentials").
		Str("channel", channelName).
		Int64("uid", uid).
		Msg("token requested")

	tok, err := s.tokens.Issue(domain.ChannelName(channelName), domain.UID(uid), domain.RolePublisher)
	if err != nil {
		return domain.AccessToken{}, err
	}

	log.Info().
		Str("module", "app.credentials").
		Str("channel", channelName).
		Time("expires_at", tok.ExpiresAt).
		Msg("token issued")
	return tok, nil
}

// StartAgent forwards the agent-attach request to the provider. The
// response, success or refusal, is the provider's verbatim answer.
func (s *CredentialService) StartAgent(ctx context.Context, req domain.AgentRequest) (*agent.Response, error) {
	if req.Channel == "" || req.Token == "" {
		return nil, &domain.BadRequestError{Reason: "channel_name, remote_uid and token are required"}
	}
	return s.agents.StartAgent(ctx, req)
}
