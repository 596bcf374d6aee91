package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/app"
	"github.com/dkeye/Hotline/internal/domain"
)

type Handlers struct {
	Creds    *app.CredentialService
	Registry *app.Registry
}

type tokenRequest struct {
	ChannelName string `json:"channelName"`
	UID         any    `json:"uid"`
}

// parseUID accepts both a JSON number and a numeric string, matching the
// parseInt behaviour the browser clients rely on.
func parseUID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		n := int64(v)
		if float64(n) != v {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (h *Handlers) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": app.ErrBadTokenRequest.Reason})
		return
	}

	uid, ok := parseUID(req.UID)
	if !ok || req.ChannelName == "" {
		log.Warn().Str("module", "adapters.http").Str("channel", req.ChannelName).Msg("invalid token request")
		c.JSON(http.StatusBadRequest, gin.H{"error": app.ErrBadTokenRequest.Reason})
		return
	}

	tok, err := h.Creds.IssueToken(req.ChannelName, uid)
	if err != nil {
		var badReq *domain.BadRequestError
		var cfgErr *domain.ConfigError
		switch {
		case errors.As(err, &badReq):
			c.JSON(http.StatusBadRequest, gin.H{"error": badReq.Reason})
		case errors.As(err, &cfgErr):
			log.Error().Err(err).Str("module", "adapters.http").Msg("token service misconfigured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server configuration error"})
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("token generation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		}
		return
	}

	log.Info().
		Str("module", "adapters.http").
		Str("channel", string(tok.Scope.Channel)).
		Uint32("uid", uint32(tok.Scope.UID)).
		Msg("token issued")
	c.JSON(http.StatusOK, gin.H{"token": tok.Value})
}

type startAgentRequest struct {
	ChannelName string `json:"channel_name"`
	RemoteUID   any    `json:"remote_uid"`
	Token       string `json:"token"`
}

func (h *Handlers) StartAgent(c *gin.Context) {
	var req startAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_name, remote_uid and token are required"})
		return
	}

	// Browser clients send the uid either as a number or a string.
	remoteUID, ok := parseUID(req.RemoteUID)
	if !ok || remoteUID < 0 || remoteUID > math.MaxUint32 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel_name, remote_uid and token are required"})
		return
	}

	resp, err := h.Creds.StartAgent(c.Request.Context(), domain.AgentRequest{
		Channel:   domain.ChannelName(req.ChannelName),
		RemoteUID: domain.UID(remoteUID),
		Token:     req.Token,
	})
	if err != nil {
		var badReq *domain.BadRequestError
		var upstream *domain.UpstreamError
		switch {
		case errors.As(err, &badReq):
			c.JSON(http.StatusBadRequest, gin.H{"error": badReq.Reason})
		case errors.As(err, &upstream) && upstream.Status > 0:
			// The provider answered; pass its verdict through untouched.
			c.Data(upstream.Status, "application/json", upstream.Body)
		default:
			log.Error().Err(err).Str("module", "adapters.http").Msg("agent start failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	h.Registry.MarkEscalated(domain.ChannelName(req.ChannelName))
	c.Data(resp.Status, "application/json", resp.Body)
}

func (h *Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"calls": h.Registry.Snapshot()})
}
