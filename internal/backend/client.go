// Package backend is the typed client for this service's own HTTP API, used
// by the caller CLI and the escalation flow.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/Hotline/internal/domain"
)

type Client struct {
	base string
	http *http.Client
}

func NewClient(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type tokenRequest struct {
	ChannelName string `json:"channelName"`
	UID         uint32 `json:"uid"`
}

type tokenResponse struct {
	Token string `json:"token"`
	Error string `json:"error"`
}

// FetchToken requests a fresh publisher token for the channel/uid pair.
// One token per join attempt; callers must not share the result across
// attempts.
func (c *Client) FetchToken(ctx context.Context, channel domain.ChannelName, uid domain.UID) (string, error) {
	body, err := json.Marshal(tokenRequest{ChannelName: string(channel), UID: uint32(uid)})
	if err != nil {
		return "", err
	}

	resp, err := c.post(ctx, "/api/agora/token", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request refused (%d): %s", resp.StatusCode, tr.Error)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token response empty")
	}
	return tr.Token, nil
}

type startAgentRequest struct {
	ChannelName string `json:"channel_name"`
	RemoteUID   uint32 `json:"remote_uid"`
	Token       string `json:"token"`
}

// StartAgent asks the backend to attach the conversational agent to the
// channel. Not retried on failure; the caller decides what to unwind.
func (c *Client) StartAgent(ctx context.Context, req domain.AgentRequest) error {
	body, err := json.Marshal(startAgentRequest{
		ChannelName: string(req.Channel),
		RemoteUID:   uint32(req.RemoteUID),
		Token:       req.Token,
	})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/api/agora/convo-ai/start-agent", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &domain.UpstreamError{Status: resp.StatusCode, Body: raw}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Body: []byte(err.Error())}
	}
	return resp, nil
}
