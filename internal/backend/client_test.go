package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Hotline/internal/domain"
)

func TestFetchToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/agora/token", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "911", body["channelName"])
		assert.EqualValues(t, 42, body["uid"])
		_, _ = w.Write([]byte(`{"token":"signed-token"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	tok, err := c.FetchToken(context.Background(), "911", 42)
	require.NoError(t, err)
	assert.Equal(t, "signed-token", tok)
}

func TestFetchTokenSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Server configuration error"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchToken(context.Background(), "911", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Server configuration error")
}

func TestStartAgentPassesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/agora/convo-ai/start-agent", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "911", body["channel_name"])
		assert.EqualValues(t, 42, body["remote_uid"])
		assert.Equal(t, "tok", body["token"])
		_, _ = w.Write([]byte(`{"agent_id":"a-1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.StartAgent(context.Background(), domain.AgentRequest{Channel: "911", RemoteUID: 42, Token: "tok"})
	require.NoError(t, err)
}

func TestStartAgentRefusalIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"provider down"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.StartAgent(context.Background(), domain.AgentRequest{Channel: "911", RemoteUID: 42, Token: "tok"})

	var upstream *domain.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
}
