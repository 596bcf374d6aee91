// Package agent talks to the hosted conversational-AI provider. One
// synchronous round trip per call, bounded wait, no retries: attaching an
// agent provisions a billable remote participant and repeating the request
// would spawn a duplicate.
package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/config"
	"github.com/dkeye/Hotline/internal/domain"
)

type Client struct {
	http   *http.Client
	appID  string
	key    string
	secret string
	cfg    config.AgentConfig
}

func NewClient(appID, key, secret string, cfg config.AgentConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		appID:  appID,
		key:    key,
		secret: secret,
		cfg:    cfg,
	}
}

// Response is the provider's body and status, proxied verbatim to callers.
type Response struct {
	Status int
	Body   json.RawMessage
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmParams struct {
	Model string `json:"model"`
}

type llmBlock struct {
	URL             string       `json:"url"`
	APIKey          string       `json:"api_key"`
	SystemMessages  []llmMessage `json:"system_messages"`
	GreetingMessage string       `json:"greeting_message"`
	FailureMessage  string       `json:"failure_message"`
	Params          llmParams    `json:"params"`
}

type ttsVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   float64 `json:"pitch"`
	Emotion string  `json:"emotion"`
}

type ttsAudioSetting struct {
	SampleRate int `json:"sample_rate"`
}

type ttsParams struct {
	URL          string          `json:"url"`
	GroupID      string          `json:"group_id"`
	Key          string          `json:"key"`
	Model        string          `json:"model"`
	VoiceSetting ttsVoiceSetting `json:"voice_setting"`
	AudioSetting ttsAudioSetting `json:"audio_setting"`
}

type ttsBlock struct {
	Vendor string    `json:"vendor"`
	Params ttsParams `json:"params"`
}

type agentProperties struct {
	Channel         string   `json:"channel"`
	Token           string   `json:"token"`
	AgentRTCUID     string   `json:"agent_rtc_uid"`
	RemoteRTCUIDs   []string `json:"remote_rtc_uids"`
	EnableStringUID bool     `json:"enable_string_uid"`
	IdleTimeout     int      `json:"idle_timeout"`
	LLM             llmBlock `json:"llm"`
	TTS             ttsBlock `json:"tts"`
}

type joinPayload struct {
	Name       string          `json:"name"`
	Properties agentProperties `json:"properties"`
}

func (c *Client) authHeader() string {
	pair := c.key + ":" + c.secret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(pair))
}

func (c *Client) payload(req domain.AgentRequest) joinPayload {
	return joinPayload{
		Name: fmt.Sprintf("agent-%d", time.Now().UnixMilli()),
		Properties: agentProperties{
			Channel:       string(req.Channel),
			Token:         req.Token,
			AgentRTCUID:   c.cfg.AgentUID,
			RemoteRTCUIDs: []string{fmt.Sprintf("%d", uint32(req.RemoteUID))},
			IdleTimeout:   c.cfg.IdleTimeout,
			LLM: llmBlock{
				URL:             c.cfg.LLMURL,
				APIKey:          c.cfg.LLMKey,
				SystemMessages:  []llmMessage{{Role: "system", Content: c.cfg.SystemPrompt}},
				GreetingMessage: c.cfg.Greeting,
				FailureMessage:  c.cfg.FailureMessage,
				Params:          llmParams{Model: c.cfg.LLMModel},
			},
			TTS: ttsBlock{
				Vendor: c.cfg.TTSVendor,
				Params: ttsParams{
					URL:     c.cfg.TTSURL,
					GroupID: c.cfg.TTSGroupID,
					Key:     c.cfg.TTSKey,
					Model:   c.cfg.TTSModel,
					VoiceSetting: ttsVoiceSetting{
						VoiceID: c.cfg.TTSVoiceID,
						Speed:   1,
						Vol:     1,
						Emotion: "happy",
					},
					AudioSetting: ttsAudioSetting{SampleRate: 16000},
				},
			},
		},
	}
}

// StartAgent asks the provider to join the channel as a synthetic
// participant. Non-2xx answers come back as UpstreamError carrying the
// provider's status and body; transport failures carry status 0.
func (c *Client) StartAgent(ctx context.Context, req domain.AgentRequest) (*Response, error) {
	url := fmt.Sprintf("%s/api/conversational-ai-agent/v2/projects/%s/join", c.cfg.BaseURL, c.appID)

	body, err := json.Marshal(c.payload(req))
	if err != nil {
		return nil, fmt.Errorf("encode agent payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader())
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info().
		Str("module", "agent").
		Str("channel", string(req.Channel)).
		Uint32("remote_uid", uint32(req.RemoteUID)).
		Msg("starting conversational agent")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &domain.UpstreamError{Body: []byte(err.Error())}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Body: []byte(err.Error())}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().
			Str("module", "agent").
			Int("status", resp.StatusCode).
			Str("channel", string(req.Channel)).
			Msg("provider refused agent start")
		return nil, &domain.UpstreamError{Status: resp.StatusCode, Body: raw}
	}

	log.Info().
		Str("module", "agent").
		Int("status", resp.StatusCode).
		Str("channel", string(req.Channel)).
		Msg("agent started")
	return &Response{Status: resp.StatusCode, Body: raw}, nil
}
