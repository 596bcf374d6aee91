// Package signal is the server end of the development transport: a
// websocket envelope protocol for join/offer/candidate/leave plus a
// loopback answer peer, so callers can exercise the full session lifecycle
// against this server alone.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/app"
	"github.com/dkeye/Hotline/internal/domain"
	"github.com/dkeye/Hotline/internal/token"
)

// echoUID identifies the loopback peer in published/left notifications. It
// deliberately matches the agent uid the provider config uses, so the
// caller-side subscribe path behaves the same in dev as with a real agent.
const echoUID domain.UID = 999

var (
	ErrBackpressure = errors.New("send buffer full")
	ErrSignalDown   = errors.New("signal connection closed")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Controller struct {
	Registry *app.Registry
	Tokens   *token.Builder
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend never blocks the signal dispatch loop and is safe to call from
// peer callbacks that may outlive the connection.
func (c *wsConn) trySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSignalDown
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// callConn is one caller's signal connection and its negotiated state.
type callConn struct {
	ws      *wsConn
	channel domain.ChannelName
	uid     domain.UID
	peer    *answerPeer
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("ws upgrade failed")
		return
	}

	cc := &callConn{
		ws: &wsConn{conn: ws, send: make(chan []byte, 32)},
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cc.ws)
	go func() {
		defer cancel()
		ctl.readPump(ctx, cc)
	}()
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.signal").Msg("write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cc *callConn) {
	defer func() {
		ctl.teardown(cc)
		cc.ws.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := cc.ws.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "adapters.signal").Str("channel", string(cc.channel)).Msg("connection closed")
				return
			}
			ctl.dispatch(ctx, cc, data)
		}
	}
}

func (ctl *Controller) teardown(cc *callConn) {
	if cc.peer != nil {
		cc.peer.close()
		cc.peer = nil
	}
	if cc.channel != "" {
		ctl.Registry.Remove(cc.channel)
		cc.channel = ""
	}
}

func (ctl *Controller) dispatch(ctx context.Context, cc *callConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(cc.ws, "bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(cc, data)
	case "offer":
		ctl.handleOffer(ctx, cc, data)
	case "candidate":
		ctl.handleCandidate(cc, data)
	case "leave":
		ctl.handleLeave(cc)
	case "ping":
		ctl.sendJSON(cc.ws, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "adapters.signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(cc.ws, "unknown signal type")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("marshal failed")
		return
	}
	if err := c.trySend(b); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("dropping signal message")
	}
}

func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, map[string]any{"type": "error", "error": msg})
}

func (ctl *Controller) handleJoin(cc *callConn, data []byte) {
	var p struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		UID     uint32 `json:"uid"`
		Token   string `json:"token"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(cc.ws, "bad join payload")
		return
	}

	channel, err := domain.NewChannelName(p.Channel)
	if err != nil {
		ctl.sendError(cc.ws, err.Error())
		return
	}
	if cc.channel != "" {
		ctl.sendError(cc.ws, "already joined")
		return
	}

	uid := domain.UID(p.UID)
	if uid == 0 {
		// Transport-assigned identity; the token stays pinned to the
		// channel only.
		uid = domain.UID(uuid.New().ID())
		scope, err := ctl.Tokens.Verify(p.Token)
		if err != nil || scope.Channel != channel {
			ctl.sendError(cc.ws, "invalid token")
			return
		}
	} else if _, err := ctl.Tokens.VerifyFor(p.Token, channel, uid); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Str("channel", p.Channel).Msg("join rejected")
		ctl.sendError(cc.ws, "invalid token")
		return
	}

	cc.channel = channel
	cc.uid = uid
	ctl.Registry.Add(channel, uid)

	log.Info().
		Str("module", "adapters.signal").
		Str("channel", string(channel)).
		Uint32("uid", uint32(uid)).
		Msg("caller joined")
	ctl.sendJSON(cc.ws, map[string]any{"type": "joined", "uid": uint32(uid)})
}

func (ctl *Controller) handleOffer(ctx context.Context, cc *callConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		SDP  string `json:"sdp"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(cc.ws, "bad offer payload")
		return
	}
	if cc.channel == "" {
		ctl.sendError(cc.ws, "join first")
		return
	}

	if cc.peer == nil {
		peer, err := newAnswerPeer(cc.channel)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.signal").Msg("peer create failed")
			ctl.sendError(cc.ws, "peer setup failed")
			return
		}
		peer.onICE = func(ci webrtc.ICECandidateInit) {
			ctl.sendCandidate(cc.ws, ci)
		}
		peer.onTrack = func() {
			// Loopback audio is about to flow; announce it like a remote
			// publish so the caller subscribes.
			ctl.sendJSON(cc.ws, map[string]any{
				"type":  "published",
				"uid":   uint32(echoUID),
				"media": "audio",
			})
		}
		peer.onClosed = func() {
			ctl.sendJSON(cc.ws, map[string]any{"type": "left", "uid": uint32(echoUID)})
		}
		peer.start(ctx)
		cc.peer = peer
	}

	answer, err := cc.peer.applyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("offer apply failed")
		ctl.sendError(cc.ws, "offer rejected")
		return
	}

	ctl.sendJSON(cc.ws, map[string]any{"type": "answer", "sdp": answer.SDP})
}

func (ctl *Controller) sendCandidate(c *wsConn, ci webrtc.ICECandidateInit) {
	resp := map[string]any{
		"type":      "candidate",
		"candidate": ci.Candidate,
	}
	if ci.SDPMid != nil {
		resp["sdpMid"] = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp["sdpMLineIndex"] = *ci.SDPMLineIndex
	}
	ctl.sendJSON(c, resp)
}

func (ctl *Controller) handleCandidate(cc *callConn, data []byte) {
	var p struct {
		Type          string `json:"type"`
		Candidate     string `json:"candidate"`
		SDPMid        string `json:"sdpMid"`
		SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(cc.ws, "bad candidate payload")
		return
	}
	if cc.peer == nil {
		log.Warn().Str("module", "adapters.signal").Msg("candidate before offer")
		return
	}

	cand := webrtc.ICECandidateInit{Candidate: p.Candidate}
	if p.SDPMid != "" {
		cand.SDPMid = &p.SDPMid
	}
	cand.SDPMLineIndex = &p.SDPMLineIndex

	if err := cc.peer.addICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "adapters.signal").Msg("add ice candidate failed")
	}
}

func (ctl *Controller) handleLeave(cc *callConn) {
	log.Info().
		Str("module", "adapters.signal").
		Str("channel", string(cc.channel)).
		Uint32("uid", uint32(cc.uid)).
		Msg("caller leaving")
	ctl.teardown(cc)
	ctl.sendJSON(cc.ws, map[string]any{"type": "left", "uid": uint32(cc.uid)})
}
