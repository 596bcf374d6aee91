// Package rtc is the development implementation of the realtime transport:
// a pion/webrtc peer negotiated over the server's websocket signal
// endpoint. It stands in for the hosted RTC SDK so the whole session
// lifecycle runs against this repo alone.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/core"
	"github.com/dkeye/Hotline/internal/domain"
)

var (
	ErrNotJoined     = errors.New("transport not joined")
	ErrBadTrack      = errors.New("track was not created by this transport's source")
	ErrSignalClosed  = errors.New("signal connection closed")
	ErrSignalRefused = errors.New("signal endpoint refused the request")
)

const signalTimeout = 10 * time.Second

// Factory builds transports negotiating against the given signal URL
// (ws://host/api/ws/signal).
func Factory(signalURL string) core.TransportFactory {
	return func() (core.RTCTransport, error) {
		return &Transport{signalURL: signalURL}, nil
	}
}

type envelope struct {
	Type          string `json:"type"`
	Channel       string `json:"channel,omitempty"`
	UID           uint32 `json:"uid,omitempty"`
	Token         string `json:"token,omitempty"`
	SDP           string `json:"sdp,omitempty"`
	Media         string `json:"media,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Transport struct {
	signalURL string

	mu      sync.Mutex
	conn    *websocket.Conn
	pc      *webrtc.PeerConnection
	uid     domain.UID
	joined  bool
	closed  bool
	events  chan core.Event
	joinAck chan envelope
	answers chan envelope
	tracks  chan *webrtc.TrackRemote
}

func (t *Transport) Events() <-chan core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events == nil {
		t.events = make(chan core.Event, 16)
	}
	return t.events
}

// Join dials the signal endpoint, authenticates with the token and
// negotiates a receive-only peer connection. The publish direction is added
// later by Publish.
func (t *Transport) Join(ctx context.Context, appID string, channel domain.ChannelName, accessToken string, uid *domain.UID) (domain.UID, error) {
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return 0, errors.New("transport already joined")
	}
	if t.events == nil {
		t.events = make(chan core.Event, 16)
	}
	t.joinAck = make(chan envelope, 1)
	t.answers = make(chan envelope, 1)
	t.tracks = make(chan *webrtc.TrackRemote, 4)
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: signalTimeout}
	conn, _, err := dialer.DialContext(ctx, t.signalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("dial signal endpoint: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	go t.readLoop()

	var requested uint32
	if uid != nil {
		requested = uint32(*uid)
	}
	if err := t.send(envelope{Type: "join", Channel: string(channel), UID: requested, Token: accessToken}); err != nil {
		t.shutdown()
		return 0, err
	}

	ack, err := t.await(ctx, t.joinAck)
	if err != nil {
		t.shutdown()
		return 0, err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		t.shutdown()
		return 0, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		t.shutdown()
		return 0, err
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		msg := envelope{Type: "candidate", Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			msg.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			msg.SDPMLineIndex = *ci.SDPMLineIndex
		}
		_ = t.send(msg)
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		select {
		case t.tracks <- track:
		default:
			log.Warn().Str("module", "adapters.rtc").Msg("dropping remote track, buffer full")
		}
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.emitState(s)
	})

	t.mu.Lock()
	t.pc = pc
	t.uid = domain.UID(ack.UID)
	t.joined = true
	t.mu.Unlock()

	if err := t.negotiate(ctx, pc); err != nil {
		_ = pc.Close()
		t.shutdown()
		return 0, err
	}

	log.Info().
		Str("module", "adapters.rtc").
		Str("channel", string(channel)).
		Uint32("uid", ack.UID).
		Msg("transport joined")
	return domain.UID(ack.UID), nil
}

func (t *Transport) Publish(ctx context.Context, track core.LocalTrack) error {
	mt, ok := track.(*MicTrack)
	if !ok {
		return ErrBadTrack
	}

	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		return ErrNotJoined
	}

	if _, err := pc.AddTrack(mt.sample); err != nil {
		return fmt.Errorf("add local track: %w", err)
	}
	// Adding a sending track changes the SDP; run one more offer/answer.
	return t.negotiate(ctx, pc)
}

func (t *Transport) Subscribe(ctx context.Context, participant domain.UID, kind core.MediaKind) (core.RemoteAudio, error) {
	if kind != core.MediaAudio {
		return nil, fmt.Errorf("unsupported media kind %q", kind)
	}

	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()
	select {
	case track := <-t.tracks:
		return newRemoteSink(participant, track), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no remote track for %d: %w", uint32(participant), ctx.Err())
	}
}

func (t *Transport) Leave(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	conn := t.conn
	t.mu.Unlock()

	var sendErr error
	if conn != nil {
		sendErr = t.send(envelope{Type: "leave"})
	}
	t.shutdown()
	return sendErr
}

func (t *Transport) negotiate(ctx context.Context, pc *webrtc.PeerConnection) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	<-gatherComplete

	if err := t.send(envelope{Type: "offer", SDP: pc.LocalDescription().SDP}); err != nil {
		return err
	}

	answer, err := t.await(ctx, t.answers)
	if err != nil {
		return err
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

func (t *Transport) await(ctx context.Context, ch chan envelope) (envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()
	select {
	case env, ok := <-ch:
		if !ok {
			return envelope{}, ErrSignalClosed
		}
		if env.Type == "error" {
			return envelope{}, fmt.Errorf("%w: %s", ErrSignalRefused, env.Error)
		}
		return env, nil
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

func (t *Transport) send(v envelope) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ErrSignalClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, b)
}

func (t *Transport) readLoop() {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.shutdown()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "adapters.rtc").Msg("bad signal message")
			continue
		}
		t.handle(env)
	}
}

func (t *Transport) handle(env envelope) {
	switch env.Type {
	case "joined", "error":
		select {
		case t.joinAck <- env:
		default:
			if env.Type == "error" {
				select {
				case t.answers <- env:
				default:
				}
			}
		}
	case "answer":
		select {
		case t.answers <- env:
		default:
		}
	case "candidate":
		t.mu.Lock()
		pc := t.pc
		t.mu.Unlock()
		if pc == nil {
			return
		}
		ci := webrtc.ICECandidateInit{Candidate: env.Candidate}
		if env.SDPMid != "" {
			mid := env.SDPMid
			ci.SDPMid = &mid
		}
		idx := env.SDPMLineIndex
		ci.SDPMLineIndex = &idx
		if err := pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "adapters.rtc").Msg("add candidate failed")
		}
	case "published":
		t.emit(core.Event{Kind: core.EventPublished, Participant: domain.UID(env.UID), Media: core.MediaKind(env.Media)})
	case "unpublished":
		t.emit(core.Event{Kind: core.EventUnpublished, Participant: domain.UID(env.UID), Media: core.MediaKind(env.Media)})
	case "left":
		t.emit(core.Event{Kind: core.EventLeft, Participant: domain.UID(env.UID)})
	case "pong":
	default:
		log.Debug().Str("module", "adapters.rtc").Str("type", env.Type).Msg("ignoring signal message")
	}
}

// emit sends under the mutex so it can never race the channel close in
// shutdown. The send is non-blocking; a full buffer drops the event.
func (t *Transport) emit(ev core.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events == nil || t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("module", "adapters.rtc").Msg("dropping event, consumer too slow")
	}
}

func (t *Transport) emitState(s webrtc.PeerConnectionState) {
	var state core.ConnectionState
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		state = core.StateConnecting
	case webrtc.PeerConnectionStateConnected:
		state = core.StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		// pion reports a possibly transient drop; the hosted SDK calls the
		// same situation reconnecting.
		state = core.StateReconnecting
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		state = core.StateDisconnected
	default:
		return
	}
	t.emit(core.Event{Kind: core.EventStateChanged, State: state})
}

func (t *Transport) shutdown() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	conn := t.conn
	pc := t.pc
	t.conn = nil
	t.pc = nil
	t.joined = false
	if t.events != nil {
		close(t.events)
	}
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}
