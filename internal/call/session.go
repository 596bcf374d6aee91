// Package call owns the client-side call-session lifecycle: joining a
// channel, publishing local audio, tracking remote participants and tearing
// everything down again. The transport itself is pluggable.
package call

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/core"
	"github.com/dkeye/Hotline/internal/domain"
)

var (
	// ErrSessionBusy rejects a join or leave while another transition is
	// still in flight. Overlapping transitions are refused, never raced.
	ErrSessionBusy = errors.New("session transition already in flight")

	// ErrAlreadyJoined rejects a join on a session that is not disconnected.
	ErrAlreadyJoined = errors.New("session already attached to a channel")
)

// Observer receives push notifications from a session. Nil callbacks are
// skipped. Callbacks run on the session's event goroutine and must not call
// back into Join/Leave.
type Observer struct {
	OnStateChange  func(core.ConnectionState)
	OnParticipants func([]domain.UID)
}

type remoteMedia struct {
	audio    bool
	playback core.RemoteAudio
}

// Session is one call attachment. Construct one per call and pass it by
// reference; there is no ambient shared client.
type Session struct {
	appID   string
	factory core.TransportFactory
	source  core.TrackSource

	mu        sync.Mutex
	busy      bool
	state     core.ConnectionState
	transport core.RTCTransport
	track     core.LocalTrack
	identity  domain.ChannelIdentity
	remote    map[domain.UID]*remoteMedia
	observer  Observer
}

func NewSession(appID string, factory core.TransportFactory, source core.TrackSource) *Session {
	return &Session{
		appID:   appID,
		factory: factory,
		source:  source,
		state:   core.StateDisconnected,
		remote:  make(map[domain.UID]*remoteMedia),
	}
}

func (s *Session) SetObserver(obs Observer) {
	s.mu.Lock()
	s.observer = obs
	s.mu.Unlock()
}

func (s *Session) State() core.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() domain.ChannelIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Participants returns the currently tracked remote set.
func (s *Session) Participants() []domain.UID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participantsLocked()
}

func (s *Session) participantsLocked() []domain.UID {
	out := make([]domain.UID, 0, len(s.remote))
	for uid := range s.remote {
		out = append(out, uid)
	}
	return out
}

// setStateLocked mutates state and snapshots the observer; the caller must
// hold s.mu and invoke the returned notify func after unlocking.
func (s *Session) setStateLocked(state core.ConnectionState) func() {
	s.state = state
	cb := s.observer.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(state) }
}

// Join attaches to a channel, and for RolePublisher acquires and publishes a
// microphone track. All-or-nothing: any failure after the transport join
// succeeded rolls the whole attachment back before returning, so the caller
// never ends up attached with no usable local track.
func (s *Session) Join(ctx context.Context, channel domain.ChannelName, accessToken string, uid *domain.UID, role domain.Role) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrSessionBusy
	}
	if s.state != core.StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.busy = true
	notify := s.setStateLocked(core.StateConnecting)
	transport := s.transport
	s.mu.Unlock()
	notify()

	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	fail := func(cause error) error {
		s.mu.Lock()
		s.transport = nil
		notify := s.setStateLocked(core.StateDisconnected)
		s.mu.Unlock()
		notify()
		return &domain.JoinError{Cause: cause}
	}

	if transport == nil {
		t, err := s.factory()
		if err != nil {
			return fail(err)
		}
		transport = t
	}

	joined, err := transport.Join(ctx, s.appID, channel, accessToken, uid)
	if err != nil {
		return fail(err)
	}
	log.Info().
		Str("module", "call.session").
		Str("channel", string(channel)).
		Uint32("uid", uint32(joined)).
		Msg("joined channel")

	var track core.LocalTrack
	if role == domain.RolePublisher {
		track, err = s.source.CreateMicrophoneTrack(ctx)
		if err == nil {
			err = transport.Publish(ctx, track)
		}
		if err != nil {
			// Roll back the half-built attachment: release the capture
			// resource, detach from the channel, drop the handle.
			if track != nil {
				track.Close()
			}
			if leaveErr := transport.Leave(ctx); leaveErr != nil {
				log.Warn().Err(leaveErr).Str("module", "call.session").Msg("rollback leave failed")
			}
			log.Error().Err(err).
				Str("module", "call.session").
				Str("channel", string(channel)).
				Msg("join rolled back")
			return fail(err)
		}
		log.Info().
			Str("module", "call.session").
			Uint32("uid", uint32(joined)).
			Msg("published local audio")
	}

	s.mu.Lock()
	s.transport = transport
	s.track = track
	s.identity = domain.ChannelIdentity{
		Channel:      channel,
		UID:          joined,
		AutoAssigned: uid == nil,
	}
	notify = s.setStateLocked(core.StateConnected)
	s.mu.Unlock()
	notify()

	if events := transport.Events(); events != nil {
		go s.pump(events)
	}
	return nil
}

// Leave detaches from the channel. Idempotent: a second call on a
// disconnected session performs no transport operation. Local state is
// always fully reset, even when the transport leave fails, because a stuck
// "connected" session with a gone remote end is worse than a redundant
// downstream leave.
func (s *Session) Leave(ctx context.Context) {
	s.mu.Lock()
	if s.state == core.StateDisconnected {
		s.mu.Unlock()
		return
	}
	if s.busy {
		// A join is still in flight; there is no mid-join cancellation.
		// The caller leaves after the join resolves, or not at all.
		s.mu.Unlock()
		log.Warn().Str("module", "call.session").Msg("leave ignored, transition in flight")
		return
	}
	s.busy = true
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()
	notify := s.setStateLocked(core.StateDisconnecting)
	transport := s.transport
	track := s.track
	playing := make([]core.RemoteAudio, 0, len(s.remote))
	for _, rm := range s.remote {
		if rm.playback != nil {
			playing = append(playing, rm.playback)
		}
	}
	uid := s.identity.UID
	s.mu.Unlock()
	notify()

	// Capture resource goes first, always, regardless of what the transport
	// leave does afterwards.
	if track != nil {
		track.Close()
	}
	for _, p := range playing {
		p.Stop()
	}

	if transport != nil {
		if err := transport.Leave(ctx); err != nil {
			log.Error().Err(err).
				Str("module", "call.session").
				Uint32("uid", uint32(uid)).
				Msg("transport leave failed")
		} else {
			log.Info().
				Str("module", "call.session").
				Uint32("uid", uint32(uid)).
				Msg("left channel")
		}
	}

	s.mu.Lock()
	s.transport = nil
	s.track = nil
	s.remote = make(map[domain.UID]*remoteMedia)
	s.identity = domain.ChannelIdentity{}
	notify = s.setStateLocked(core.StateDisconnected)
	s.mu.Unlock()
	notify()
}

func (s *Session) pump(events <-chan core.Event) {
	for ev := range events {
		s.HandleEvent(context.Background(), ev)
	}
}

// HandleEvent consumes one transport event. Exported so transports without
// a channel surface (and tests) can push events directly.
func (s *Session) HandleEvent(ctx context.Context, ev core.Event) {
	switch ev.Kind {
	case core.EventPublished:
		s.onPublished(ctx, ev.Participant, ev.Media)
	case core.EventUnpublished:
		s.onUnpublished(ev.Participant, ev.Media)
	case core.EventLeft:
		s.onLeft(ev.Participant)
	case core.EventStateChanged:
		s.onStateChanged(ev.State)
	}
}

func (s *Session) onPublished(ctx context.Context, participant domain.UID, kind core.MediaKind) {
	if kind == core.MediaVideo {
		// Voice-only sessions; a video publish carries nothing to play.
		log.Debug().Str("module", "call.session").Uint32("participant", uint32(participant)).Msg("ignoring video publish")
		return
	}

	s.mu.Lock()
	// The transport can briefly reflect our own publish back at us, and a
	// passive listener may share uid 0 with a publisher. Subscribing to
	// ourselves would loop our own audio.
	if participant == s.identity.UID {
		s.mu.Unlock()
		log.Debug().Str("module", "call.session").Uint32("uid", uint32(participant)).Msg("skipping subscription to self")
		return
	}
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return
	}

	playback, err := transport.Subscribe(ctx, participant, kind)
	if err != nil {
		log.Error().Err(err).
			Str("module", "call.session").
			Uint32("participant", uint32(participant)).
			Msg("subscribe failed")
		return
	}

	s.mu.Lock()
	// The subscribe ran without the lock; the session may have been torn
	// down underneath it. A late playback must not outlive the call.
	if s.state != core.StateConnected && s.state != core.StateReconnecting {
		s.mu.Unlock()
		playback.Stop()
		log.Debug().Str("module", "call.session").Uint32("participant", uint32(participant)).Msg("discarding subscription, call already over")
		return
	}
	rm, ok := s.remote[participant]
	if !ok {
		rm = &remoteMedia{}
		s.remote[participant] = rm
	}
	rm.audio = true
	rm.playback = playback
	s.mu.Unlock()

	if err := playback.Play(); err != nil {
		log.Error().Err(err).
			Str("module", "call.session").
			Uint32("participant", uint32(participant)).
			Msg("playback failed")
	}
}

func (s *Session) onUnpublished(participant domain.UID, kind core.MediaKind) {
	s.mu.Lock()
	rm, ok := s.remote[participant]
	var playback core.RemoteAudio
	if ok && kind == core.MediaAudio {
		playback = rm.playback
		rm.playback = nil
		rm.audio = false
	}
	s.mu.Unlock()
	if playback != nil {
		playback.Stop()
	}
}

func (s *Session) onLeft(participant domain.UID) {
	s.mu.Lock()
	rm, ok := s.remote[participant]
	var playback core.RemoteAudio
	if ok {
		playback = rm.playback
		delete(s.remote, participant)
	}
	remaining := s.participantsLocked()
	cb := s.observer.OnParticipants
	s.mu.Unlock()

	if playback != nil {
		playback.Stop()
	}
	if cb != nil {
		cb(remaining)
	}
}

// onStateChanged forwards transport-reported state. It only records the
// connected/reconnecting oscillation; local transitions own every other
// state.
func (s *Session) onStateChanged(state core.ConnectionState) {
	s.mu.Lock()
	settled := s.state == core.StateConnected || s.state == core.StateReconnecting
	var notify func()
	if settled && (state == core.StateConnected || state == core.StateReconnecting) {
		notify = s.setStateLocked(state)
	} else {
		cb := s.observer.OnStateChange
		if cb == nil {
			notify = func() {}
		} else {
			notify = func() { cb(state) }
		}
	}
	s.mu.Unlock()
	notify()
}
