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

type fakeTrack struct {
	closed int
}

func (f *fakeTrack) Close() { f.closed++ }

type fakeRemote struct {
	played  int
	stopped int
}

func (f *fakeRemote) Play() error { f.played++; return nil }
func (f *fakeRemote) Stop()       { f.stopped++ }

type fakeSource struct {
	err    error
	tracks []*fakeTrack
}

func (f *fakeSource) CreateMicrophoneTrack(context.Context) (core.LocalTrack, error) {
	if f.err != nil {
		return nil, f.err
	}
	tr := &fakeTrack{}
	f.tracks = append(f.tracks, tr)
	return tr, nil
}

type fakeTransport struct {
	joinErr    error
	publishErr error
	subErr     error
	assigned   domain.UID

	// joinStarted is closed when Join is entered; Join then blocks until
	// joinRelease closes. Both nil by default.
	joinStarted chan struct{}
	joinRelease chan struct{}
	// subHook runs inside Subscribe, before it returns.
	subHook func()

	joinCalls    int
	publishCalls int
	leaveCalls   int
	subscribed   []domain.UID
	remotes      []*fakeRemote
}

func (f *fakeTransport) Join(_ context.Context, _ string, _ domain.ChannelName, _ string, uid *domain.UID) (domain.UID, error) {
	f.joinCalls++
	if f.joinStarted != nil {
		close(f.joinStarted)
	}
	if f.joinRelease != nil {
		<-f.joinRelease
	}
	if f.joinErr != nil {
		return 0, f.joinErr
	}
	if uid != nil {
		return *uid, nil
	}
	return f.assigned, nil
}

func (f *fakeTransport) Publish(context.Context, core.LocalTrack) error {
	f.publishCalls++
	return f.publishErr
}

func (f *fakeTransport) Subscribe(_ context.Context, participant domain.UID, _ core.MediaKind) (core.RemoteAudio, error) {
	if f.subHook != nil {
		f.subHook()
	}
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.subscribed = append(f.subscribed, participant)
	r := &fakeRemote{}
	f.remotes = append(f.remotes, r)
	return r, nil
}

func (f *fakeTransport) Leave(context.Context) error { f.leaveCalls++; return nil }

func (f *fakeTransport) Events() <-chan core.Event { return nil }

type harness struct {
	transport    *fakeTransport
	source       *fakeSource
	session      *Session
	factoryCalls int
}

func newHarness() *harness {
	h := &harness{transport: &fakeTransport{}, source: &fakeSource{}}
	h.session = NewSession("app-123", func() (core.RTCTransport, error) {
		h.factoryCalls++
		return h.transport, nil
	}, h.source)
	return h
}

func join(t *testing.T, h *harness, uid domain.UID) {
	t.Helper()
	require.NoError(t, h.session.Join(context.Background(), "911", "tok", &uid, domain.RolePublisher))
	require.Equal(t, core.StateConnected, h.session.State())
}

func TestJoinPublisherHappyPath(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	assert.Equal(t, 1, h.transport.joinCalls)
	assert.Equal(t, 1, h.transport.publishCalls)
	require.Len(t, h.source.tracks, 1)
	id := h.session.Identity()
	assert.Equal(t, domain.ChannelName("911"), id.Channel)
	assert.Equal(t, domain.UID(42), id.UID)
	assert.False(t, id.AutoAssigned)
}

func TestJoinAutoAssignedUID(t *testing.T) {
	h := newHarness()
	h.transport.assigned = 777

	require.NoError(t, h.session.Join(context.Background(), "911", "tok", nil, domain.RolePublisher))

	id := h.session.Identity()
	assert.Equal(t, domain.UID(777), id.UID)
	assert.True(t, id.AutoAssigned)
}

func TestJoinListenerSkipsPublish(t *testing.T) {
	h := newHarness()
	uid := domain.UID(0)
	require.NoError(t, h.session.Join(context.Background(), "911", "tok", &uid, domain.RoleListener))

	assert.Zero(t, h.transport.publishCalls)
	assert.Empty(t, h.source.tracks)
}

func TestJoinRollsBackOnTrackFailure(t *testing.T) {
	h := newHarness()
	h.source.err = errors.New("mic busy")

	uid := domain.UID(42)
	err := h.session.Join(context.Background(), "911", "tok", &uid, domain.RolePublisher)

	var joinErr *domain.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, core.StateDisconnected, h.session.State())
	assert.Equal(t, 1, h.transport.joinCalls)
	assert.Equal(t, 1, h.transport.leaveCalls, "rollback must leave exactly once")

	// The transport handle was discarded: a retry builds a fresh one.
	h.source.err = nil
	join(t, h, 42)
	assert.Equal(t, 2, h.factoryCalls)
}

func TestJoinRollsBackOnPublishFailure(t *testing.T) {
	h := newHarness()
	h.transport.publishErr = errors.New("publish refused")

	uid := domain.UID(42)
	err := h.session.Join(context.Background(), "911", "tok", &uid, domain.RolePublisher)

	var joinErr *domain.JoinError
	require.ErrorAs(t, err, &joinErr)
	assert.Equal(t, core.StateDisconnected, h.session.State())
	assert.Equal(t, 1, h.transport.leaveCalls)
	require.Len(t, h.source.tracks, 1)
	assert.Equal(t, 1, h.source.tracks[0].closed, "capture resource must be released")
}

func TestJoinRejectedWhenAlreadyConnected(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	uid := domain.UID(43)
	err := h.session.Join(context.Background(), "912", "tok2", &uid, domain.RolePublisher)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Equal(t, 1, h.transport.joinCalls)
}

func TestOverlappingTransitionsRejectedMidJoin(t *testing.T) {
	h := newHarness()
	h.transport.joinStarted = make(chan struct{})
	h.transport.joinRelease = make(chan struct{})

	uid := domain.UID(42)
	done := make(chan error, 1)
	go func() {
		done <- h.session.Join(context.Background(), "911", "tok", &uid, domain.RolePublisher)
	}()
	<-h.transport.joinStarted

	// While the first join is in flight: a second join is refused and a
	// leave is ignored, never raced against the pending transition.
	other := domain.UID(43)
	assert.ErrorIs(t, h.session.Join(context.Background(), "911", "tok2", &other, domain.RolePublisher), ErrSessionBusy)
	h.session.Leave(context.Background())
	assert.Equal(t, core.StateConnecting, h.session.State())

	close(h.transport.joinRelease)
	require.NoError(t, <-done)
	assert.Equal(t, core.StateConnected, h.session.State())
	assert.Equal(t, 1, h.transport.joinCalls)
	assert.Zero(t, h.transport.leaveCalls)
	assert.Equal(t, domain.UID(42), h.session.Identity().UID)
}

func TestLateSubscriptionAfterLeaveIsDiscarded(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	// The session is torn down while the subscribe is still in flight; the
	// resulting playback must be stopped, not recorded.
	h.transport.subHook = func() { h.session.Leave(context.Background()) }
	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaAudio,
	})

	require.Len(t, h.transport.remotes, 1)
	assert.Equal(t, 1, h.transport.remotes[0].stopped)
	assert.Zero(t, h.transport.remotes[0].played)
	assert.Empty(t, h.session.Participants())
	assert.Equal(t, core.StateDisconnected, h.session.State())
}

func TestVideoPublishIgnored(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaVideo,
	})

	assert.Empty(t, h.transport.subscribed)
	assert.Empty(t, h.session.Participants())
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	h.session.Leave(context.Background())
	assert.Equal(t, core.StateDisconnected, h.session.State())
	assert.Equal(t, 1, h.transport.leaveCalls)
	assert.Equal(t, 1, h.source.tracks[0].closed)

	// Second leave touches nothing.
	h.session.Leave(context.Background())
	assert.Equal(t, core.StateDisconnected, h.session.State())
	assert.Equal(t, 1, h.transport.leaveCalls)
	assert.Equal(t, 1, h.source.tracks[0].closed)
}

func TestLeaveClosesTrackBeforeClearingState(t *testing.T) {
	h := newHarness()
	join(t, h, 42)
	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaAudio,
	})

	h.session.Leave(context.Background())

	assert.Equal(t, 1, h.source.tracks[0].closed)
	require.Len(t, h.transport.remotes, 1)
	assert.Equal(t, 1, h.transport.remotes[0].stopped)
	assert.Empty(t, h.session.Participants())
}

func TestSelfEchoSuppression(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 42, Media: core.MediaAudio,
	})

	assert.Empty(t, h.transport.subscribed, "own publish must never be subscribed")
	assert.Empty(t, h.transport.remotes)
}

func TestRemotePublishedSubscribesAndPlays(t *testing.T) {
	h := newHarness()
	join(t, h, 42)

	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaAudio,
	})

	require.Equal(t, []domain.UID{999}, h.transport.subscribed)
	require.Len(t, h.transport.remotes, 1)
	assert.Equal(t, 1, h.transport.remotes[0].played)
	assert.Equal(t, []domain.UID{999}, h.session.Participants())
}

func TestUnpublishedStopsPlayback(t *testing.T) {
	h := newHarness()
	join(t, h, 42)
	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaAudio,
	})

	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventUnpublished, Participant: 999, Media: core.MediaAudio,
	})

	assert.Equal(t, 1, h.transport.remotes[0].stopped)
	// Still in the call until a left event arrives.
	assert.Equal(t, []domain.UID{999}, h.session.Participants())
}

func TestLeftRemovesParticipantAndNotifies(t *testing.T) {
	h := newHarness()
	var notified [][]domain.UID
	h.session.SetObserver(Observer{
		OnParticipants: func(uids []domain.UID) { notified = append(notified, uids) },
	})
	join(t, h, 42)
	h.session.HandleEvent(context.Background(), core.Event{
		Kind: core.EventPublished, Participant: 999, Media: core.MediaAudio,
	})

	h.session.HandleEvent(context.Background(), core.Event{Kind: core.EventLeft, Participant: 999})

	assert.Empty(t, h.session.Participants())
	require.Len(t, notified, 1)
	assert.Empty(t, notified[0])
	assert.Equal(t, 1, h.transport.remotes[0].stopped)
}

func TestReconnectingForwardedNotActedOn(t *testing.T) {
	h := newHarness()
	var states []core.ConnectionState
	h.session.SetObserver(Observer{
		OnStateChange: func(s core.ConnectionState) { states = append(states, s) },
	})
	join(t, h, 42)

	h.session.HandleEvent(context.Background(), core.Event{Kind: core.EventStateChanged, State: core.StateReconnecting})
	assert.Equal(t, core.StateReconnecting, h.session.State())
	assert.Zero(t, h.transport.leaveCalls, "session must not tear down on a transport blip")

	h.session.HandleEvent(context.Background(), core.Event{Kind: core.EventStateChanged, State: core.StateConnected})
	assert.Equal(t, core.StateConnected, h.session.State())

	assert.Contains(t, states, core.StateReconnecting)
	assert.Contains(t, states, core.StateConnected)
}
