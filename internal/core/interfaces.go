package core

import (
	"context"

	"github.com/dkeye/Hotline/internal/domain"
)

// LocalTrack is a local capture resource (microphone). Owned by the adapter
// that created it; whoever acquired it must Close() it.
type LocalTrack interface {
	Close()
}

// RemoteAudio is a subscribed remote track ready for playback.
type RemoteAudio interface {
	Play() error
	Stop()
}

// RTCTransport abstracts the realtime-communication client handle. One
// transport serves one channel attachment; after Leave the handle is dead
// and a new one must be constructed for the next join.
type RTCTransport interface {
	// Join attaches to a channel. A nil uid requests a transport-assigned
	// identity; the resolved uid is returned either way.
	Join(ctx context.Context, appID string, channel domain.ChannelName, token string, uid *domain.UID) (domain.UID, error)
	Publish(ctx context.Context, track LocalTrack) error
	Subscribe(ctx context.Context, participant domain.UID, kind MediaKind) (RemoteAudio, error)
	Leave(ctx context.Context) error

	// Events delivers transport callbacks as tagged variants. The channel is
	// closed when the transport dies. May return nil for transports without
	// a push surface (tests).
	Events() <-chan Event
}

// TrackSource acquires local capture resources.
type TrackSource interface {
	CreateMicrophoneTrack(ctx context.Context) (LocalTrack, error)
}

// TransportFactory lazily constructs the transport client on first join.
type TransportFactory func() (RTCTransport, error)
