package core

import "github.com/dkeye/Hotline/internal/domain"

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// ConnectionState mirrors the transport's connection lifecycle.
// Reconnecting is reported by the transport and forwarded, never entered by
// local transitions.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

type EventKind int

const (
	EventPublished EventKind = iota
	EventUnpublished
	EventLeft
	EventStateChanged
)

// Event is the tagged variant for transport callbacks. Which fields are
// meaningful depends on Kind: Participant/Media for publish traffic,
// Participant for Left, State for StateChanged.
type Event struct {
	Kind        EventKind
	Participant domain.UID
	Media       MediaKind
	State       ConnectionState
}
