// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxChannelNameLen = 64

var (
	ErrChannelEmpty   = errors.New("channel name empty")
	ErrChannelTooLong = errors.New("channel name too long")
)

type (
	ChannelName string
	UID         uint32
)

// Role decides whether a join publishes local audio or only listens.
type Role string

const (
	RolePublisher Role = "publisher"
	RoleListener  Role = "listener"
)

// ChannelIdentity names one logical call. Immutable for the lifetime of a
// session; AutoAssigned marks a UID picked by the transport rather than the
// caller.
type ChannelIdentity struct {
	Channel      ChannelName
	UID          UID
	AutoAssigned bool
}

// NewChannelName avoids raw casts in adapters and keeps validation obvious.
func NewChannelName(name string) (ChannelName, error) {
	if len(name) == 0 {
		return "", ErrChannelEmpty
	}
	if len(name) > MaxChannelNameLen {
		return "", ErrChannelTooLong
	}
	return ChannelName(name), nil
}
