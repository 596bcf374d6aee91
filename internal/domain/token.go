package domain

import "time"

// TokenScope is the channel/uid/role triple a token is bound to.
// A token must never be reused for a different pair.
type TokenScope struct {
	Channel ChannelName
	UID     UID
	Role    Role
}

// AccessToken is a short-lived signed credential minted by the credential
// service and consumed exactly once by a join. The Value is opaque to every
// component except the signer; it must not be logged or persisted.
type AccessToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Scope     TokenScope
}
