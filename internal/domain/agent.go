package domain

// AgentRequest asks the provider to attach a conversational agent to a live
// channel. Model/voice/timeout parameters are process-wide configuration and
// are attached server-side, not carried here.
type AgentRequest struct {
	Channel   ChannelName
	RemoteUID UID
	Token     string
}
