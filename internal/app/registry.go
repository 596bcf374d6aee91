package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/domain"
)

type CallState string

const (
	CallActive    CallState = "active"
	CallEscalated CallState = "escalated"
)

// CallInfo is the read-only dashboard view of one live call.
type CallInfo struct {
	Channel   domain.ChannelName `json:"channel"`
	UID       domain.UID         `json:"uid"`
	State     CallState          `json:"state"`
	StartedAt time.Time          `json:"started_at"`
}

type callEntry struct {
	uid       domain.UID
	state     CallState
	startedAt time.Time
}

// Registry tracks live calls for the supervisor dashboard. In-memory only;
// entries live exactly as long as the caller's attachment.
type Registry struct {
	mu    sync.RWMutex
	calls map[domain.ChannelName]*callEntry
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[domain.ChannelName]*callEntry)}
}

func (r *Registry) Add(channel domain.ChannelName, uid domain.UID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[channel] = &callEntry{uid: uid, state: CallActive, startedAt: time.Now()}
	log.Info().Str("module", "app.registry").Str("channel", string(channel)).Uint32("uid", uint32(uid)).Msg("call registered")
}

// MarkEscalated flags a call that has an agent attached. Unknown channels
// are ignored: the agent may have been started against the hosted transport
// without going through the dev signal path.
func (r *Registry) MarkEscalated(channel domain.ChannelName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.calls[channel]; ok {
		e.state = CallEscalated
		log.Info().Str("module", "app.registry").Str("channel", string(channel)).Msg("call escalated")
	}
}

func (r *Registry) Remove(channel domain.ChannelName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, channel)
	log.Info().Str("module", "app.registry").Str("channel", string(channel)).Msg("call removed")
}

func (r *Registry) Get(channel domain.ChannelName) (CallInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.calls[channel]
	if !ok {
		return CallInfo{}, false
	}
	return CallInfo{Channel: channel, UID: e.uid, State: e.state, StartedAt: e.startedAt}, true
}

func (r *Registry) Snapshot() []CallInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallInfo, 0, len(r.calls))
	for ch, e := range r.calls {
		out = append(out, CallInfo{Channel: ch, UID: e.uid, State: e.state, StartedAt: e.startedAt})
	}
	return out
}
