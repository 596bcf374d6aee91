package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/core"
	"github.com/dkeye/Hotline/internal/domain"
)

// remoteSink "plays" a subscribed track by draining its RTP stream. Actual
// speaker output is the hosted SDK's job; keeping the read loop running is
// what the dev peer needs so congestion control stays honest.
type remoteSink struct {
	participant domain.UID
	track       *webrtc.TrackRemote
	once        sync.Once
	done        chan struct{}
}

var _ core.RemoteAudio = (*remoteSink)(nil)

func newRemoteSink(participant domain.UID, track *webrtc.TrackRemote) *remoteSink {
	return &remoteSink{
		participant: participant,
		track:       track,
		done:        make(chan struct{}),
	}
}

func (s *remoteSink) Play() error {
	go func() {
		log.Info().
			Str("module", "adapters.rtc").
			Uint32("participant", uint32(s.participant)).
			Msg("playback started")
		for {
			select {
			case <-s.done:
				return
			default:
			}
			if _, _, err := s.track.ReadRTP(); err != nil {
				log.Info().Err(err).
					Str("module", "adapters.rtc").
					Uint32("participant", uint32(s.participant)).
					Msg("playback ended")
				return
			}
		}
	}()
	return nil
}

func (s *remoteSink) Stop() {
	s.once.Do(func() { close(s.done) })
}
