package signal

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Hotline/internal/domain"
)

func defaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

// answerPeer is the server's end of a dev call: it answers the caller's
// offer and loops received audio straight back, standing in for the hosted
// transport so the session flow can run without external infrastructure.
type answerPeer struct {
	pc      *webrtc.PeerConnection
	out     *webrtc.TrackLocalStaticRTP
	channel domain.ChannelName
	cancel  context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func()
	onClosed func()
}

func newAnswerPeer(channel domain.ChannelName) (*answerPeer, error) {
	pc, err := webrtc.NewPeerConnection(defaultWebRTCConfig())
	if err != nil {
		return nil, err
	}

	// The loopback track is added before answering so no renegotiation is
	// needed once the caller's audio arrives.
	out, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "loopback")
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if _, err := pc.AddTrack(out); err != nil {
		_ = pc.Close()
		return nil, err
	}

	return &answerPeer{pc: pc, out: out, channel: channel}, nil
}

func (p *answerPeer) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "signal.peer").Str("channel", string(p.channel)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "signal.peer").Str("channel", string(p.channel)).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if p.onClosed != nil {
				p.onClosed()
			}
		}
	})

	p.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && p.onICE != nil {
			p.onICE(cand.ToJSON())
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "signal.peer").
			Str("channel", string(p.channel)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("caller track received")
		if p.onTrack != nil {
			p.onTrack()
		}
		go p.echo(ctx, track)
	})
}

// echo reads RTP packets from the caller's track and writes them back on
// the loopback track.
func (p *answerPeer) echo(ctx context.Context, track *webrtc.TrackRemote) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "signal.peer").Str("channel", string(p.channel)).Msg("echo loop stopped")
			return
		}
		if err := p.out.WriteRTP(pkt); err != nil {
			log.Error().Err(err).Str("module", "signal.peer").Msg("echo write error")
			return
		}
	}
}

func (p *answerPeer) applyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return p.pc.LocalDescription(), nil
}

func (p *answerPeer) addICECandidate(ci webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(ci)
}

func (p *answerPeer) close() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.pc != nil {
		if err := p.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "signal.peer").Str("channel", string(p.channel)).Msg("close error")
		}
	}
}
