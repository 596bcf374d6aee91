package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/dkeye/Hotline/internal/core"
)

// opus CN payload; 20ms of silence per frame.
var silentFrame = []byte{0xf8, 0xff, 0xfe}

// MicSource synthesizes a stand-in microphone: an opus track carrying
// silence frames. Real capture belongs to the hosted SDK; the dev transport
// only needs a live track for the publish/subscribe plumbing.
type MicSource struct{}

func (MicSource) CreateMicrophoneTrack(ctx context.Context) (core.LocalTrack, error) {
	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "mic")
	if err != nil {
		return nil, err
	}

	mt := &MicTrack{sample: sample, done: make(chan struct{})}
	go mt.loop()
	return mt, nil
}

type MicTrack struct {
	sample *webrtc.TrackLocalStaticSample
	once   sync.Once
	done   chan struct{}
}

func (t *MicTrack) loop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			_ = t.sample.WriteSample(media.Sample{Data: silentFrame, Duration: 20 * time.Millisecond})
		}
	}
}

func (t *MicTrack) Close() {
	t.once.Do(func() { close(t.done) })
}
