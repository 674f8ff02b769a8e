package media

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a minimal Opus frame carrying no signal.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SilentCapture produces silent audio and blank video at capture cadence.
// It backs tests and runs where no source file is configured but a live
// track is still wanted on the wire.
type SilentCapture struct {
	// DenyMicrophone and DenyScreen simulate the user refusing the
	// corresponding permission prompt.
	DenyMicrophone bool
	DenyScreen     bool
}

// Microphone returns a silent Opus source.
func (s *SilentCapture) Microphone(ctx context.Context) (*Source, error) {
	if s.DenyMicrophone {
		return nil, ErrUnavailable
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "meshcall-mic")
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	src := NewSource([]webrtc.TrackLocal{track}, func() { close(stop) })

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
				src.PushLevel(0)
			}
		}
	}()

	return src, nil
}

// Screen returns a blank VP8 source.
func (s *SilentCapture) Screen(ctx context.Context) (*Source, error) {
	if s.DenyScreen {
		return nil, ErrUnavailable
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "meshcall-screen")
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	src := NewSource([]webrtc.TrackLocal{track}, func() { close(stop) })

	go func() {
		ticker := time.NewTicker(33 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				track.WriteSample(media.Sample{Data: []byte{0}, Duration: 33 * time.Millisecond})
			}
		}
	}()

	return src, nil
}
