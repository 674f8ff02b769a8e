package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
)

const (
	oggPageInterval = 20 * time.Millisecond
	oggSampleRate   = 48000
)

// FileCapture plays media files as live sources: an Ogg/Opus file stands in
// for the microphone and an IVF/VP8 file for the screen. Files loop until
// the source is stopped. This is how a headless client captures "devices".
type FileCapture struct {
	MicPath    string
	ScreenPath string
	Log        zerolog.Logger
}

// Microphone starts the Opus source. An empty path reports ErrUnavailable,
// the analog of denied microphone permission.
func (f *FileCapture) Microphone(ctx context.Context) (*Source, error) {
	if f.MicPath == "" {
		return nil, ErrUnavailable
	}

	file, err := os.Open(f.MicPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "meshcall-mic")
	if err != nil {
		file.Close()
		return nil, err
	}

	stop := make(chan struct{})
	src := NewSource([]webrtc.TrackLocal{track}, func() { close(stop) })

	go f.pumpOgg(file, track, src, stop)
	return src, nil
}

// Screen starts the VP8 source.
func (f *FileCapture) Screen(ctx context.Context) (*Source, error) {
	if f.ScreenPath == "" {
		return nil, ErrUnavailable
	}

	file, err := os.Open(f.ScreenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "meshcall-screen")
	if err != nil {
		file.Close()
		return nil, err
	}

	stop := make(chan struct{})
	src := NewSource([]webrtc.TrackLocal{track}, func() { close(stop) })

	go f.pumpIVF(file, track, src, stop)
	return src, nil
}

// pumpOgg feeds Ogg pages to the track at page cadence, pushing one energy
// magnitude per page for the voice-activity detector.
func (f *FileCapture) pumpOgg(file *os.File, track *webrtc.TrackLocalStaticSample, src *Source, stop <-chan struct{}) {
	defer file.Close()

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		f.Log.Error().Err(err).Msg("bad ogg source")
		src.Stop()
		return
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				src.Stop()
				return
			}
			ogg, _, err = oggreader.NewWith(file)
			if err != nil {
				src.Stop()
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			f.Log.Warn().Err(err).Msg("ogg read failed, ending mic source")
			src.Stop()
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration((sampleCount / oggSampleRate) * float64(time.Second))

		if err := track.WriteSample(media.Sample{Data: pageData, Duration: duration}); err != nil {
			f.Log.Warn().Err(err).Msg("mic sample write failed")
		}
		src.PushLevel(Energy(pageData))
	}
}

// pumpIVF feeds VP8 frames at the file's timebase.
func (f *FileCapture) pumpIVF(file *os.File, track *webrtc.TrackLocalStaticSample, src *Source, stop <-chan struct{}) {
	defer file.Close()

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		f.Log.Error().Err(err).Msg("bad ivf source")
		src.Stop()
		return
	}

	frameDuration := time.Millisecond *
		time.Duration((float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator))*1000)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				src.Stop()
				return
			}
			ivf, header, err = ivfreader.NewWith(file)
			if err != nil {
				src.Stop()
				return
			}
			continue
		}
		if err != nil {
			f.Log.Warn().Err(err).Msg("ivf read failed, ending screen source")
			src.Stop()
			return
		}

		if err := track.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			f.Log.Warn().Err(err).Msg("screen sample write failed")
		}
	}
}
