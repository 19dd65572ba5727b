package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/meshcall/internal/util"
)

// ErrCapture is wrapped by every capture failure (missing device, permission,
// unusable source).
var ErrCapture = errors.New("media capture failed")

// oggPageDuration is the pacing interval for Opus pages.
const oggPageDuration = 20 * time.Millisecond

// CaptureProvider acquires the local stream.
type CaptureProvider interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// FileCapture plays a VP8 IVF file and/or an Opus Ogg file as the local
// camera and microphone. Both files are looped until the stream is stopped.
type FileCapture struct {
	VideoPath string
	AudioPath string
}

// Acquire opens the files selected by c and starts pacing samples into one
// TrackLocalStaticSample per kind.
func (fc *FileCapture) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, fmt.Errorf("%w: neither audio nor video requested", ErrCapture)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	streamID := "meshcall-" + uuid.NewString()
	pumpCtx, cancel := context.WithCancel(context.Background())

	var tracks []webrtc.TrackLocal
	var pumps []func()

	fail := func(err error) (*LocalStream, error) {
		cancel()
		// Pumps return at once on a cancelled context and release their files.
		for _, pump := range pumps {
			pump()
		}
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	if c.Video {
		track, pump, err := openVideo(pumpCtx, fc.VideoPath, streamID, c)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, track)
		pumps = append(pumps, pump)
	}

	if c.Audio {
		track, pump, err := openAudio(pumpCtx, fc.AudioPath, streamID)
		if err != nil {
			return fail(err)
		}
		tracks = append(tracks, track)
		pumps = append(pumps, pump)
	}

	for _, pump := range pumps {
		go pump()
	}

	util.LogDebug("local stream %s acquired with %d track(s)", streamID, len(tracks))
	return NewLocalStream(streamID, tracks, cancel), nil
}

// ---------------------------------------------------------------------------
// Video: VP8 in IVF
// ---------------------------------------------------------------------------

func openVideo(ctx context.Context, path, streamID string, c Constraints) (webrtc.TrackLocal, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("no video source configured")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open video source: %w", err)
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("read ivf header: %w", err)
	}

	if header.FourCC != "VP80" {
		file.Close()
		return nil, nil, fmt.Errorf("unsupported video codec %q (want VP80)", header.FourCC)
	}
	if (c.Width > 0 && int(header.Width) != c.Width) || (c.Height > 0 && int(header.Height) != c.Height) {
		file.Close()
		return nil, nil, fmt.Errorf("video source is %dx%d, requested %dx%d", header.Width, header.Height, c.Width, c.Height)
	}
	if header.TimebaseDenominator == 0 {
		file.Close()
		return nil, nil, fmt.Errorf("ivf header has zero timebase")
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	frameDuration := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if frameDuration <= 0 {
		frameDuration = 33 * time.Millisecond
	}

	pump := func() {
		defer file.Close()

		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}

			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindIVF(file); err != nil {
					util.LogWarning("video source stopped: %v", err)
					return
				}
				continue
			}
			if err != nil {
				util.LogWarning("video source stopped: %v", err)
				return
			}

			if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				util.LogDebug("write video sample: %v", err)
			}
		}
	}

	return track, pump, nil
}

func rewindIVF(file *os.File) (*ivfreader.IVFReader, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := ivfreader.NewWith(file)
	return reader, err
}

// ---------------------------------------------------------------------------
// Audio: Opus in Ogg
// ---------------------------------------------------------------------------

func openAudio(ctx context.Context, path, streamID string) (webrtc.TrackLocal, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("no audio source configured")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio source: %w", err)
	}

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("read ogg header: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	pump := func() {
		defer file.Close()

		ticker := time.NewTicker(oggPageDuration)
		defer ticker.Stop()

		var lastGranule uint64
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}

			page, pageHeader, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if reader, err = rewindOgg(file); err != nil {
					util.LogWarning("audio source stopped: %v", err)
					return
				}
				lastGranule = 0
				continue
			}
			if err != nil {
				util.LogWarning("audio source stopped: %v", err)
				return
			}

			// Granule position counts 48 kHz samples.
			sampleCount := float64(pageHeader.GranulePosition - lastGranule)
			lastGranule = pageHeader.GranulePosition
			duration := time.Duration((sampleCount / 48000) * float64(time.Second))

			if err := track.WriteSample(pionmedia.Sample{Data: page, Duration: duration}); err != nil {
				util.LogDebug("write audio sample: %v", err)
			}
		}
	}

	return track, pump, nil
}

func rewindOgg(file *os.File) (*oggreader.OggReader, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(file)
	return reader, err
}
