//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Capture acquires camera, microphone and screen through pion/mediadevices
// and encodes with VP8 and Opus.
type Capture struct {
	selector *mediadevices.CodecSelector
	log      *slog.Logger
}

func NewCapture(logger *slog.Logger) (*Capture, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &Capture{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: logger.With("component", "media"),
	}, nil
}

func (c *Capture) RegisterCodecs(m *webrtc.MediaEngine) error {
	c.selector.Populate(m)
	return nil
}

func (c *Capture) UserMedia(ctx context.Context, want Constraints) (*Stream, error) {
	if !want.Audio && !want.Video {
		return nil, fmt.Errorf("%w: no audio or video requested", ErrUnavailable)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	if want.Video {
		deviceID, err := c.videoDevice(want.Facing)
		if err != nil {
			return nil, err
		}
		constraints.Video = func(tc *mediadevices.MediaTrackConstraints) {
			tc.DeviceID = deviceID
			// Raw formats only; MJPEG nodes on some cameras poison the encoder.
			tc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			tc.Width = prop.IntRanged{Max: 640}
			tc.Height = prop.IntRanged{Max: 480}
		}
	}
	if want.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	ms, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		return nil, classify(err)
	}

	stream := &Stream{ID: uuid.NewString()}
	for _, t := range ms.GetTracks() {
		stream.Tracks = append(stream.Tracks, t)
	}
	c.log.Debug("user media acquired", "tracks", len(stream.Tracks), "facing", want.Facing)
	return stream, nil
}

func (c *Capture) DisplayMedia(ctx context.Context) (Track, error) {
	ms, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Codec: c.selector,
			Video: func(*mediadevices.MediaTrackConstraints) {},
		})
	})
	if err != nil {
		return nil, classify(err)
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: display capture returned no video", ErrUnavailable)
	}
	return tracks[0], nil
}

// videoDevice maps a facing mode onto the ordered list of cameras.
func (c *Capture) videoDevice(facing Facing) (string, error) {
	var cams []mediadevices.MediaDeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			cams = append(cams, d)
		}
	}
	if len(cams) == 0 {
		return "", fmt.Errorf("%w: no camera found", ErrUnavailable)
	}

	d := cams[0]
	if facing == FacingEnvironment {
		d = cams[len(cams)-1]
	}
	c.log.Debug("selected camera", "label", d.Label, "facing", facing)
	return d.DeviceID, nil
}

// acquire runs a blocking capture call and gives up when ctx ends. A capture
// that completes after cancellation is released.
func acquire(ctx context.Context, open func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	type result struct {
		ms  mediadevices.MediaStream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ms, err := open()
		ch <- result{ms, err}
	}()

	select {
	case r := <-ch:
		return r.ms, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				for _, t := range r.ms.GetTracks() {
					t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
