// Package mediatest provides in-memory capture devices for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track is a sample track that records Close and can be ended on demand.
type Track struct {
	*webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	ended  func(error)
	closed bool
}

func NewTrack(kind webrtc.RTPCodecType, streamID string) (*Track, error) {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	s, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8]),
		streamID,
	)
	if err != nil {
		return nil, err
	}
	return &Track{TrackLocalStaticSample: s}, nil
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.ended = fn
	t.mu.Unlock()
}

func (t *Track) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *Track) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// End simulates the source going away, e.g. the user stopping a screen share
// from the system picker.
func (t *Track) End(err error) {
	t.mu.Lock()
	fn := t.ended
	t.closed = true
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Devices hands out fake tracks and records every request.
type Devices struct {
	mu sync.Mutex

	// Fail, when set, is returned by UserMedia and DisplayMedia.
	Fail error
	// Block, when set, makes UserMedia wait for it to close or ctx to end.
	Block chan struct{}

	requests []media.Constraints
	tracks   []*Track
	screens  []*Track
}

func NewDevices() *Devices { return &Devices{} }

func (d *Devices) RegisterCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

func (d *Devices) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	d.mu.Lock()
	d.requests = append(d.requests, c)
	fail, block := d.Fail, d.Block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}

	stream := &media.Stream{ID: uuid.NewString()}
	kinds := []webrtc.RTPCodecType{}
	if c.Audio {
		kinds = append(kinds, webrtc.RTPCodecTypeAudio)
	}
	if c.Video {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, k := range kinds {
		t, err := NewTrack(k, stream.ID)
		if err != nil {
			return nil, err
		}
		stream.Tracks = append(stream.Tracks, t)
		d.mu.Lock()
		d.tracks = append(d.tracks, t)
		d.mu.Unlock()
	}
	return stream, nil
}

func (d *Devices) DisplayMedia(ctx context.Context) (media.Track, error) {
	d.mu.Lock()
	fail := d.Fail
	d.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := NewTrack(webrtc.RTPCodecTypeVideo, "screen")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.screens = append(d.screens, t)
	d.mu.Unlock()
	return t, nil
}

func (d *Devices) SetFail(err error) {
	d.mu.Lock()
	d.Fail = err
	d.mu.Unlock()
}

// Requests returns the constraints of every UserMedia call so far.
func (d *Devices) Requests() []media.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.Constraints(nil), d.requests...)
}

// Tracks returns every camera and microphone track handed out.
func (d *Devices) Tracks() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.tracks...)
}

// LastScreen returns the most recent display track, or nil.
func (d *Devices) LastScreen() *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.screens) == 0 {
		return nil
	}
	return d.screens[len(d.screens)-1]
}
