// Package media is the capture capability used by the session negotiator.
// Real devices come from pion/mediadevices on Linux; tests use mediatest.
package media

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	ErrUnavailable      = errors.New("media device unavailable")
	ErrPermissionDenied = errors.New("media permission denied")
	ErrUnsupported      = errors.New("media capture not supported on this platform")
)

// Track is a local capture track. mediadevices.Track satisfies it.
type Track interface {
	webrtc.TrackLocal
	OnEnded(func(error))
	Close() error
}

// Facing selects a camera. Desktop systems have no facing metadata, so
// FacingUser is the first video device and FacingEnvironment the last.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

func (f Facing) Opposite() Facing {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

type Constraints struct {
	Audio  bool
	Video  bool
	Facing Facing
}

// Stream groups the tracks of one capture.
type Stream struct {
	ID     string
	Tracks []Track
}

func (s *Stream) AudioTrack() Track { return s.first(webrtc.RTPCodecTypeAudio) }
func (s *Stream) VideoTrack() Track { return s.first(webrtc.RTPCodecTypeVideo) }

func (s *Stream) first(kind webrtc.RTPCodecType) Track {
	if s == nil {
		return nil
	}
	for _, t := range s.Tracks {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Stop closes every track in the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.Tracks {
		t.Close()
	}
}

// Devices acquires local media.
type Devices interface {
	// RegisterCodecs adds the codecs the capture pipeline can encode.
	RegisterCodecs(m *webrtc.MediaEngine) error
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (Track, error)
}

// RemoteStream accumulates the tracks received from one participant.
type RemoteStream struct {
	ID string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (r *RemoteStream) Add(t *webrtc.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, t)
	r.mu.Unlock()
}

func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), r.tracks...)
}

// Sink consumes remote RTP. Implementations must not retain pkt.
type Sink interface {
	WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error
}

// Stats is a Sink that only counts what arrives.
type Stats struct {
	audioPackets atomic.Uint64
	videoPackets atomic.Uint64
	bytes        atomic.Uint64
}

func (s *Stats) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		s.audioPackets.Add(1)
	case webrtc.RTPCodecTypeVideo:
		s.videoPackets.Add(1)
	}
	s.bytes.Add(uint64(len(pkt.Payload)))
	return nil
}

// Snapshot returns audio packets, video packets and payload bytes.
func (s *Stats) Snapshot() (audio, video, bytes uint64) {
	return s.audioPackets.Load(), s.videoPackets.Load(), s.bytes.Load()
}
