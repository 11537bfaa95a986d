package call

import (
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/webrtc/v4"
)

type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind maps a wire value onto a Kind, defaulting to audio.
func ParseKind(s string) Kind {
	if Kind(s) == KindVideo {
		return KindVideo
	}
	return KindAudio
}

// Constraints returns the capture a call of this kind starts with.
func (k Kind) Constraints() media.Constraints {
	return media.Constraints{
		Audio:  true,
		Video:  k == KindVideo,
		Facing: media.FacingUser,
	}
}

type State string

const (
	StateIdle       State = "idle"
	StateCalling    State = "calling"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

// Active reports whether a call in this state holds the single call slot.
func (s State) Active() bool { return s != StateIdle && !s.Terminal() }

type EndReason string

const (
	ReasonEnded       EndReason = "ended"
	ReasonRejected    EndReason = "rejected"
	ReasonMissed      EndReason = "missed"
	ReasonBusy        EndReason = "busy"
	ReasonFailed      EndReason = "failed"
	ReasonUnanswered  EndReason = "unanswered"
	ReasonUnavailable EndReason = "unavailable"
)

// ParseReason maps a hang-up reason from the wire. Unknown values are
// treated as a normal hang-up.
func ParseReason(s string) EndReason {
	switch r := EndReason(s); r {
	case ReasonRejected, ReasonMissed, ReasonBusy, ReasonFailed, ReasonUnanswered, ReasonUnavailable:
		return r
	default:
		return ReasonEnded
	}
}

type Flags struct {
	Muted         bool
	VideoEnabled  bool
	ScreenSharing bool
	SpeakerOn     bool
}

// Call is one pairwise call. Values handed out by the orchestrator are
// snapshots and safe to keep.
type Call struct {
	ID                  string
	Direction           Direction
	Kind                Kind
	State               State
	LocalParticipantID  string
	RemoteParticipantID string

	CreatedAt   time.Time
	ConnectedAt *time.Time
	EndedAt     *time.Time

	// PendingRemoteDescription holds the offer of an incoming call until
	// it is accepted.
	PendingRemoteDescription *webrtc.SessionDescription

	Flags     Flags
	EndReason EndReason
	Err       error
}

// Duration is the connected time, zero for calls that never connected.
func (c Call) Duration() time.Duration {
	if c.ConnectedAt == nil {
		return 0
	}
	end := time.Now()
	if c.EndedAt != nil {
		end = *c.EndedAt
	}
	return end.Sub(*c.ConnectedAt)
}

func (c *Call) snapshot() Call {
	s := *c
	if c.ConnectedAt != nil {
		t := *c.ConnectedAt
		s.ConnectedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		s.EndedAt = &t
	}
	if c.PendingRemoteDescription != nil {
		d := *c.PendingRemoteDescription
		s.PendingRemoteDescription = &d
	}
	return s
}
