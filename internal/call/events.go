package call

import (
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

type EventType string

const (
	EventIncomingCall            EventType = "incomingCall"
	EventOutgoingCall            EventType = "outgoingCall"
	EventCallStateChanged        EventType = "callStateChanged"
	EventCallUpdated             EventType = "callUpdated"
	EventCallEnded               EventType = "callEnded"
	EventLocalStream             EventType = "localStream"
	EventRemoteStream            EventType = "remoteStream"
	EventPeerConnectionChanged   EventType = "peerConnectionChanged"
	EventSignalConnectionChanged EventType = "signalConnectionChanged"
	EventDataMessage             EventType = "dataMessage"
)

// Event is delivered to subscribers in emission order on a dedicated
// goroutine, so handlers may call back into the orchestrator. Only the
// fields relevant to Type are set.
type Event struct {
	Type EventType
	Call Call

	// CallStateChanged
	Previous State

	// CallEnded
	Reason EndReason
	Err    error

	LocalStream   *media.Stream
	RemoteStream  *media.RemoteStream
	ParticipantID string

	PeerState   session.ConnectionState
	SignalState signaling.ConnectionState
	Chat        session.Chat
}
