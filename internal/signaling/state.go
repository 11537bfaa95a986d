package signaling

import "fmt"

// Status of the signaling transport.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// ConnectionState is a read-only snapshot of the client.
type ConnectionState struct {
	Status           Status
	ReconnectAttempt int
	LastError        error
}

func (s ConnectionState) String() string {
	if s.Status == StatusReconnecting {
		return fmt.Sprintf("%s (attempt %d)", s.Status, s.ReconnectAttempt)
	}
	return string(s.Status)
}

// EventType names the events a Client emits.
type EventType string

const (
	EventMessage      EventType = "message"
	EventOpen         EventType = "open"
	EventClose        EventType = "close"
	EventError        EventType = "error"
	EventSignalFailed EventType = "signalFailed"
	EventState        EventType = "state"
)

// Event is passed to handlers. Only the fields relevant to Type are set.
type Event struct {
	Type    EventType
	Message *Message
	State   ConnectionState
	Err     error
}
