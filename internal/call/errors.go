package call

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
)

var (
	ErrMediaAcquisition     = session.ErrMediaAcquisition
	ErrNegotiation          = session.ErrNegotiation
	ErrSignalDelivery       = signaling.ErrSignalDelivery
	ErrSignalConnectionLost = signaling.ErrSignalConnectionLost

	ErrAlreadyInCall     = errors.New("already in a call")
	ErrNoIncomingCall    = errors.New("no incoming call")
	ErrNoActiveCall      = errors.New("no active call")
	ErrCallEnded         = errors.New("call ended")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrRemoteBusy        = errors.New("user is on another call")
	ErrConnectTimeout    = errors.New("media connection timed out")
	ErrClosed            = errors.New("orchestrator closed")
)

type Error struct {
	Op     string
	CallID string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.CallID != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.CallID)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// UserMessage renders err for people rather than logs.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRemoteBusy):
		return "User is on another call"
	case errors.Is(err, ErrAlreadyInCall):
		return "You are already in a call"
	case errors.Is(err, ErrMediaAcquisition):
		return "Could not access camera or microphone"
	case errors.Is(err, ErrSignalConnectionLost):
		return "Lost connection to the signaling server"
	case errors.Is(err, ErrSignalDelivery):
		return "Signaling server is unreachable"
	case errors.Is(err, ErrConnectTimeout):
		return "Could not establish a media connection"
	case errors.Is(err, ErrNegotiation):
		return "Call setup failed"
	case errors.Is(err, ErrNoIncomingCall):
		return "There is no incoming call"
	case errors.Is(err, ErrNoActiveCall):
		return "There is no active call"
	default:
		return err.Error()
	}
}
