package call

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// Clock abstracts timers so tests can drive ring timeouts.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Machine holds the single call slot and enforces legal transitions. It is
// not safe for concurrent use: the orchestrator drives it from its loop and
// timers re-enter only through enqueue.
type Machine struct {
	clock       Clock
	enqueue     func(func())
	ringTimeout time.Duration

	call     *Call
	timer    Timer
	timerSeq uint64

	// OnChange observes every transition.
	OnChange func(prev State, c Call)
	// OnTimeout runs on the loop when a ring or connect timer expires.
	OnTimeout func(c Call)
}

func NewMachine(clock Clock, ringTimeout time.Duration, enqueue func(func())) *Machine {
	if clock == nil {
		clock = realClock{}
	}
	return &Machine{
		clock:       clock,
		enqueue:     enqueue,
		ringTimeout: ringTimeout,
	}
}

// State is Idle when no call exists.
func (m *Machine) State() State {
	if m.call == nil {
		return StateIdle
	}
	return m.call.State
}

// Current returns the live call, or nil.
func (m *Machine) Current() *Call {
	return m.call
}

// Matches reports whether callID belongs to the current call.
func (m *Machine) Matches(callID string) bool {
	return m.call != nil && m.call.ID == callID
}

func (m *Machine) StartOutgoing(id, local, remote string, kind Kind) (*Call, error) {
	if m.call != nil {
		return nil, ErrAlreadyInCall
	}
	m.call = m.newCall(id, Outgoing, local, remote, kind)
	m.set(StateCalling)
	m.startTimer()
	return m.call, nil
}

func (m *Machine) ReceiveOffer(id, local, remote string, kind Kind, offer webrtc.SessionDescription) (*Call, error) {
	if m.call != nil {
		return nil, ErrAlreadyInCall
	}
	m.call = m.newCall(id, Incoming, local, remote, kind)
	m.call.PendingRemoteDescription = &offer
	m.set(StateRinging)
	m.startTimer()
	return m.call, nil
}

func (m *Machine) newCall(id string, dir Direction, local, remote string, kind Kind) *Call {
	return &Call{
		ID:                  id,
		Direction:           dir,
		Kind:                kind,
		State:               StateIdle,
		LocalParticipantID:  local,
		RemoteParticipantID: remote,
		CreatedAt:           m.clock.Now(),
		Flags: Flags{
			VideoEnabled: kind == KindVideo,
			SpeakerOn:    kind == KindVideo,
		},
	}
}

// RemoteAnswer moves an outgoing call to Connecting.
func (m *Machine) RemoteAnswer() error {
	if err := m.expect(StateCalling); err != nil {
		return err
	}
	m.set(StateConnecting)
	m.startTimer()
	return nil
}

// Accept moves an incoming call to Connecting and cancels the missed-call
// timer.
func (m *Machine) Accept() error {
	if err := m.expect(StateRinging); err != nil {
		return err
	}
	m.set(StateConnecting)
	m.startTimer()
	return nil
}

func (m *Machine) TransportConnected() error {
	if err := m.expect(StateConnecting); err != nil {
		return err
	}
	m.stopTimer()
	now := m.clock.Now()
	m.call.ConnectedAt = &now
	m.set(StateConnected)
	return nil
}

// Reject ends a ringing incoming call locally.
func (m *Machine) Reject() error {
	if err := m.expect(StateRinging); err != nil {
		return err
	}
	return m.end(StateEnded, ReasonRejected, nil)
}

// RemoteReject ends an outgoing call the callee declined.
func (m *Machine) RemoteReject() error {
	if err := m.expect(StateCalling); err != nil {
		return err
	}
	return m.end(StateEnded, ReasonRejected, nil)
}

func (m *Machine) Busy() error {
	if err := m.expect(StateCalling); err != nil {
		return err
	}
	return m.end(StateEnded, ReasonBusy, ErrRemoteBusy)
}

// HangUp ends any non-terminal call.
func (m *Machine) HangUp(reason EndReason) error {
	if m.call == nil || m.call.State.Terminal() {
		return ErrNoActiveCall
	}
	return m.end(StateEnded, reason, nil)
}

func (m *Machine) Fail(err error) error {
	if m.call == nil || m.call.State.Terminal() {
		return ErrNoActiveCall
	}
	return m.end(StateFailed, ReasonFailed, err)
}

// Reset frees the slot after a terminal state.
func (m *Machine) Reset() error {
	if m.call == nil {
		return nil
	}
	if !m.call.State.Terminal() {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, m.call.State)
	}
	m.stopTimer()
	m.call = nil
	return nil
}

// Touch reports a flag change on the current call.
func (m *Machine) Touch() {
	if m.call != nil && m.OnChange != nil {
		m.OnChange(m.call.State, m.call.snapshot())
	}
}

func (m *Machine) end(state State, reason EndReason, err error) error {
	m.stopTimer()
	now := m.clock.Now()
	m.call.EndedAt = &now
	m.call.EndReason = reason
	m.call.Err = err
	m.call.PendingRemoteDescription = nil
	m.set(state)
	return nil
}

func (m *Machine) expect(want State) error {
	if m.call == nil {
		return fmt.Errorf("%w: no call", ErrInvalidTransition)
	}
	if m.call.State != want {
		return fmt.Errorf("%w: %s, want %s", ErrInvalidTransition, m.call.State, want)
	}
	return nil
}

func (m *Machine) set(s State) {
	prev := m.call.State
	m.call.State = s
	if m.OnChange != nil {
		m.OnChange(prev, m.call.snapshot())
	}
}

// startTimer arms the timeout for the current state. A fired timer whose
// call or state has moved on is ignored, so each timeout acts at most once.
func (m *Machine) startTimer() {
	m.stopTimer()
	if m.ringTimeout <= 0 {
		return
	}

	m.timerSeq++
	seq, id, state := m.timerSeq, m.call.ID, m.call.State
	m.timer = m.clock.AfterFunc(m.ringTimeout, func() {
		m.enqueue(func() {
			if m.timerSeq != seq || m.call == nil || m.call.ID != id || m.call.State != state {
				return
			}
			m.timer = nil
			m.timerSeq++
			if m.OnTimeout != nil {
				m.OnTimeout(m.call.snapshot())
			}
		})
	})
}

func (m *Machine) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}
