package call

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// newTestMachine runs enqueued work inline.
func newTestMachine(clock *fakeClock) (*Machine, *[]State, *[]Call) {
	m := NewMachine(clock, 30*time.Second, func(fn func()) { fn() })
	var states []State
	var timeouts []Call
	m.OnChange = func(_ State, c Call) { states = append(states, c.State) }
	m.OnTimeout = func(c Call) { timeouts = append(timeouts, c) }
	return m, &states, &timeouts
}

func TestMachineOutgoingLifecycle(t *testing.T) {
	clock := newFakeClock()
	m, states, _ := newTestMachine(clock)

	c, err := m.StartOutgoing("c1", "alice", "bob", KindVideo)
	require.NoError(t, err)
	require.Equal(t, Outgoing, c.Direction)
	require.True(t, c.Flags.VideoEnabled)

	require.NoError(t, m.RemoteAnswer())
	clock.Advance(5 * time.Second)
	require.NoError(t, m.TransportConnected())
	require.NotNil(t, m.Current().ConnectedAt)

	clock.Advance(time.Minute)
	require.NoError(t, m.HangUp(ReasonEnded))
	require.Equal(t, StateEnded, m.State())
	require.Equal(t, time.Minute, m.Current().Duration())

	require.Equal(t, []State{StateCalling, StateConnecting, StateConnected, StateEnded}, *states)
	require.NoError(t, m.Reset())
	require.Equal(t, StateIdle, m.State())
}

func TestMachineSingleCallSlot(t *testing.T) {
	m, _, _ := newTestMachine(newFakeClock())

	_, err := m.StartOutgoing("c1", "alice", "bob", KindAudio)
	require.NoError(t, err)

	_, err = m.StartOutgoing("c2", "alice", "carol", KindAudio)
	require.ErrorIs(t, err, ErrAlreadyInCall)
	_, err = m.ReceiveOffer("c3", "alice", "dave", KindAudio, webrtc.SessionDescription{})
	require.ErrorIs(t, err, ErrAlreadyInCall)
	require.Equal(t, "c1", m.Current().ID)
}

func TestMachineRejectsIllegalTransitions(t *testing.T) {
	m, _, _ := newTestMachine(newFakeClock())

	require.ErrorIs(t, m.RemoteAnswer(), ErrInvalidTransition)
	require.ErrorIs(t, m.HangUp(ReasonEnded), ErrNoActiveCall)

	_, err := m.ReceiveOffer("c1", "alice", "bob", KindAudio, webrtc.SessionDescription{SDP: "v=0"})
	require.NoError(t, err)
	require.ErrorIs(t, m.RemoteAnswer(), ErrInvalidTransition)
	require.ErrorIs(t, m.TransportConnected(), ErrInvalidTransition)
	require.ErrorIs(t, m.Reset(), ErrInvalidTransition)

	require.NoError(t, m.Reject())
	require.Equal(t, ReasonRejected, m.Current().EndReason)
	require.Nil(t, m.Current().PendingRemoteDescription)
	require.ErrorIs(t, m.Fail(nil), ErrNoActiveCall)
}

func TestMachineRingTimeoutFiresOnce(t *testing.T) {
	clock := newFakeClock()
	m, _, timeouts := newTestMachine(clock)

	_, err := m.ReceiveOffer("c1", "alice", "bob", KindAudio, webrtc.SessionDescription{})
	require.NoError(t, err)

	clock.Advance(29 * time.Second)
	require.Empty(t, *timeouts)
	clock.Advance(time.Second)
	require.Len(t, *timeouts, 1)
	require.Equal(t, StateRinging, (*timeouts)[0].State)

	clock.Advance(time.Minute)
	require.Len(t, *timeouts, 1)
}

func TestMachineAcceptRestartsTimer(t *testing.T) {
	clock := newFakeClock()
	m, _, timeouts := newTestMachine(clock)

	_, err := m.ReceiveOffer("c1", "alice", "bob", KindAudio, webrtc.SessionDescription{})
	require.NoError(t, err)
	clock.Advance(20 * time.Second)
	require.NoError(t, m.Accept())

	clock.Advance(20 * time.Second)
	require.Empty(t, *timeouts)

	clock.Advance(10 * time.Second)
	require.Len(t, *timeouts, 1)
	require.Equal(t, StateConnecting, (*timeouts)[0].State)
}

func TestMachineStaleTimerIgnored(t *testing.T) {
	clock := newFakeClock()
	m := NewMachine(clock, 30*time.Second, nil)
	var pending []func()
	m.enqueue = func(fn func()) { pending = append(pending, fn) }
	fired := 0
	m.OnTimeout = func(Call) { fired++ }

	_, err := m.StartOutgoing("c1", "alice", "bob", KindAudio)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	require.Len(t, pending, 1)

	// The remote answered before the queued timeout ran.
	require.NoError(t, m.RemoteAnswer())
	pending[0]()
	require.Zero(t, fired)
}

func TestMachineBusyCarriesError(t *testing.T) {
	m, _, _ := newTestMachine(newFakeClock())
	_, err := m.StartOutgoing("c1", "alice", "bob", KindAudio)
	require.NoError(t, err)

	require.NoError(t, m.Busy())
	require.Equal(t, ReasonBusy, m.Current().EndReason)
	require.ErrorIs(t, m.Current().Err, ErrRemoteBusy)
}

func TestParseHelpers(t *testing.T) {
	require.Equal(t, KindVideo, ParseKind("video"))
	require.Equal(t, KindAudio, ParseKind(""))
	require.Equal(t, KindAudio, ParseKind("hologram"))

	require.Equal(t, ReasonMissed, ParseReason("missed"))
	require.Equal(t, ReasonEnded, ParseReason("whatever"))

	require.False(t, StateIdle.Active())
	require.True(t, StateRinging.Active())
	require.True(t, StateFailed.Terminal())
}
