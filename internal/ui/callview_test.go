package ui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/BioHazard786/Warpcall/internal/history"
	"github.com/BioHazard786/Warpcall/internal/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	event.Bus[call.EventType, call.Event]

	mu    sync.Mutex
	ops   []string
	texts []string
	err   error
}

func (f *fakeController) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
	return f.err
}

func (f *fakeController) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeController) Current() (call.Call, bool) { return call.Call{}, false }
func (f *fakeController) AcceptCall(context.Context) (call.Call, error) {
	return call.Call{}, f.record("accept")
}
func (f *fakeController) RejectCall(context.Context) error { return f.record("reject") }
func (f *fakeController) EndCall(_ context.Context, r call.EndReason) error {
	return f.record("end:" + string(r))
}
func (f *fakeController) ToggleMute() error                    { return f.record("mute") }
func (f *fakeController) ToggleVideo() error                   { return f.record("video") }
func (f *fakeController) ToggleSpeaker() error                 { return f.record("speaker") }
func (f *fakeController) SwitchCamera(context.Context) error    { return f.record("camera") }
func (f *fakeController) ShareScreen(context.Context) error     { return f.record("share") }
func (f *fakeController) StopScreenShare(context.Context) error { return f.record("unshare") }
func (f *fakeController) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return f.record("text")
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds a key and runs the resulting command, if any.
func press(t *testing.T, m *callModel, k string) tea.Msg {
	t.Helper()
	_, cmd := m.Update(key(k))
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if msg != nil {
		m.Update(msg)
	}
	return msg
}

func ringing() call.Call {
	return call.Call{
		ID:                  "c1",
		Direction:           call.Incoming,
		Kind:                call.KindVideo,
		State:               call.StateRinging,
		RemoteParticipantID: "bob",
		CreatedAt:           time.Now(),
	}
}

func newTestModel(listen bool) (*callModel, *fakeController) {
	ctrl := &fakeController{}
	m := newCallModel(context.Background(), ctrl, CallViewOptions{LocalID: "alice", RingTimeout: 30 * time.Second, Listen: listen})
	return m, ctrl
}

func TestCallViewAcceptsRingingCall(t *testing.T) {
	m, ctrl := newTestModel(true)
	require.Contains(t, m.View(), "Waiting for calls")

	// Call controls do nothing without a call.
	press(t, m, "m")
	require.Empty(t, ctrl.Ops())

	m.Update(eventMsg(call.Event{Type: call.EventIncomingCall, Call: ringing()}))
	view := m.View()
	require.Contains(t, view, "Incoming video call from")
	require.Contains(t, view, "accept")

	press(t, m, "m")
	require.Empty(t, ctrl.Ops())

	press(t, m, "a")
	require.Equal(t, []string{"accept"}, ctrl.Ops())
}

func TestCallViewControlsDuringCall(t *testing.T) {
	m, ctrl := newTestModel(false)
	c := ringing()
	c.State = call.StateConnected
	connected := time.Now().Add(-65 * time.Second)
	c.ConnectedAt = &connected
	m.Update(eventMsg(call.Event{Type: call.EventCallStateChanged, Call: c}))
	m.now = time.Now()

	require.Contains(t, m.View(), "01:05")

	for _, k := range []string{"m", "v", "o", "c", "s"} {
		press(t, m, k)
	}
	require.Equal(t, []string{"mute", "video", "speaker", "camera", "share"}, ctrl.Ops())

	c.Flags.ScreenSharing = true
	m.Update(eventMsg(call.Event{Type: call.EventCallUpdated, Call: c}))
	press(t, m, "s")
	require.Equal(t, "unshare", ctrl.Ops()[5])
}

func TestCallViewChat(t *testing.T) {
	m, ctrl := newTestModel(false)
	c := ringing()
	c.State = call.StateConnected
	m.Update(eventMsg(call.Event{Type: call.EventCallStateChanged, Call: c}))

	m.Update(key("t"))
	require.True(t, m.typing)
	for _, r := range "hi bob" {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	press(t, m, "enter")
	require.Equal(t, []string{"hi bob"}, ctrl.texts)

	m.Update(eventMsg(call.Event{Type: call.EventDataMessage, Chat: session.Chat{From: "bob", Text: "hey alice"}}))
	view := m.View()
	require.Contains(t, view, "hi bob")
	require.Contains(t, view, "hey alice")

	press(t, m, "esc")
	require.False(t, m.typing)
}

func TestCallViewQuitsWhenCallEnds(t *testing.T) {
	m, ctrl := newTestModel(false)
	m.Update(eventMsg(call.Event{Type: call.EventOutgoingCall, Call: call.Call{
		ID: "c1", Direction: call.Outgoing, State: call.StateCalling, RemoteParticipantID: "bob", CreatedAt: time.Now(),
	}}))
	require.Contains(t, m.View(), "Calling")

	press(t, m, "q")
	require.Equal(t, []string{"end:ended"}, ctrl.Ops())
	require.True(t, m.closing)

	ended := call.Call{ID: "c1", Direction: call.Outgoing, State: call.StateEnded, EndReason: call.ReasonBusy, RemoteParticipantID: "bob"}
	_, cmd := m.Update(eventMsg(call.Event{Type: call.EventCallEnded, Call: ended, Reason: call.ReasonBusy}))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Equal(t, "c1", m.ended.ID)
	require.Contains(t, m.View(), "User is on another call")
}

func TestCallViewListenSurvivesCallEnd(t *testing.T) {
	m, _ := newTestModel(true)
	m.Update(eventMsg(call.Event{Type: call.EventIncomingCall, Call: ringing()}))

	missed := ringing()
	missed.State = call.StateEnded
	missed.EndReason = call.ReasonMissed
	_, cmd := m.Update(eventMsg(call.Event{Type: call.EventCallEnded, Call: missed}))
	require.Nil(t, cmd)
	require.Contains(t, m.View(), "Missed call from bob")
	require.Contains(t, m.View(), "Waiting for calls")
}

func TestCallViewShowsActionErrors(t *testing.T) {
	m, ctrl := newTestModel(true)
	ctrl.err = call.ErrMediaAcquisition
	m.Update(eventMsg(call.Event{Type: call.EventIncomingCall, Call: ringing()}))

	press(t, m, "a")
	require.Contains(t, m.View(), "Could not access camera or microphone")
}

func TestHistoryTable(t *testing.T) {
	now := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	connected := now.Add(-time.Hour)
	records := []history.Record{
		{CallID: "c2", Direction: call.Incoming, Kind: call.KindAudio, Peer: "carol", State: call.StateEnded, Reason: call.ReasonMissed, StartedAt: now.Add(-10 * time.Minute)},
		{CallID: "c1", Direction: call.Outgoing, Kind: call.KindVideo, Peer: "bob", State: call.StateEnded, Reason: call.ReasonEnded,
			StartedAt: connected.Add(-5 * time.Second), ConnectedAt: &connected, EndedAt: connected.Add(90 * time.Second)},
	}

	out := HistoryTable(records, now)
	require.Contains(t, out, "carol")
	require.Contains(t, out, "missed")
	require.Contains(t, out, "01:30")
	require.Contains(t, HistoryTable(nil, now), "No calls yet")
}

func TestEndedStatus(t *testing.T) {
	failed := call.Call{State: call.StateFailed, Err: errors.New("boom")}
	require.Contains(t, endedStatus(failed), "Call failed: boom")
	require.Contains(t, endedStatus(call.Call{State: call.StateEnded, EndReason: call.ReasonUnavailable, RemoteParticipantID: "bob"}), "bob is not online")

	gaveUp := call.Call{Direction: call.Incoming, State: call.StateEnded, EndReason: call.ReasonEnded, RemoteParticipantID: "bob"}
	require.Contains(t, endedStatus(gaveUp), "Missed call from bob")
}

func TestCallViewDialFailureQuits(t *testing.T) {
	ctrl := &fakeController{}
	m := newCallModel(context.Background(), ctrl, CallViewOptions{
		LocalID: "alice",
		Dial:    func(context.Context) error { return call.ErrMediaAcquisition },
	})
	require.NotNil(t, m.Init())

	_, cmd := m.Update(actionMsg{op: "call", err: call.ErrMediaAcquisition})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.Contains(t, m.View(), "Could not access camera or microphone")
}
