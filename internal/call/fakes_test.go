package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
	clock   *fakeClock
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f, clock: c}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

type fakeSignaler struct {
	mu    sync.Mutex
	bus   event.Bus[signaling.EventType, signaling.Event]
	state signaling.ConnectionState
	fail  error
	sent  []*signaling.Message
	subs  int
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{state: signaling.ConnectionState{Status: signaling.StatusOpen}}
}

func (s *fakeSignaler) Send(msg *signaling.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSignaler) State() signaling.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSignaler) On(t signaling.EventType, fn func(signaling.Event)) event.HandlerID {
	s.mu.Lock()
	s.subs++
	s.mu.Unlock()
	return s.bus.On(t, fn)
}

func (s *fakeSignaler) Off(t signaling.EventType, id event.HandlerID) {
	s.mu.Lock()
	s.subs--
	s.mu.Unlock()
	s.bus.Off(t, id)
}

func (s *fakeSignaler) subscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs
}

func (s *fakeSignaler) deliver(msg *signaling.Message) {
	s.bus.Emit(signaling.EventMessage, signaling.Event{Type: signaling.EventMessage, Message: msg})
}

func (s *fakeSignaler) setStatus(status signaling.Status, fail error) {
	s.mu.Lock()
	s.state = signaling.ConnectionState{Status: status}
	s.fail = fail
	s.mu.Unlock()
}

func (s *fakeSignaler) Sent() []*signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*signaling.Message(nil), s.sent...)
}

func (s *fakeSignaler) SentOfType(t signaling.MessageType) []*signaling.Message {
	var out []*signaling.Message
	for _, m := range s.Sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeSession struct {
	mu    sync.Mutex
	id    string
	hooks session.Hooks

	initErr   error
	initBlock chan struct{}
	initDone  chan struct{}

	calls      []string
	candidates []webrtc.ICECandidateInit
	remote     *webrtc.SessionDescription
	audio      bool
	video      bool
	ended      int
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSession) Initialize(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	f.record("initialize")
	if f.initDone != nil {
		close(f.initDone)
	}
	if f.initBlock != nil {
		select {
		case <-f.initBlock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.initErr != nil {
		return nil, f.initErr
	}
	f.mu.Lock()
	f.audio, f.video = c.Audio, c.Video
	f.mu.Unlock()
	return &media.Stream{ID: "local"}, nil
}

func (f *fakeSession) CreateOffer() (webrtc.SessionDescription, error) {
	f.record("createOffer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (f *fakeSession) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	f.record("createAnswer")
	f.mu.Lock()
	f.remote = &offer
	f.mu.Unlock()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (f *fakeSession) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.record("setRemoteDescription")
	f.mu.Lock()
	f.remote = &desc
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	f.record("addRemoteCandidate")
	f.mu.Lock()
	f.candidates = append(f.candidates, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ToggleAudio(enabled bool) error {
	f.mu.Lock()
	f.audio = enabled
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) ToggleVideo(enabled bool) error {
	f.mu.Lock()
	f.video = enabled
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) SwitchCamera(context.Context) error { f.record("switchCamera"); return nil }
func (f *fakeSession) ShareScreen(context.Context) error  { f.record("shareScreen"); return nil }
func (f *fakeSession) StopScreenShare() error              { f.record("stopScreenShare"); return nil }
func (f *fakeSession) SendText(string) error               { f.record("sendText"); return nil }

func (f *fakeSession) End() {
	f.mu.Lock()
	f.ended++
	f.mu.Unlock()
}

func (f *fakeSession) Ended() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}

type harness struct {
	t      *testing.T
	sig    *fakeSignaler
	clock  *fakeClock
	o      *Orchestrator
	events chan Event

	mu       sync.Mutex
	sessions []*fakeSession
	// prepare customizes each session before the orchestrator uses it.
	prepare func(*fakeSession)
}

var allEvents = []EventType{
	EventIncomingCall, EventOutgoingCall, EventCallStateChanged, EventCallUpdated,
	EventCallEnded, EventLocalStream, EventRemoteStream, EventPeerConnectionChanged,
	EventSignalConnectionChanged, EventDataMessage,
}

func newHarness(t *testing.T, local string) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		sig:    newFakeSignaler(),
		clock:  newFakeClock(),
		events: make(chan Event, 256),
	}
	factory := func(id string, hooks session.Hooks) Session {
		s := &fakeSession{id: id, hooks: hooks}
		h.mu.Lock()
		if h.prepare != nil {
			h.prepare(s)
		}
		h.sessions = append(h.sessions, s)
		h.mu.Unlock()
		return s
	}
	h.o = New(h.sig, factory, Options{LocalID: local, RingTimeout: 30 * time.Second, Clock: h.clock})
	for _, et := range allEvents {
		h.o.On(et, func(ev Event) { h.events <- ev })
	}
	t.Cleanup(h.o.Close)
	return h
}

// sync waits until everything queued on the loop so far has run.
func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.o.do(func() error { return nil }))
}

func (h *harness) session(i int) *fakeSession {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.sessions), i, "session %d not created", i)
	return h.sessions[i]
}

func (h *harness) sessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *harness) waitEvent(t EventType) Event {
	h.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.Type == t {
				return ev
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for %s", t)
			return Event{}
		}
	}
}

// drainEvents returns every event delivered so far.
func (h *harness) drainEvents() []Event {
	h.sync()
	done := make(chan struct{})
	h.o.events.Submit(func() { close(done) })
	<-done

	var out []Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (h *harness) state() State {
	c, ok := h.o.Current()
	if !ok {
		return StateIdle
	}
	return c.State
}

func msg(t *testing.T, typ signaling.MessageType, from, to, callID string, data any) *signaling.Message {
	t.Helper()
	m, err := signaling.NewMessage(typ, from, to, callID, data)
	require.NoError(t, err)
	return m
}

func decode[T any](t *testing.T, m *signaling.Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(m.Data, &v))
	return v
}
