package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

const (
	DefaultRingTimeout = 30 * time.Second

	// maxOutbox bounds messages held while the signaling link reconnects.
	maxOutbox = 256
	// maxEarlyCandidates bounds remote candidates held before the session
	// exists. Later arrivals are dropped; the first ones carry host paths.
	maxEarlyCandidates = 64
)

// Signaler is the signaling transport. *signaling.Client implements it.
type Signaler interface {
	Send(msg *signaling.Message) error
	State() signaling.ConnectionState
	On(t signaling.EventType, fn func(signaling.Event)) event.HandlerID
	Off(t signaling.EventType, id event.HandlerID)
}

// Session is one call's media negotiation. *session.Negotiator implements it.
type Session interface {
	Initialize(ctx context.Context, c media.Constraints) (*media.Stream, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddRemoteCandidate(c webrtc.ICECandidateInit) error
	ToggleAudio(enabled bool) error
	ToggleVideo(enabled bool) error
	SwitchCamera(ctx context.Context) error
	ShareScreen(ctx context.Context) error
	StopScreenShare() error
	SendText(text string) error
	End()
}

// SessionFactory builds the session for a new call.
type SessionFactory func(callID string, hooks session.Hooks) Session

type Options struct {
	LocalID     string
	RingTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger
}

// Orchestrator runs the call lifecycle. Every operation, inbound message,
// session callback and timer is applied on a single loop goroutine, so the
// machine and session handles need no locking.
type Orchestrator struct {
	sig        Signaler
	newSession SessionFactory
	opts       Options
	log        *slog.Logger

	loop   *event.Queue
	events *event.Queue
	bus    event.Bus[EventType, Event]
	subs   map[signaling.EventType]event.HandlerID

	// Owned by the loop.
	machine    *Machine
	sess       Session
	sessReady  bool
	cancelInit context.CancelFunc
	early      []webrtc.ICECandidateInit
	outbox     []*signaling.Message

	current atomic.Pointer[Call]
	closed  atomic.Bool
}

func New(sig Signaler, factory SessionFactory, opts Options) *Orchestrator {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = DefaultRingTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	o := &Orchestrator{
		sig:        sig,
		newSession: factory,
		opts:       opts,
		log:        opts.Logger.With("component", "call", "participant", opts.LocalID),
		loop:       event.NewQueue(),
		events:     event.NewQueue(),
	}
	o.machine = NewMachine(opts.Clock, opts.RingTimeout, func(fn func()) { o.loop.Submit(fn) })
	o.machine.OnChange = o.onStateChange
	o.machine.OnTimeout = o.onTimeout

	o.subs = map[signaling.EventType]event.HandlerID{
		signaling.EventMessage: sig.On(signaling.EventMessage, func(ev signaling.Event) {
			msg := ev.Message
			o.loop.Submit(func() { o.dispatch(msg) })
		}),
		signaling.EventOpen: sig.On(signaling.EventOpen, func(signaling.Event) {
			o.loop.Submit(o.flushOutbox)
		}),
		signaling.EventState: sig.On(signaling.EventState, func(ev signaling.Event) {
			o.emit(Event{Type: EventSignalConnectionChanged, SignalState: ev.State})
		}),
		signaling.EventSignalFailed: sig.On(signaling.EventSignalFailed, func(ev signaling.Event) {
			err := ev.Err
			o.loop.Submit(func() { o.signalFailed(err) })
		}),
	}
	return o
}

// On subscribes fn to orchestrator events.
func (o *Orchestrator) On(t EventType, fn func(Event)) event.HandlerID {
	return o.bus.On(t, fn)
}

func (o *Orchestrator) Off(t EventType, id event.HandlerID) {
	o.bus.Off(t, id)
}

// Current returns a snapshot of the active call.
func (o *Orchestrator) Current() (Call, bool) {
	c := o.current.Load()
	if c == nil {
		return Call{}, false
	}
	return *c, true
}

func (o *Orchestrator) ConnectionState() signaling.ConnectionState {
	return o.sig.State()
}

// StartCall places an outgoing call. Capture runs off the loop; if the
// call is ended meanwhile the result is discarded.
func (o *Orchestrator) StartCall(ctx context.Context, remoteID string, kind Kind) (Call, error) {
	switch {
	case remoteID == "":
		return Call{}, NewError("start call", errors.New("remote participant id is empty"))
	case remoteID == o.opts.LocalID:
		return Call{}, NewError("start call", errors.New("cannot call yourself"))
	}

	var (
		id      string
		sess    Session
		initCtx context.Context
	)
	err := o.do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := o.machine.StartOutgoing(uuid.NewString(), o.opts.LocalID, remoteID, kind)
		if err != nil {
			return err
		}
		id = c.ID
		sess = o.openSession(id, remoteID)
		initCtx, o.cancelInit = context.WithCancel(ctx)
		o.log.Info("placing call", "call_id", id, "peer", remoteID, "kind", kind)
		o.emit(Event{Type: EventOutgoingCall, Call: c.snapshot()})
		return nil
	})
	if err != nil {
		return Call{}, NewError("start call", err)
	}

	_, initErr := sess.Initialize(initCtx, kind.Constraints())

	var out Call
	err = o.do(func() error {
		if !o.owns(id, sess) {
			return ErrCallEnded
		}
		o.releaseInit()
		if initErr != nil {
			o.fail(initErr)
			return initErr
		}
		o.sessReady = true

		offer, err := sess.CreateOffer()
		if err != nil {
			o.fail(err)
			return err
		}
		msg, err := signaling.NewMessage(signaling.TypeOffer, o.opts.LocalID, remoteID, id,
			signaling.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP, Kind: string(kind)})
		if err == nil {
			err = o.send(msg)
		}
		if err != nil {
			o.fail(err)
			return err
		}
		out = o.machine.Current().snapshot()
		return nil
	})
	if err != nil {
		return Call{}, &Error{Op: "start call", CallID: id, Err: err}
	}
	return out, nil
}

// AcceptCall answers the ringing incoming call.
func (o *Orchestrator) AcceptCall(ctx context.Context) (Call, error) {
	var (
		id, remote string
		kind       Kind
		offer      webrtc.SessionDescription
		sess       Session
		initCtx    context.Context
	)
	err := o.do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c := o.machine.Current()
		if c == nil || c.Direction != Incoming || c.State != StateRinging || c.PendingRemoteDescription == nil {
			return ErrNoIncomingCall
		}
		id, remote, kind = c.ID, c.RemoteParticipantID, c.Kind
		offer = *c.PendingRemoteDescription
		if err := o.machine.Accept(); err != nil {
			return err
		}
		sess = o.openSession(id, remote)
		initCtx, o.cancelInit = context.WithCancel(ctx)
		o.log.Info("accepting call", "call_id", id, "peer", remote)
		return nil
	})
	if err != nil {
		return Call{}, NewError("accept call", err)
	}

	_, initErr := sess.Initialize(initCtx, kind.Constraints())

	var out Call
	err = o.do(func() error {
		if !o.owns(id, sess) {
			return ErrCallEnded
		}
		o.releaseInit()
		if initErr != nil {
			o.sendHangUp(id, remote, ReasonFailed)
			o.fail(initErr)
			return initErr
		}

		answer, err := sess.CreateAnswer(offer)
		if err != nil {
			o.sendHangUp(id, remote, ReasonFailed)
			o.fail(err)
			return err
		}
		o.sessReady = true
		o.machine.Current().PendingRemoteDescription = nil
		o.flushEarly()

		msg, err := signaling.NewMessage(signaling.TypeAnswer, o.opts.LocalID, remote, id,
			signaling.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP})
		if err == nil {
			err = o.send(msg)
		}
		if err != nil {
			o.fail(err)
			return err
		}
		out = o.machine.Current().snapshot()
		return nil
	})
	if err != nil {
		return Call{}, &Error{Op: "accept call", CallID: id, Err: err}
	}
	return out, nil
}

// RejectCall declines the ringing incoming call.
func (o *Orchestrator) RejectCall(ctx context.Context) error {
	err := o.do(func() error {
		c := o.machine.Current()
		if c == nil || c.Direction != Incoming || c.State != StateRinging {
			return ErrNoIncomingCall
		}
		msg, err := signaling.NewMessage(signaling.TypeReject, o.opts.LocalID, c.RemoteParticipantID, c.ID,
			signaling.HangUpPayload{Reason: string(ReasonRejected)})
		if err == nil {
			err = o.send(msg)
		}
		if err != nil {
			o.log.Warn("reject not delivered", "call_id", c.ID, "error", err)
		}
		o.machine.Reject()
		o.finish()
		return nil
	})
	if err != nil {
		return NewError("reject call", err)
	}
	return nil
}

// EndCall hangs up the active call. It never waits on signaling delivery
// and is a no-op when there is no call.
func (o *Orchestrator) EndCall(ctx context.Context, reason EndReason) error {
	if reason == "" {
		reason = ReasonEnded
	}
	err := o.do(func() error {
		c := o.machine.Current()
		if c == nil || !c.State.Active() {
			return nil
		}
		o.sendHangUp(c.ID, c.RemoteParticipantID, reason)
		o.machine.HangUp(reason)
		o.finish()
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// ToggleMute flips the microphone. No-op without a live session.
func (o *Orchestrator) ToggleMute() error {
	err := o.do(func() error {
		c := o.machine.Current()
		if c == nil || !c.State.Active() || !o.sessReady {
			return nil
		}
		muted := !c.Flags.Muted
		if err := o.sess.ToggleAudio(!muted); err != nil {
			return err
		}
		c.Flags.Muted = muted
		o.machine.Touch()
		return nil
	})
	if err != nil {
		return NewError("toggle mute", err)
	}
	return nil
}

// ToggleVideo flips the outgoing camera. No-op without a live session.
func (o *Orchestrator) ToggleVideo() error {
	err := o.do(func() error {
		c := o.machine.Current()
		if c == nil || !c.State.Active() || !o.sessReady {
			return nil
		}
		enabled := !c.Flags.VideoEnabled
		if err := o.sess.ToggleVideo(enabled); err != nil {
			return err
		}
		c.Flags.VideoEnabled = enabled
		o.machine.Touch()
		return nil
	})
	if err != nil {
		return NewError("toggle video", err)
	}
	return nil
}

// ToggleSpeaker only records the preference; routing is up to the output.
func (o *Orchestrator) ToggleSpeaker() error {
	return o.do(func() error {
		c := o.machine.Current()
		if c == nil || !c.State.Active() {
			return nil
		}
		c.Flags.SpeakerOn = !c.Flags.SpeakerOn
		o.machine.Touch()
		return nil
	})
}

func (o *Orchestrator) SwitchCamera(ctx context.Context) error {
	sess, _, err := o.activeSession()
	if err != nil {
		return NewError("switch camera", err)
	}
	if err := sess.SwitchCamera(ctx); err != nil {
		return NewError("switch camera", err)
	}
	return nil
}

func (o *Orchestrator) ShareScreen(ctx context.Context) error {
	sess, id, err := o.activeSession()
	if err != nil {
		return NewError("share screen", err)
	}
	if err := sess.ShareScreen(ctx); err != nil {
		return &Error{Op: "share screen", CallID: id, Err: err}
	}
	o.setSharing(id, sess, true)
	return nil
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	sess, id, err := o.activeSession()
	if err != nil {
		return NewError("stop screen share", err)
	}
	if err := sess.StopScreenShare(); err != nil {
		return &Error{Op: "stop screen share", CallID: id, Err: err}
	}
	o.setSharing(id, sess, false)
	return nil
}

// SendText sends an in-call chat message.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	sess, id, err := o.activeSession()
	if err != nil {
		return NewError("send text", err)
	}
	if err := sess.SendText(text); err != nil {
		return &Error{Op: "send text", CallID: id, Err: err}
	}
	return nil
}

// Close hangs up any active call, unsubscribes from signaling and stops
// the loop. Events already emitted are still delivered.
func (o *Orchestrator) Close() {
	if !o.closed.CompareAndSwap(false, true) {
		return
	}
	for t, id := range o.subs {
		o.sig.Off(t, id)
	}
	o.do(func() error {
		if c := o.machine.Current(); c != nil && c.State.Active() {
			o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonEnded)
			o.machine.HangUp(ReasonEnded)
			o.finish()
		}
		return nil
	})
	o.loop.Close()
	o.events.Close()
}

// do runs fn on the loop and waits for it.
func (o *Orchestrator) do(fn func() error) error {
	done := make(chan error, 1)
	if !o.loop.Submit(func() { done <- fn() }) {
		return ErrClosed
	}
	return <-done
}

func (o *Orchestrator) emit(ev Event) {
	o.events.Submit(func() { o.bus.Emit(ev.Type, ev) })
}

func (o *Orchestrator) activeSession() (Session, string, error) {
	var (
		sess Session
		id   string
	)
	err := o.do(func() error {
		c := o.machine.Current()
		if c == nil || !c.State.Active() || !o.sessReady {
			return ErrNoActiveCall
		}
		sess, id = o.sess, c.ID
		return nil
	})
	return sess, id, err
}

func (o *Orchestrator) setSharing(id string, sess Session, on bool) {
	o.loop.Submit(func() {
		if !o.owns(id, sess) {
			return
		}
		c := o.machine.Current()
		if c.Flags.ScreenSharing != on {
			c.Flags.ScreenSharing = on
			o.machine.Touch()
		}
	})
}

// owns reports whether sess is still the live session of call id.
func (o *Orchestrator) owns(id string, sess Session) bool {
	return o.machine.Matches(id) && o.machine.State().Active() && o.sess == sess
}

func (o *Orchestrator) releaseInit() {
	if o.cancelInit != nil {
		o.cancelInit()
		o.cancelInit = nil
	}
}

// openSession builds the session for call id. Its hooks re-enter the loop
// and are ignored once the call is over.
func (o *Orchestrator) openSession(id, remote string) Session {
	live := func(fn func()) {
		o.loop.Submit(func() {
			if o.machine.Matches(id) && o.machine.State().Active() {
				fn()
			}
		})
	}

	o.sess = o.newSession(id, session.Hooks{
		OnLocalStream: func(s *media.Stream) {
			live(func() {
				o.emit(Event{Type: EventLocalStream, Call: o.machine.Current().snapshot(), LocalStream: s})
			})
		},
		OnRemoteStream: func(rs *media.RemoteStream) {
			live(func() {
				o.emit(Event{Type: EventRemoteStream, Call: o.machine.Current().snapshot(), ParticipantID: remote, RemoteStream: rs})
			})
		},
		OnICECandidate: func(c webrtc.ICECandidateInit) {
			live(func() { o.sendCandidate(id, remote, c) })
		},
		OnConnectionState: func(s session.ConnectionState) {
			live(func() { o.peerState(s) })
		},
		OnDataMessage: func(chat session.Chat) {
			live(func() {
				o.emit(Event{Type: EventDataMessage, Call: o.machine.Current().snapshot(), ParticipantID: remote, Chat: chat})
			})
		},
		OnScreenShareEnded: func() {
			live(func() {
				if c := o.machine.Current(); c.Flags.ScreenSharing {
					c.Flags.ScreenSharing = false
					o.machine.Touch()
				}
			})
		},
	})
	o.sessReady = false
	return o.sess
}

func (o *Orchestrator) onStateChange(prev State, c Call) {
	o.current.Store(&c)
	if prev == c.State {
		o.emit(Event{Type: EventCallUpdated, Call: c})
		return
	}
	o.log.Debug("call state", "call_id", c.ID, "state", c.State, "previous", prev)
	o.emit(Event{Type: EventCallStateChanged, Call: c, Previous: prev})
}

func (o *Orchestrator) onTimeout(c Call) {
	switch c.State {
	case StateRinging:
		// The caller is not told; its own ring timer ends the attempt.
		o.log.Info("missed call", "call_id", c.ID, "peer", c.RemoteParticipantID)
		o.machine.HangUp(ReasonMissed)
	case StateCalling:
		o.log.Info("call unanswered", "call_id", c.ID, "peer", c.RemoteParticipantID)
		o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonUnanswered)
		o.machine.HangUp(ReasonUnanswered)
	case StateConnecting:
		o.log.Warn("media connection timed out", "call_id", c.ID)
		o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonFailed)
		o.machine.Fail(ErrConnectTimeout)
	default:
		return
	}
	o.finish()
}

func (o *Orchestrator) peerState(s session.ConnectionState) {
	c := o.machine.Current()
	o.emit(Event{Type: EventPeerConnectionChanged, Call: c.snapshot(), PeerState: s})

	switch s {
	case session.StateConnected:
		if c.State == StateConnecting {
			o.machine.TransportConnected()
			o.log.Info("call connected", "call_id", c.ID, "peer", c.RemoteParticipantID)
		}
	case session.StateDisconnected:
		o.log.Warn("peer connection interrupted", "call_id", c.ID)
	case session.StateFailed:
		o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonFailed)
		o.fail(fmt.Errorf("%w: ice connection failed", ErrNegotiation))
	}
}

func (o *Orchestrator) signalFailed(err error) {
	if err == nil {
		err = ErrSignalConnectionLost
	}
	o.outbox = nil
	if c := o.machine.Current(); c != nil && c.State.Active() {
		o.log.Error("signaling lost during call", "call_id", c.ID, "error", err)
		o.fail(err)
	}
}

// fail moves the call to Failed and cleans up.
func (o *Orchestrator) fail(err error) {
	if o.machine.Fail(err) == nil {
		o.finish()
	}
}

// finish emits CallEnded, releases the session and frees the call slot.
func (o *Orchestrator) finish() {
	c := o.machine.Current()
	if c == nil || !c.State.Terminal() {
		return
	}
	snap := c.snapshot()

	o.log.Info("call ended", "call_id", snap.ID, "reason", snap.EndReason, "duration", snap.Duration())
	o.emit(Event{Type: EventCallEnded, Call: snap, Reason: snap.EndReason, Err: snap.Err})

	o.releaseInit()
	if o.sess != nil {
		o.sess.End()
		o.sess = nil
	}
	o.sessReady = false
	o.early = nil
	o.pruneOutbox(snap.ID)

	o.machine.Reset()
	o.current.Store(nil)
}
