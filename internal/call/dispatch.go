package call

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// dispatch applies one inbound signaling message. Runs on the loop.
func (o *Orchestrator) dispatch(msg *signaling.Message) {
	if msg == nil {
		return
	}
	if msg.To != "" && msg.To != o.opts.LocalID {
		o.log.Debug("discarding message for another participant", "type", msg.Type, "to", msg.To)
		return
	}

	switch msg.Type {
	case signaling.TypeOffer:
		o.handleOffer(msg)
	case signaling.TypeAnswer:
		o.handleAnswer(msg)
	case signaling.TypeICECandidate:
		o.handleCandidate(msg)
	case signaling.TypeHangUp:
		o.handleHangUp(msg)
	case signaling.TypeReject:
		o.handleReject(msg)
	case signaling.TypeBusy:
		o.handleBusy(msg)
	}
}

// matching returns the live call when the message belongs to it.
func (o *Orchestrator) matching(msg *signaling.Message) *Call {
	c := o.machine.Current()
	if c == nil || c.ID != msg.CallID || !c.State.Active() {
		o.log.Debug("discarding stale message", "type", msg.Type, "call_id", msg.CallID)
		return nil
	}
	return c
}

func (o *Orchestrator) handleOffer(msg *signaling.Message) {
	var p signaling.SDPPayload
	if err := msg.DecodeData(&p); err != nil || p.SDP == "" || msg.From == "" {
		o.log.Warn("dropping malformed offer", "call_id", msg.CallID, "peer", msg.From, "error", err)
		return
	}

	if o.machine.State() != StateIdle {
		if o.machine.Matches(msg.CallID) {
			o.log.Debug("duplicate offer", "call_id", msg.CallID)
			return
		}
		o.log.Info("busy, declining call", "call_id", msg.CallID, "peer", msg.From)
		busy, err := signaling.NewMessage(signaling.TypeBusy, o.opts.LocalID, msg.From, msg.CallID,
			signaling.HangUpPayload{Reason: string(ReasonBusy)})
		if err == nil {
			err = o.sig.Send(busy)
		}
		if err != nil {
			o.log.Warn("busy reply not delivered", "call_id", msg.CallID, "error", err)
		}
		return
	}

	c, err := o.machine.ReceiveOffer(msg.CallID, o.opts.LocalID, msg.From, ParseKind(p.Kind),
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		o.log.Warn("cannot take incoming call", "call_id", msg.CallID, "error", err)
		return
	}
	o.log.Info("incoming call", "call_id", c.ID, "peer", c.RemoteParticipantID, "kind", c.Kind)
	o.emit(Event{Type: EventIncomingCall, Call: c.snapshot()})
}

func (o *Orchestrator) handleAnswer(msg *signaling.Message) {
	c := o.matching(msg)
	if c == nil {
		return
	}
	if c.Direction != Outgoing || c.State != StateCalling || !o.sessReady {
		o.log.Debug("unexpected answer", "call_id", c.ID, "state", c.State)
		return
	}

	var p signaling.SDPPayload
	if err := msg.DecodeData(&p); err != nil || p.SDP == "" {
		o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonFailed)
		o.fail(fmt.Errorf("%w: malformed answer", ErrNegotiation))
		return
	}

	o.machine.RemoteAnswer()
	if err := o.sess.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		o.sendHangUp(c.ID, c.RemoteParticipantID, ReasonFailed)
		o.fail(err)
	}
}

func (o *Orchestrator) handleCandidate(msg *signaling.Message) {
	c := o.matching(msg)
	if c == nil {
		return
	}

	var p signaling.CandidatePayload
	if err := msg.DecodeData(&p); err != nil || p.Candidate == "" {
		o.log.Debug("dropping malformed candidate", "call_id", c.ID, "error", err)
		return
	}
	cand := webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	}

	if o.sess == nil || !o.sessReady {
		if len(o.early) >= maxEarlyCandidates {
			o.log.Debug("dropping early candidate", "call_id", c.ID, "buffered", len(o.early))
			return
		}
		o.early = append(o.early, cand)
		return
	}
	if err := o.sess.AddRemoteCandidate(cand); err != nil {
		o.log.Warn("remote candidate rejected", "call_id", c.ID, "error", err)
	}
}

func (o *Orchestrator) handleHangUp(msg *signaling.Message) {
	c := o.matching(msg)
	if c == nil {
		return
	}

	var p signaling.HangUpPayload
	if err := msg.DecodeData(&p); err != nil {
		o.log.Debug("malformed hang-up payload", "call_id", c.ID, "error", err)
	}
	reason := ParseReason(p.Reason)

	o.log.Info("remote hung up", "call_id", c.ID, "peer", msg.From, "reason", reason)
	o.machine.HangUp(reason)
	o.finish()
}

func (o *Orchestrator) handleReject(msg *signaling.Message) {
	c := o.matching(msg)
	if c == nil || c.State != StateCalling {
		return
	}
	o.machine.RemoteReject()
	o.finish()
}

func (o *Orchestrator) handleBusy(msg *signaling.Message) {
	c := o.matching(msg)
	if c == nil || c.State != StateCalling {
		return
	}
	o.machine.Busy()
	o.finish()
}

// flushEarly hands candidates that beat the session to it, in arrival order.
func (o *Orchestrator) flushEarly() {
	early := o.early
	o.early = nil
	for _, cand := range early {
		if err := o.sess.AddRemoteCandidate(cand); err != nil {
			o.log.Warn("early candidate rejected", "error", err)
		}
	}
}

func (o *Orchestrator) sendCandidate(id, remote string, c webrtc.ICECandidateInit) {
	msg, err := signaling.NewMessage(signaling.TypeICECandidate, o.opts.LocalID, remote, id,
		signaling.CandidatePayload{
			Candidate:        c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		})
	if err == nil {
		err = o.send(msg)
	}
	if err != nil {
		o.log.Debug("candidate not delivered", "call_id", id, "error", err)
	}
}

func (o *Orchestrator) sendHangUp(id, remote string, reason EndReason) {
	msg, err := signaling.NewMessage(signaling.TypeHangUp, o.opts.LocalID, remote, id,
		signaling.HangUpPayload{Reason: string(reason)})
	if err == nil {
		err = o.send(msg)
	}
	if err != nil {
		o.log.Warn("hang-up not delivered", "call_id", id, "error", err)
	}
}

// send transmits msg, holding it for the next open when the link is
// reconnecting.
func (o *Orchestrator) send(msg *signaling.Message) error {
	err := o.sig.Send(msg)
	if err == nil {
		return nil
	}
	if !errors.Is(err, signaling.ErrSignalDelivery) || o.sig.State().Status != signaling.StatusReconnecting {
		return err
	}
	if len(o.outbox) >= maxOutbox {
		o.outbox = o.outbox[1:]
	}
	o.outbox = append(o.outbox, msg)
	o.log.Debug("queued message until reconnect", "type", msg.Type, "call_id", msg.CallID)
	return nil
}

func (o *Orchestrator) flushOutbox() {
	pending := o.outbox
	o.outbox = nil
	for i, msg := range pending {
		if err := o.sig.Send(msg); err != nil {
			o.outbox = append(o.outbox, pending[i:]...)
			o.log.Warn("outbox flush interrupted", "remaining", len(o.outbox), "error", err)
			return
		}
	}
	if len(pending) > 0 {
		o.log.Debug("flushed queued messages", "count", len(pending))
	}
}

// pruneOutbox drops queued negotiation traffic of an ended call but keeps
// its hang-up or reject so the peer still learns the outcome.
func (o *Orchestrator) pruneOutbox(callID string) {
	kept := o.outbox[:0]
	for _, msg := range o.outbox {
		if msg.CallID != callID || msg.Type == signaling.TypeHangUp || msg.Type == signaling.TypeReject {
			kept = append(kept, msg)
		}
	}
	o.outbox = kept
}
