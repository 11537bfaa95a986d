package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/BioHazard786/Warpcall/internal/session"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/utils"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const maxChatLines = 8

// Controller is the call surface the view drives. *call.Orchestrator
// implements it.
type Controller interface {
	On(t call.EventType, fn func(call.Event)) event.HandlerID
	Off(t call.EventType, id event.HandlerID)
	Current() (call.Call, bool)
	AcceptCall(ctx context.Context) (call.Call, error)
	RejectCall(ctx context.Context) error
	EndCall(ctx context.Context, reason call.EndReason) error
	ToggleMute() error
	ToggleVideo() error
	ToggleSpeaker() error
	SwitchCamera(ctx context.Context) error
	ShareScreen(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	SendText(ctx context.Context, text string) error
}

type CallViewOptions struct {
	LocalID     string
	RingTimeout time.Duration
	// Listen keeps the view open between calls instead of quitting when
	// the first call ends.
	Listen bool
	// Dial, when set, places an outgoing call once the view is subscribed.
	Dial func(ctx context.Context) error
}

// eventMsg carries an orchestrator event into the bubbletea loop.
type eventMsg call.Event

// actionMsg reports the result of a key-triggered operation.
type actionMsg struct {
	op  string
	err error
}

type clockMsg time.Time

type chatLine struct {
	from string
	text string
	self bool
}

type callModel struct {
	ctx  context.Context
	ctrl Controller
	opts CallViewOptions

	call    *call.Call
	ended   *call.Call
	peer    session.ConnectionState
	signal  signaling.ConnectionState
	chat    []chatLine
	status  string
	now     time.Time
	typing  bool
	closing bool

	input   textinput.Model
	spinner spinner.Model
	ring    progress.Model
}

func newCallModel(ctx context.Context, ctrl Controller, opts CallViewOptions) *callModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "message"
	in.CharLimit = 500
	in.Prompt = IconChat + " "

	m := &callModel{
		ctx:     ctx,
		ctrl:    ctrl,
		opts:    opts,
		now:     time.Now(),
		input:   in,
		spinner: s,
		ring: progress.New(
			progress.WithGradient(RingStart, RingEnd),
			progress.WithWidth(30),
			progress.WithoutPercentage(),
		),
	}
	if c, ok := ctrl.Current(); ok {
		m.call = &c
	}
	return m
}

func clockTick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m *callModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, clockTick()}
	if m.opts.Dial != nil {
		cmds = append(cmds, m.do("call", func() error { return m.opts.Dial(m.ctx) }))
	}
	return tea.Batch(cmds...)
}

// do runs fn off the UI goroutine and reports its error.
func (m *callModel) do(op string, fn func() error) tea.Cmd {
	return func() tea.Msg { return actionMsg{op: op, err: fn()} }
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		return m, m.handleEvent(call.Event(msg))

	case actionMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s: %s", msg.op, call.UserMessage(msg.err))
			if msg.op == "call" && m.call == nil && !m.opts.Listen {
				return m, tea.Quit
			}
		}
		return m, nil

	case clockMsg:
		m.now = time.Time(msg)
		return m, clockTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.ring.Width = max(10, min(30, msg.Width-30))
		m.input.Width = max(10, msg.Width-8)
	}
	return m, nil
}

func (m *callModel) handleEvent(ev call.Event) tea.Cmd {
	switch ev.Type {
	case call.EventIncomingCall, call.EventOutgoingCall, call.EventCallStateChanged, call.EventCallUpdated:
		if ev.Call.State.Active() {
			c := ev.Call
			m.call = &c
		}
		if ev.Type == call.EventIncomingCall {
			m.status = ""
			m.chat = nil
		}

	case call.EventCallEnded:
		c := ev.Call
		m.call, m.ended = nil, &c
		m.typing = false
		m.input.Blur()
		m.status = endedStatus(c)
		if !m.opts.Listen || m.closing {
			return tea.Quit
		}

	case call.EventPeerConnectionChanged:
		m.peer = ev.PeerState

	case call.EventSignalConnectionChanged:
		m.signal = ev.SignalState

	case call.EventDataMessage:
		m.addChat(chatLine{from: ev.Chat.From, text: ev.Chat.Text})
	}
	return nil
}

func (m *callModel) addChat(l chatLine) {
	m.chat = append(m.chat, l)
	if len(m.chat) > maxChatLines {
		m.chat = m.chat[len(m.chat)-maxChatLines:]
	}
}

func (m *callModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}

	if m.typing {
		switch msg.String() {
		case "esc":
			m.typing = false
			m.input.Blur()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			m.addChat(chatLine{from: m.opts.LocalID, text: text, self: true})
			return m, m.do("send", func() error { return m.ctrl.SendText(m.ctx, text) })
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	c := m.call
	ringing := c != nil && c.Direction == call.Incoming && c.State == call.StateRinging

	switch msg.String() {
	case "q":
		return m.quit()
	case "a":
		if ringing {
			m.status = ""
			return m, m.do("accept", func() error {
				_, err := m.ctrl.AcceptCall(m.ctx)
				return err
			})
		}
	case "r":
		if ringing {
			return m, m.do("reject", func() error { return m.ctrl.RejectCall(m.ctx) })
		}
	}

	if c == nil || ringing {
		return m, nil
	}

	switch msg.String() {
	case "m":
		return m, m.do("mute", m.ctrl.ToggleMute)
	case "v":
		return m, m.do("video", m.ctrl.ToggleVideo)
	case "o":
		return m, m.do("speaker", m.ctrl.ToggleSpeaker)
	case "c":
		return m, m.do("camera", func() error { return m.ctrl.SwitchCamera(m.ctx) })
	case "s":
		if c.Flags.ScreenSharing {
			return m, m.do("screen share", func() error { return m.ctrl.StopScreenShare(m.ctx) })
		}
		return m, m.do("screen share", func() error { return m.ctrl.ShareScreen(m.ctx) })
	case "t", "tab":
		if c.State == call.StateConnected {
			m.typing = true
			return m, m.input.Focus()
		}
	case "h":
		return m, m.do("hang up", func() error { return m.ctrl.EndCall(m.ctx, call.ReasonEnded) })
	}
	return m, nil
}

// quit hangs up a live call first and leaves once it has ended.
func (m *callModel) quit() (tea.Model, tea.Cmd) {
	if m.call == nil {
		return m, tea.Quit
	}
	m.closing = true
	return m, m.do("hang up", func() error { return m.ctrl.EndCall(m.ctx, call.ReasonEnded) })
}

func (m *callModel) View() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Warpcall · %s", IconCall, m.opts.LocalID)))
	b.WriteString("\n")

	if m.signal.Status == signaling.StatusReconnecting {
		b.WriteString(WarningStyle.Render(fmt.Sprintf("%s Reconnecting to relay (attempt %d)", IconReconnect, m.signal.ReconnectAttempt)))
		b.WriteString("\n\n")
	}

	c := m.call
	switch {
	case c == nil && m.opts.Listen:
		b.WriteString(fmt.Sprintf("%s Waiting for calls\n", m.spinner.View()))

	case c == nil:
		b.WriteString(MutedStyle.Render("No active call") + "\n")

	case c.State == call.StateCalling:
		b.WriteString(fmt.Sprintf("%s Calling %s (%s)\n", m.spinner.View(), PeerStyle.Render(c.RemoteParticipantID), c.Kind))
		b.WriteString(m.ringBar(c) + "\n")

	case c.State == call.StateRinging:
		b.WriteString(fmt.Sprintf("%s Incoming %s call from %s\n", IconIncoming, c.Kind, PeerStyle.Render(c.RemoteParticipantID)))
		b.WriteString(m.ringBar(c) + "\n")

	case c.State == call.StateConnecting:
		b.WriteString(fmt.Sprintf("%s Connecting to %s\n", m.spinner.View(), PeerStyle.Render(c.RemoteParticipantID)))

	case c.State == call.StateConnected:
		elapsed := time.Duration(0)
		if c.ConnectedAt != nil {
			elapsed = m.now.Sub(*c.ConnectedAt)
		}
		b.WriteString(fmt.Sprintf("%s In call with %s  %s\n",
			IconCall, PeerStyle.Render(c.RemoteParticipantID), BoldStyle.Render(utils.FormatCallDuration(elapsed))))
		if m.peer == session.StateDisconnected {
			b.WriteString(WarningStyle.Render(IconWarning+" Connection interrupted, recovering") + "\n")
		}
	}

	if c != nil && c.State != call.StateRinging {
		b.WriteString("\n" + flagsView(c.Flags) + "\n")
	}

	if len(m.chat) > 0 {
		b.WriteString("\n")
		for _, l := range m.chat {
			style := ChatFromStyle
			if l.self {
				style = ChatSelfStyle
			}
			b.WriteString(fmt.Sprintf("%s %s\n", style.Render(l.from+":"), l.text))
		}
	}
	if m.typing {
		b.WriteString("\n" + m.input.View() + "\n")
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}

	b.WriteString(FooterStyle.Render(m.help()))
	return b.String()
}

func (m *callModel) ringBar(c *call.Call) string {
	if m.opts.RingTimeout <= 0 {
		return ""
	}
	elapsed := m.now.Sub(c.CreatedAt)
	remaining := max(m.opts.RingTimeout-elapsed, 0)
	percent := float64(remaining) / float64(m.opts.RingTimeout)
	return fmt.Sprintf("%s %s", m.ring.ViewAs(percent), RingLabelStyle.Render(fmt.Sprintf("%ds", int(remaining.Seconds()))))
}

func flagsView(f call.Flags) string {
	toggle := func(on bool, onText, offText string) string {
		if on {
			return ToggleOnStyle.Render(onText)
		}
		return ToggleOffStyle.Render(offText)
	}
	return strings.Join([]string{
		toggle(!f.Muted, IconMic+" mic", IconMuted+" muted"),
		toggle(f.VideoEnabled, IconVideo+" video", IconVideoOff+" video off"),
		toggle(f.ScreenSharing, IconScreen+" sharing", IconScreen+" not sharing"),
		toggle(f.SpeakerOn, IconSpeaker+" speaker", IconSpeaker+" earpiece"),
	}, " ")
}

func (m *callModel) help() string {
	key := func(k, label string) string { return KeyStyle.Render(k) + " " + label }
	c := m.call
	switch {
	case m.typing:
		return strings.Join([]string{key("enter", "send"), key("esc", "done")}, "  ")
	case c == nil:
		return key("q", "quit")
	case c.Direction == call.Incoming && c.State == call.StateRinging:
		return strings.Join([]string{key("a", "accept"), key("r", "reject"), key("q", "quit")}, "  ")
	default:
		keys := []string{key("m", "mute"), key("v", "video"), key("c", "camera"), key("s", "share"), key("o", "speaker")}
		if c.State == call.StateConnected {
			keys = append(keys, key("t", "chat"))
		}
		return strings.Join(append(keys, key("h", "hang up"), key("q", "quit")), "  ")
	}
}

func endedStatus(c call.Call) string {
	switch {
	case c.State == call.StateFailed:
		msg := "Call failed"
		if c.Err != nil {
			msg += ": " + call.UserMessage(c.Err)
		}
		return ErrorStyle.Render(IconError + " " + msg)
	case c.EndReason == call.ReasonBusy:
		return WarningStyle.Render(IconWarning + " " + call.UserMessage(call.ErrRemoteBusy))
	case c.EndReason == call.ReasonMissed, c.Direction == call.Incoming && c.ConnectedAt == nil && c.EndReason != call.ReasonRejected:
		return WarningStyle.Render(fmt.Sprintf("%s Missed call from %s", IconMissed, c.RemoteParticipantID))
	case c.EndReason == call.ReasonRejected:
		return WarningStyle.Render(fmt.Sprintf("%s Call with %s declined", IconHangUp, c.RemoteParticipantID))
	case c.EndReason == call.ReasonUnanswered:
		return WarningStyle.Render(fmt.Sprintf("%s %s did not answer", IconHangUp, c.RemoteParticipantID))
	case c.EndReason == call.ReasonUnavailable:
		return WarningStyle.Render(fmt.Sprintf("%s %s is not online", IconWarning, c.RemoteParticipantID))
	default:
		return MutedStyle.Render(fmt.Sprintf("%s Call ended after %s", IconHangUp, utils.FormatCallDuration(c.Duration())))
	}
}

// CallView runs the interactive call screen.
type CallView struct {
	ctrl  Controller
	model *callModel
	opts  []tea.ProgramOption

	mu   sync.Mutex
	subs map[call.EventType]event.HandlerID
}

func NewCallView(ctx context.Context, ctrl Controller, opts CallViewOptions, programOpts ...tea.ProgramOption) *CallView {
	return &CallView{
		ctrl:  ctrl,
		model: newCallModel(ctx, ctrl, opts),
		opts:  programOpts,
	}
}

var viewEvents = []call.EventType{
	call.EventIncomingCall, call.EventOutgoingCall, call.EventCallStateChanged,
	call.EventCallUpdated, call.EventCallEnded, call.EventPeerConnectionChanged,
	call.EventSignalConnectionChanged, call.EventDataMessage,
}

// Run blocks until the user quits, returning the last call that ended
// while the view was open.
func (v *CallView) Run() (*call.Call, error) {
	program := tea.NewProgram(v.model, v.opts...)

	v.mu.Lock()
	v.subs = make(map[call.EventType]event.HandlerID, len(viewEvents))
	for _, t := range viewEvents {
		v.subs[t] = v.ctrl.On(t, func(ev call.Event) { program.Send(eventMsg(ev)) })
	}
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		for t, id := range v.subs {
			v.ctrl.Off(t, id)
		}
		v.mu.Unlock()
	}()

	if _, err := program.Run(); err != nil {
		return v.model.ended, fmt.Errorf("call view: %w", err)
	}
	return v.model.ended, nil
}
