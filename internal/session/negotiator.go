// Package session owns one call's peer connection: local capture, SDP
// exchange, trickle ICE and in-call media controls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrMediaAcquisition = errors.New("media acquisition failed")
	ErrNegotiation      = errors.New("session negotiation failed")
	ErrNotInitialized   = errors.New("session not initialized")
	ErrSessionEnded     = errors.New("session ended")
	ErrChannelNotOpen   = errors.New("data channel not open")
	ErrNoCamera         = errors.New("no camera track")
)

const (
	DefaultDataChannelLabel = "chat"

	defaultDisconnectedTimeout = 10 * time.Second
	defaultFailedTimeout       = 30 * time.Second
	defaultKeepAlive           = 2 * time.Second
)

// ConnectionState is the peer transport state surfaced to the call machine.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

func connectionState(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	case webrtc.PeerConnectionStateClosed:
		return StateClosed
	default:
		return StateConnecting
	}
}

// Hooks are called from pion goroutines. Nil hooks are skipped.
type Hooks struct {
	OnLocalStream      func(*media.Stream)
	OnRemoteStream     func(*media.RemoteStream)
	OnICECandidate     func(webrtc.ICECandidateInit)
	OnConnectionState  func(ConnectionState)
	OnDataMessage      func(Chat)
	OnScreenShareEnded func()
}

type Config struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy

	// LocalID is stamped on outgoing chat messages.
	LocalID          string
	DataChannelLabel string

	// ICE timeouts. Once disconnected for FailedTimeout the connection
	// reports failed.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// IncludeLoopback gathers loopback candidates; used by tests.
	IncludeLoopback bool

	LoggerFactory logging.LoggerFactory
	Logger        *slog.Logger
	Sink          media.Sink
}

// Negotiator is one call's peer connection. It is safe for concurrent use.
type Negotiator struct {
	cfg     Config
	devices media.Devices
	hooks   Hooks
	log     *slog.Logger

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	local        *media.Stream
	audioSender  *webrtc.RTPSender
	videoSender  *webrtc.RTPSender
	audioTrack   media.Track
	cameraTrack  media.Track
	screenTrack  media.Track
	mutedAudio   webrtc.TrackLocal
	mutedVideo   webrtc.TrackLocal
	facing       media.Facing
	audioEnabled bool
	videoEnabled bool
	remoteSet    bool
	pending      []webrtc.ICECandidateInit
	remote       *media.RemoteStream
	lastState    ConnectionState
	ended        bool
}

func New(devices media.Devices, cfg Config, hooks Hooks) *Negotiator {
	if cfg.DataChannelLabel == "" {
		cfg.DataChannelLabel = DefaultDataChannelLabel
	}
	if cfg.DisconnectedTimeout <= 0 {
		cfg.DisconnectedTimeout = defaultDisconnectedTimeout
	}
	if cfg.FailedTimeout <= 0 {
		cfg.FailedTimeout = defaultFailedTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAlive
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Negotiator{
		cfg:     cfg,
		devices: devices,
		hooks:   hooks,
		log:     cfg.Logger.With("component", "session"),
	}
}

// Initialize acquires local media and builds the peer connection. A video
// transceiver is always added so screen sharing never needs renegotiation.
func (n *Negotiator) Initialize(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	n.mu.Lock()
	switch {
	case n.ended:
		n.mu.Unlock()
		return nil, ErrSessionEnded
	case n.pc != nil:
		local := n.local
		n.mu.Unlock()
		return local, nil
	}
	n.mu.Unlock()

	if c.Facing == "" {
		c.Facing = media.FacingUser
	}
	stream, err := n.devices.UserMedia(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
	}

	pc, err := n.newPeerConnection()
	if err != nil {
		stream.Stop()
		return nil, fmt.Errorf("create peer connection: %w: %w", ErrNegotiation, err)
	}

	if err := n.attach(pc, stream); err != nil {
		pc.Close()
		stream.Stop()
		return nil, fmt.Errorf("attach tracks: %w: %w", ErrNegotiation, err)
	}

	negotiated, id, ordered := true, uint16(0), true
	dc, err := pc.CreateDataChannel(n.cfg.DataChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		pc.Close()
		stream.Stop()
		return nil, fmt.Errorf("create data channel: %w: %w", ErrNegotiation, err)
	}
	dc.OnMessage(n.onDataMessage)

	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		dc.Close()
		pc.Close()
		stream.Stop()
		return nil, ErrSessionEnded
	}
	n.pc = pc
	n.dc = dc
	n.local = stream
	n.facing = c.Facing
	n.audioTrack = stream.AudioTrack()
	n.cameraTrack = stream.VideoTrack()
	n.audioEnabled = n.audioTrack != nil
	n.videoEnabled = n.cameraTrack != nil
	n.mu.Unlock()

	pc.OnICECandidate(n.onICECandidate)
	pc.OnConnectionStateChange(n.onConnectionState)
	pc.OnTrack(n.onTrack)

	n.log.Debug("session initialized", "audio", c.Audio, "video", c.Video, "tracks", len(stream.Tracks))
	if n.hooks.OnLocalStream != nil {
		n.hooks.OnLocalStream(stream)
	}
	return stream, nil
}

func (n *Negotiator) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := n.devices.RegisterCodecs(m); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(n.cfg.DisconnectedTimeout, n.cfg.FailedTimeout, n.cfg.KeepAliveInterval)
	if n.cfg.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	if n.cfg.LoggerFactory != nil {
		se.LoggerFactory = n.cfg.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	)

	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         n.cfg.ICEServers,
		ICETransportPolicy: n.cfg.ICETransportPolicy,
	})
}

// attach adds one sendrecv transceiver per kind. Kinds without a capture
// track get a silent placeholder so the sender is bound at negotiation and
// later ReplaceTrack calls carry media.
func (n *Negotiator) attach(pc *webrtc.PeerConnection, stream *media.Stream) error {
	mutedAudio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "muted-audio", stream.ID)
	if err != nil {
		return err
	}
	mutedVideo, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "muted-video", stream.ID)
	if err != nil {
		return err
	}

	init := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv}

	var audio webrtc.TrackLocal = mutedAudio
	if t := stream.AudioTrack(); t != nil {
		audio = t
	}
	at, err := pc.AddTransceiverFromTrack(audio, init)
	if err != nil {
		return err
	}

	var video webrtc.TrackLocal = mutedVideo
	if t := stream.VideoTrack(); t != nil {
		video = t
	}
	vt, err := pc.AddTransceiverFromTrack(video, init)
	if err != nil {
		return err
	}

	for _, s := range []*webrtc.RTPSender{at.Sender(), vt.Sender()} {
		go drainRTCP(s, n.log)
	}

	n.mu.Lock()
	n.audioSender = at.Sender()
	n.videoSender = vt.Sender()
	n.mutedAudio = mutedAudio
	n.mutedVideo = mutedVideo
	n.mu.Unlock()
	return nil
}

// drainRTCP reads sender RTCP so interceptors keep running.
func drainRTCP(s *webrtc.RTPSender, log *slog.Logger) {
	for {
		pkts, _, err := s.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				log.Debug("remote requested keyframe")
			}
		}
	}
}

func (n *Negotiator) peer() (*webrtc.PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ended {
		return nil, ErrSessionEnded
	}
	if n.pc == nil {
		return nil, ErrNotInitialized
	}
	return n.pc, nil
}

func (n *Negotiator) CreateOffer() (webrtc.SessionDescription, error) {
	pc, err := n.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w: %w", ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w: %w", ErrNegotiation, err)
	}
	return *pc.LocalDescription(), nil
}

func (n *Negotiator) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := n.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	pc, err := n.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w: %w", ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w: %w", ErrNegotiation, err)
	}
	return *pc.LocalDescription(), nil
}

// SetRemoteDescription applies desc and then flushes queued candidates in
// arrival order.
func (n *Negotiator) SetRemoteDescription(desc webrtc.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ended {
		return ErrSessionEnded
	}
	if n.pc == nil {
		return ErrNotInitialized
	}
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w: %w", ErrNegotiation, err)
	}

	n.remoteSet = true
	pending := n.pending
	n.pending = nil
	for _, c := range pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.log.Warn("dropping queued ice candidate", "error", err)
		}
	}
	if len(pending) > 0 {
		n.log.Debug("flushed queued ice candidates", "count", len(pending))
	}
	return nil
}

// AddRemoteCandidate applies c, or queues it until a remote description
// exists.
func (n *Negotiator) AddRemoteCandidate(c webrtc.ICECandidateInit) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ended {
		return ErrSessionEnded
	}
	if n.pc == nil || !n.remoteSet {
		n.pending = append(n.pending, c)
		return nil
	}
	if err := n.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("add ice candidate: %w: %w", ErrNegotiation, err)
	}
	return nil
}

func (n *Negotiator) ToggleAudio(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ended {
		return ErrSessionEnded
	}
	if n.audioSender == nil {
		return ErrNotInitialized
	}
	if n.audioTrack == nil {
		return fmt.Errorf("%w: no microphone track", ErrMediaAcquisition)
	}

	next := n.mutedAudio
	if enabled {
		next = n.audioTrack
	}
	if err := n.audioSender.ReplaceTrack(next); err != nil {
		return fmt.Errorf("replace audio track: %w", err)
	}
	n.audioEnabled = enabled
	return nil
}

func (n *Negotiator) ToggleVideo(enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ended {
		return ErrSessionEnded
	}
	if n.videoSender == nil {
		return ErrNotInitialized
	}
	if n.cameraTrack == nil {
		return ErrNoCamera
	}

	n.videoEnabled = enabled
	if n.screenTrack != nil {
		return nil
	}
	return n.replaceVideoLocked(n.outgoingCameraLocked())
}

func (n *Negotiator) outgoingCameraLocked() webrtc.TrackLocal {
	if n.videoEnabled && n.cameraTrack != nil {
		return n.cameraTrack
	}
	return n.mutedVideo
}

func (n *Negotiator) replaceVideoLocked(t webrtc.TrackLocal) error {
	if err := n.videoSender.ReplaceTrack(t); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	return nil
}

// SwitchCamera captures the opposite-facing camera and swaps it in without
// renegotiation.
func (n *Negotiator) SwitchCamera(ctx context.Context) error {
	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		return ErrSessionEnded
	}
	if n.cameraTrack == nil {
		n.mu.Unlock()
		return ErrNoCamera
	}
	facing := n.facing.Opposite()
	n.mu.Unlock()

	stream, err := n.devices.UserMedia(ctx, media.Constraints{Video: true, Facing: facing})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
	}
	next := stream.VideoTrack()
	if next == nil {
		stream.Stop()
		return fmt.Errorf("%w: capture returned no video", ErrMediaAcquisition)
	}

	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		stream.Stop()
		return ErrSessionEnded
	}
	prev := n.cameraTrack
	n.cameraTrack = next
	n.facing = facing
	if n.screenTrack == nil {
		if err := n.replaceVideoLocked(n.outgoingCameraLocked()); err != nil {
			n.cameraTrack = prev
			n.mu.Unlock()
			stream.Stop()
			return err
		}
	}
	n.local = n.replaceLocalTrack(prev, next)
	local := n.local
	n.mu.Unlock()

	prev.Close()
	n.log.Debug("camera switched", "facing", facing)
	if n.hooks.OnLocalStream != nil {
		n.hooks.OnLocalStream(local)
	}
	return nil
}

func (n *Negotiator) replaceLocalTrack(prev, next media.Track) *media.Stream {
	s := &media.Stream{ID: n.local.ID}
	for _, t := range n.local.Tracks {
		if t == prev {
			t = next
		}
		s.Tracks = append(s.Tracks, t)
	}
	return s
}

// ShareScreen replaces the outgoing video with a display capture. When the
// display track ends on its own the camera is restored.
func (n *Negotiator) ShareScreen(ctx context.Context) error {
	if _, err := n.peer(); err != nil {
		return err
	}

	track, err := n.devices.DisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMediaAcquisition, err)
	}

	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		track.Close()
		return ErrSessionEnded
	}
	if n.screenTrack != nil {
		n.mu.Unlock()
		track.Close()
		return nil
	}
	if err := n.replaceVideoLocked(track); err != nil {
		n.mu.Unlock()
		track.Close()
		return err
	}
	n.screenTrack = track
	n.mu.Unlock()

	track.OnEnded(func(error) { n.screenEnded(track) })
	n.log.Debug("screen share started")
	return nil
}

func (n *Negotiator) StopScreenShare() error {
	n.mu.Lock()
	track := n.screenTrack
	if track == nil || n.ended {
		n.mu.Unlock()
		return nil
	}
	n.screenTrack = nil
	err := n.replaceVideoLocked(n.outgoingCameraLocked())
	n.mu.Unlock()

	track.Close()
	n.log.Debug("screen share stopped")
	return err
}

func (n *Negotiator) screenEnded(track media.Track) {
	n.mu.Lock()
	if n.screenTrack != track || n.ended {
		n.mu.Unlock()
		return
	}
	n.screenTrack = nil
	if err := n.replaceVideoLocked(n.outgoingCameraLocked()); err != nil {
		n.log.Warn("failed to restore camera after screen share", "error", err)
	}
	n.mu.Unlock()

	n.log.Info("screen share ended by source")
	if n.hooks.OnScreenShareEnded != nil {
		n.hooks.OnScreenShareEnded()
	}
}

// SendText sends a chat message over the data channel.
func (n *Negotiator) SendText(text string) error {
	n.mu.Lock()
	dc := n.dc
	ended := n.ended
	n.mu.Unlock()

	if ended {
		return ErrSessionEnded
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}

	msg, err := NewMessage(MessageTypeChat, Chat{From: n.cfg.LocalID, Text: text, SentAt: time.Now()})
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}
	return dc.Send(data)
}

func (n *Negotiator) onDataMessage(raw webrtc.DataChannelMessage) {
	var msg Message
	if err := msgpack.Unmarshal(raw.Data, &msg); err != nil {
		n.log.Warn("dropping malformed data channel message", "error", err)
		return
	}

	switch msg.Type {
	case MessageTypeChat:
		var chat Chat
		if err := msg.DecodePayload(&chat); err != nil {
			n.log.Warn("dropping malformed chat payload", "error", err)
			return
		}
		if n.hooks.OnDataMessage != nil {
			n.hooks.OnDataMessage(chat)
		}
	default:
		n.log.Debug("ignoring data channel message", "type", msg.Type)
	}
}

func (n *Negotiator) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil || n.hooks.OnICECandidate == nil {
		return
	}
	n.hooks.OnICECandidate(c.ToJSON())
}

func (n *Negotiator) onConnectionState(s webrtc.PeerConnectionState) {
	state := connectionState(s)

	n.mu.Lock()
	if n.ended || state == n.lastState {
		n.mu.Unlock()
		return
	}
	n.lastState = state
	n.mu.Unlock()

	n.log.Debug("peer connection state", "state", state)
	if n.hooks.OnConnectionState != nil {
		n.hooks.OnConnectionState(state)
	}
}

func (n *Negotiator) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		return
	}
	if n.remote == nil {
		n.remote = &media.RemoteStream{ID: track.StreamID()}
	}
	n.remote.Add(track)
	remote := n.remote
	pc := n.pc
	n.mu.Unlock()

	n.log.Debug("remote track", "kind", track.Kind(), "codec", track.Codec().MimeType)
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		err := pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
		if err != nil {
			n.log.Debug("failed to request keyframe", "error", err)
		}
	}
	if n.hooks.OnRemoteStream != nil {
		n.hooks.OnRemoteStream(remote)
	}

	go n.drainRTP(track)
}

func (n *Negotiator) drainRTP(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if n.cfg.Sink != nil {
			if err := n.cfg.Sink.WriteRTP(track.Kind(), pkt); err != nil {
				n.log.Debug("sink rejected packet", "error", err)
			}
		}
	}
}

// End stops local capture and closes the data channel and peer connection.
// Idempotent.
func (n *Negotiator) End() {
	n.mu.Lock()
	if n.ended {
		n.mu.Unlock()
		return
	}
	n.ended = true
	pc, dc := n.pc, n.dc
	local, camera, screen := n.local, n.cameraTrack, n.screenTrack
	n.pending = nil
	n.mu.Unlock()

	if screen != nil {
		screen.Close()
	}
	local.Stop()
	if camera != nil && local.VideoTrack() != camera {
		camera.Close()
	}
	if dc != nil {
		dc.Close()
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			n.log.Debug("peer connection close", "error", err)
		}
	}
	n.log.Debug("session ended")
}

// Local returns the current local stream, or nil before Initialize.
func (n *Negotiator) Local() *media.Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.local
}

// Sharing reports whether a display track is being sent.
func (n *Negotiator) Sharing() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.screenTrack != nil
}
