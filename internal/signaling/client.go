package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/dns"
	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	dialTimeout    = 15 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	// ErrSignalDelivery is returned by Send when the transport is not open.
	ErrSignalDelivery = errors.New("signal delivery failed")
	// ErrSignalConnectionLost wraps transport failures and the final
	// signalFailed error.
	ErrSignalConnectionLost = errors.New("signaling connection lost")
	ErrClientClosed         = errors.New("signaling client closed")
)

// Options configures a Client. Zero durations fall back to defaults.
type Options struct {
	URL           string
	ParticipantID string
	Token         string

	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// Dialer defaults to a websocket dialer resolving through internal/dns.
	Dialer *websocket.Dialer
	// After is the reconnect sleep; tests swap it for an instant timer.
	After  func(time.Duration) <-chan time.Time
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			NetDialContext:   dns.DialContext,
			HandshakeTimeout: dialTimeout,
		}
	}
	if o.After == nil {
		o.After = time.After
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Client is a persistent, self-reconnecting websocket link to the relay.
// It is safe for concurrent use.
type Client struct {
	opts Options
	log  *slog.Logger
	bus  event.Bus[EventType, Event]

	mu      sync.Mutex
	conn    *conn
	state   ConnectionState
	stopped bool
	failed  bool
	stop    chan struct{}
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() { close(c.done) })
}

// NewClient creates a new signaling client
func NewClient(opts Options) *Client {
	opts.setDefaults()
	return &Client{
		opts:  opts,
		log:   opts.Logger.With("component", "signaling", "participant", opts.ParticipantID),
		state: ConnectionState{Status: StatusClosed},
		stop:  make(chan struct{}),
	}
}

// On subscribes fn to events of type t.
func (c *Client) On(t EventType, fn func(Event)) event.HandlerID {
	return c.bus.On(t, fn)
}

func (c *Client) Off(t EventType, id event.HandlerID) {
	c.bus.Off(t, id)
}

func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the relay. Once connected, unexpected closes are retried
// with exponential backoff until Disconnect or until the attempt budget
// runs out.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.state.Status != StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = ConnectionState{Status: StatusConnecting}
	st := c.state
	c.mu.Unlock()
	c.emit(Event{Type: EventState, State: st})

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = ConnectionState{Status: StatusClosed, LastError: err}
		st = c.state
		c.mu.Unlock()

		c.emit(Event{Type: EventError, Err: err, State: st})
		c.emit(Event{Type: EventState, State: st})
		return err
	}
	return nil
}

// Send transmits msg. It fails with ErrSignalDelivery unless the
// connection is open; nothing is queued for later.
func (c *Client) Send(msg *Message) error {
	if msg.From == "" {
		m := *msg
		m.From = c.opts.ParticipantID
		msg = &m
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignalDelivery, err)
	}

	c.mu.Lock()
	cn := c.conn
	st := c.state
	c.mu.Unlock()

	if cn == nil || st.Status != StatusOpen {
		err := fmt.Errorf("%w: connection is %s", ErrSignalDelivery, st.Status)
		c.emit(Event{Type: EventError, Err: err, State: st})
		return err
	}

	select {
	case cn.send <- data:
		return nil
	case <-cn.done:
	default:
	}
	err = fmt.Errorf("%w: connection is closing", ErrSignalDelivery)
	c.emit(Event{Type: EventError, Err: err, State: st})
	return err
}

// Disconnect closes the transport and stops reconnecting. Idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stop)
	cn := c.conn
	c.conn = nil
	prev := c.state.Status
	c.state = ConnectionState{Status: StatusClosed}
	st := c.state
	c.mu.Unlock()

	if cn != nil {
		cn.close()
	}
	if prev != StatusClosed {
		c.emit(Event{Type: EventClose, State: st})
		c.emit(Event{Type: EventState, State: st})
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("id", c.opts.ParticipantID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) dial(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, resp, err := c.opts.Dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	cn := &conn{
		ws:   ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		ws.Close()
		return ErrClientClosed
	}
	c.conn = cn
	c.failed = false
	c.state = ConnectionState{Status: StatusOpen}
	st := c.state
	c.mu.Unlock()

	c.log.Info("signaling connected", "url", c.opts.URL)
	c.emit(Event{Type: EventOpen, State: st})
	c.emit(Event{Type: EventState, State: st})

	go c.readPump(cn)
	go c.writePump(cn)
	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(cn *conn) {
	var err error
	defer func() {
		cn.ws.Close()
		c.handleClose(cn, err)
	}()

	readWait := 2 * c.opts.HeartbeatInterval
	cn.ws.SetReadDeadline(time.Now().Add(readWait))

	for {
		var data []byte
		if _, data, err = cn.ws.ReadMessage(); err != nil {
			return
		}
		cn.ws.SetReadDeadline(time.Now().Add(readWait))

		var msg Message
		if jerr := json.Unmarshal(data, &msg); jerr != nil {
			c.log.Warn("dropping malformed signaling message", "error", jerr)
			c.emit(Event{Type: EventError, Err: fmt.Errorf("malformed signaling message: %w", jerr)})
			continue
		}

		switch msg.Type {
		case TypePing:
			c.pong(cn)
			continue
		case TypePong:
			continue
		}

		if verr := msg.Validate(); verr != nil {
			c.log.Warn("dropping invalid signaling message", "type", msg.Type, "error", verr)
			c.emit(Event{Type: EventError, Err: verr})
			continue
		}
		c.emit(Event{Type: EventMessage, Message: &msg})
	}
}

// writePump writes queued messages and sends the application heartbeat.
func (c *Client) writePump(cn *conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		cn.ws.Close()
	}()

	ping, _ := json.Marshal(Message{Type: TypePing, From: c.opts.ParticipantID})

	for {
		select {
		case data := <-cn.send:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("signaling write failed", "error", err)
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, ping); err != nil {
				c.log.Debug("heartbeat write failed", "error", err)
				return
			}

		case <-cn.done:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			cn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Client) pong(cn *conn) {
	data, _ := json.Marshal(Message{Type: TypePong, From: c.opts.ParticipantID})
	select {
	case cn.send <- data:
	default:
	}
}

func (c *Client) handleClose(cn *conn, err error) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cn.close()
	c.state = ConnectionState{Status: StatusReconnecting, LastError: err}
	st := c.state
	c.mu.Unlock()

	c.log.Warn("signaling connection closed", "error", err)
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrSignalConnectionLost, err), State: st})
	}
	c.emit(Event{Type: EventClose, State: st, Err: err})
	go c.reconnect()
}

func (c *Client) reconnect() {
	for attempt := 1; ; attempt++ {
		if attempt > c.opts.MaxReconnectAttempts {
			c.giveUp()
			return
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.state.Status = StatusReconnecting
		c.state.ReconnectAttempt = attempt
		st := c.state
		c.mu.Unlock()
		c.emit(Event{Type: EventState, State: st})

		delay := Backoff(c.opts.ReconnectBaseDelay, c.opts.ReconnectMaxDelay, attempt)
		c.log.Info("reconnecting to signaling server", "attempt", attempt, "delay", delay)
		select {
		case <-c.opts.After(delay):
		case <-c.stop:
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := c.dial(ctx)
		cancel()
		if err == nil || errors.Is(err, ErrClientClosed) {
			return
		}

		c.mu.Lock()
		c.state.LastError = err
		st = c.state
		c.mu.Unlock()
		c.emit(Event{Type: EventError, Err: err, State: st})
	}
}

// giveUp emits signalFailed at most once per connection lifetime.
func (c *Client) giveUp() {
	c.mu.Lock()
	if c.failed || c.stopped {
		c.mu.Unlock()
		return
	}
	c.failed = true
	c.state = ConnectionState{
		Status:           StatusClosed,
		ReconnectAttempt: c.opts.MaxReconnectAttempts,
		LastError:        c.state.LastError,
	}
	st := c.state
	c.mu.Unlock()

	err := fmt.Errorf("%w after %d attempts: %v", ErrSignalConnectionLost, c.opts.MaxReconnectAttempts, st.LastError)
	c.log.Error("signaling reconnect failed", "attempts", c.opts.MaxReconnectAttempts, "error", st.LastError)
	c.emit(Event{Type: EventSignalFailed, State: st, Err: err})
	c.emit(Event{Type: EventState, State: st})
}

func (c *Client) emit(ev Event) {
	c.bus.Emit(ev.Type, ev)
}
