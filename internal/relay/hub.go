package relay

import (
	"context"
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

// route records the two participants of a call. Only they may exchange
// messages under its call id.
type route struct {
	caller, callee string
}

func (r route) includes(id string) bool { return id == r.caller || id == r.callee }

func (r route) other(id string) string {
	if id == r.caller {
		return r.callee
	}
	return r.caller
}

// Hub owns every connection and route. A single goroutine running Run
// mutates that state; connections talk to it over channels.
type Hub struct {
	log *slog.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	query      chan func()
	done       chan struct{}

	clients map[string]*Client
	routes  map[string]route
	closed  map[*Client]bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:        logger.With("component", "relay"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		query:      make(chan func()),
		done:       make(chan struct{}),
		clients:    make(map[string]*Client),
		routes:     make(map[string]route),
		closed:     make(map[*Client]bool),
	}
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		for _, c := range h.clients {
			h.drop(c)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			if old, ok := h.clients[c.ID]; ok {
				h.log.Info("participant reconnected, replacing connection", "participant", c.ID)
				h.drop(old)
			}
			h.clients[c.ID] = c
			h.log.Info("participant registered", "participant", c.ID, "online", len(h.clients))

		case c := <-h.unregister:
			if h.clients[c.ID] == c {
				delete(h.clients, c.ID)
				h.log.Info("participant left", "participant", c.ID, "online", len(h.clients))
			}
			h.drop(c)
			delete(h.closed, c)
			h.pruneRoutes()

		case in := <-h.inbound:
			h.handle(in.client, in.msg)

		case fn := <-h.query:
			fn()
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

// Online reports whether id has a live connection.
func (h *Hub) Online(id string) bool {
	var ok bool
	h.do(func() { _, ok = h.clients[id] })
	return ok
}

// Routes returns the number of calls the hub is routing.
func (h *Hub) Routes() int {
	var n int
	h.do(func() { n = len(h.routes) })
	return n
}

func (h *Hub) do(fn func()) {
	done := make(chan struct{})
	select {
	case h.query <- func() { fn(); close(done) }:
		<-done
	case <-h.done:
	}
}

func (h *Hub) handle(from *Client, msg *signaling.Message) {
	if h.clients[from.ID] != from {
		return
	}
	msg.From = from.ID

	switch msg.Type {
	case signaling.TypePing:
		h.deliver(from, &signaling.Message{Type: signaling.TypePong})
		return
	case signaling.TypePong:
		return
	case signaling.TypeOffer:
		h.routeOffer(from, msg)
		return
	}

	r, ok := h.routes[msg.CallID]
	if !ok || !r.includes(from.ID) {
		h.log.Debug("dropping message outside a known call", "type", msg.Type, "call_id", msg.CallID, "from", from.ID)
		return
	}
	peer := r.other(from.ID)
	if msg.To != "" && msg.To != peer {
		h.log.Warn("dropping message addressed outside its call", "type", msg.Type, "call_id", msg.CallID, "from", from.ID, "to", msg.To)
		return
	}
	msg.To = peer

	switch msg.Type {
	case signaling.TypeHangUp, signaling.TypeReject, signaling.TypeBusy:
		delete(h.routes, msg.CallID)
	}

	target, ok := h.clients[peer]
	if !ok {
		h.log.Debug("peer offline, dropping message", "type", msg.Type, "call_id", msg.CallID, "to", peer)
		return
	}
	h.deliver(target, msg)
}

func (h *Hub) routeOffer(from *Client, msg *signaling.Message) {
	if msg.To == "" || msg.To == from.ID {
		h.log.Debug("dropping offer without a callee", "call_id", msg.CallID, "from", from.ID)
		return
	}
	if r, ok := h.routes[msg.CallID]; ok && !(r.includes(from.ID) && r.includes(msg.To)) {
		h.log.Warn("call id already routed between other participants", "call_id", msg.CallID, "from", from.ID)
		return
	}

	target, ok := h.clients[msg.To]
	if !ok {
		h.log.Info("callee offline", "call_id", msg.CallID, "from", from.ID, "to", msg.To)
		reply, err := signaling.NewMessage(signaling.TypeHangUp, msg.To, from.ID, msg.CallID,
			signaling.HangUpPayload{Reason: "unavailable"})
		if err == nil {
			h.deliver(from, reply)
		}
		return
	}

	h.routes[msg.CallID] = route{caller: from.ID, callee: msg.To}
	h.log.Info("routing call", "call_id", msg.CallID, "from", from.ID, "to", msg.To)
	h.deliver(target, msg)
}

// deliver queues msg for c, dropping the connection if it cannot keep up.
func (h *Hub) deliver(c *Client, msg *signaling.Message) {
	if h.closed[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.log.Warn("send queue full, dropping connection", "participant", c.ID)
		if h.clients[c.ID] == c {
			delete(h.clients, c.ID)
		}
		h.drop(c)
	}
}

// drop closes c's send queue, which makes its writePump close the socket.
func (h *Hub) drop(c *Client) {
	if h.closed[c] {
		return
	}
	h.closed[c] = true
	close(c.send)
}

// pruneRoutes forgets calls whose participants are both gone.
func (h *Hub) pruneRoutes() {
	for id, r := range h.routes {
		_, a := h.clients[r.caller]
		_, b := h.clients[r.callee]
		if !a && !b {
			delete(h.routes, id)
		}
	}
}
