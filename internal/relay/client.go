package relay

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed between reads. Clients ping every heartbeat interval.
	pongWait = 75 * time.Second

	// Send websocket pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// SDP offers with many candidates fit comfortably.
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client is one participant's websocket connection.
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan *signaling.Message
	log  *slog.Logger
}

// inbound pairs a message with the connection it arrived on.
type inbound struct {
	client *Client
	msg    *signaling.Message
}

func newClient(h *Hub, id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		hub:  h,
		conn: conn,
		send: make(chan *signaling.Message, sendBuffer),
		log:  h.log.With("participant", id),
	}
}

// readPump feeds messages from the connection to the hub. It is the only
// reader of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("connection closed", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("dropping malformed message", "error", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			c.log.Debug("dropping invalid message", "type", msg.Type, "error", err)
			continue
		}
		if !c.hub.submit(inbound{client: c, msg: &msg}) {
			return
		}
	}
}

// writePump drains the send queue to the connection. It is the only writer
// of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
