package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testRelay struct {
	*httptest.Server
	hub *Hub
}

func newTestRelay(t *testing.T, secret string) *testRelay {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(hub, secret))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testRelay{Server: srv, hub: hub}
}

func (r *testRelay) wsURL(id string) string {
	u := "ws" + strings.TrimPrefix(r.URL, "http") + "/ws"
	if id != "" {
		u += "?id=" + id
	}
	return u
}

func (r *testRelay) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL(id), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.Eventually(t, func() bool { return r.hub.Online(id) }, 5*time.Second, 10*time.Millisecond)
	return ws
}

func send(t *testing.T, ws *websocket.Conn, typ signaling.MessageType, to, callID string, data any) {
	t.Helper()
	msg, err := signaling.NewMessage(typ, "", to, callID, data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(msg))
}

func read(t *testing.T, ws *websocket.Conn) *signaling.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg signaling.Message
	require.NoError(t, ws.ReadJSON(&msg))
	return &msg
}

func TestHealth(t *testing.T) {
	r := newTestRelay(t, "")
	resp, err := http.Get(r.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutesCallBetweenParticipants(t *testing.T) {
	r := newTestRelay(t, "")
	alice, bob := r.dial(t, "alice"), r.dial(t, "bob")

	send(t, alice, signaling.TypeOffer, "bob", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0"})
	got := read(t, bob)
	require.Equal(t, signaling.TypeOffer, got.Type)
	require.Equal(t, "alice", got.From)
	require.Equal(t, "c1", got.CallID)

	// The relay fills in the peer and overrides a forged sender.
	msg, err := signaling.NewMessage(signaling.TypeAnswer, "mallory", "", "c1", signaling.SDPPayload{Type: "answer", SDP: "v=0"})
	require.NoError(t, err)
	require.NoError(t, bob.WriteJSON(msg))
	got = read(t, alice)
	require.Equal(t, signaling.TypeAnswer, got.Type)
	require.Equal(t, "bob", got.From)
	require.Equal(t, "alice", got.To)
	require.Equal(t, 1, r.hub.Routes())

	send(t, alice, signaling.TypeHangUp, "bob", "c1", signaling.HangUpPayload{Reason: "ended"})
	require.Equal(t, signaling.TypeHangUp, read(t, bob).Type)
	require.Eventually(t, func() bool { return r.hub.Routes() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPingAnsweredWithPong(t *testing.T) {
	r := newTestRelay(t, "")
	alice := r.dial(t, "alice")

	require.NoError(t, alice.WriteJSON(signaling.Message{Type: signaling.TypePing}))
	require.Equal(t, signaling.TypePong, read(t, alice).Type)
}

func TestOfferToOfflineParticipant(t *testing.T) {
	r := newTestRelay(t, "")
	alice := r.dial(t, "alice")

	send(t, alice, signaling.TypeOffer, "nobody", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0"})
	got := read(t, alice)
	require.Equal(t, signaling.TypeHangUp, got.Type)
	require.Equal(t, "nobody", got.From)
	require.Equal(t, "c1", got.CallID)

	var p signaling.HangUpPayload
	require.NoError(t, got.DecodeData(&p))
	require.Equal(t, "unavailable", p.Reason)
	require.Zero(t, r.hub.Routes())
}

func TestOutsiderCannotJoinCall(t *testing.T) {
	r := newTestRelay(t, "")
	alice, bob, eve := r.dial(t, "alice"), r.dial(t, "bob"), r.dial(t, "eve")

	send(t, alice, signaling.TypeOffer, "bob", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0"})
	read(t, bob)

	send(t, eve, signaling.TypeHangUp, "bob", "c1", nil)
	send(t, eve, signaling.TypeOffer, "bob", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0"})

	// A later legitimate message is the next thing bob sees.
	send(t, alice, signaling.TypeICECandidate, "bob", "c1", signaling.CandidatePayload{Candidate: "candidate:1"})
	got := read(t, bob)
	require.Equal(t, signaling.TypeICECandidate, got.Type)
	require.Equal(t, "alice", got.From)
	require.Equal(t, 1, r.hub.Routes())
}

func TestReconnectReplacesConnection(t *testing.T) {
	r := newTestRelay(t, "")
	first := r.dial(t, "alice")
	second := r.dial(t, "alice")
	bob := r.dial(t, "bob")

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	send(t, bob, signaling.TypeOffer, "alice", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0"})
	require.Equal(t, "bob", read(t, second).From)
	require.True(t, r.hub.Online("alice"))
}

func TestTokenAuthentication(t *testing.T) {
	const secret = "test-secret"
	r := newTestRelay(t, secret)

	_, resp, err := websocket.DefaultDialer.Dial(r.wsURL("alice"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := IssueToken(secret, "alice", time.Hour)
	require.NoError(t, err)
	header := http.Header{"Authorization": {"Bearer " + token}}

	_, resp, err = websocket.DefaultDialer.Dial(r.wsURL("bob"), header)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(r.wsURL(""), header)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return r.hub.Online("alice") }, 5*time.Second, 10*time.Millisecond)
}

func TestOpenRelayRequiresID(t *testing.T) {
	r := newTestRelay(t, "")
	_, resp, err := websocket.DefaultDialer.Dial(r.wsURL(""), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken("s3cret", "alice", time.Hour)
	require.NoError(t, err)

	id, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	require.Equal(t, "alice", id)

	_, err = ParseToken("other", token)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken("s3cret", "alice", -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("s3cret", expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = IssueToken("", "alice", time.Hour)
	require.Error(t, err)
}

func TestSignalingClientsThroughRelay(t *testing.T) {
	const secret = "e2e-secret"
	r := newTestRelay(t, secret)

	connect := func(id string) (*signaling.Client, chan *signaling.Message) {
		token, err := IssueToken(secret, id, time.Hour)
		require.NoError(t, err)
		c := signaling.NewClient(signaling.Options{
			URL:               "ws" + strings.TrimPrefix(r.URL, "http") + "/ws",
			ParticipantID:     id,
			Token:             token,
			HeartbeatInterval: 100 * time.Millisecond,
		})
		msgs := make(chan *signaling.Message, 8)
		c.On(signaling.EventMessage, func(ev signaling.Event) { msgs <- ev.Message })
		require.NoError(t, c.Connect(context.Background()))
		t.Cleanup(c.Disconnect)
		require.Eventually(t, func() bool { return r.hub.Online(id) }, 5*time.Second, 10*time.Millisecond)
		return c, msgs
	}

	alice, _ := connect("alice")
	_, bobMsgs := connect("bob")

	offer, err := signaling.NewMessage(signaling.TypeOffer, "", "bob", "c1", signaling.SDPPayload{Type: "offer", SDP: "v=0", Kind: "audio"})
	require.NoError(t, err)
	require.NoError(t, alice.Send(offer))

	select {
	case got := <-bobMsgs:
		require.Equal(t, signaling.TypeOffer, got.Type)
		require.Equal(t, "alice", got.From)
	case <-time.After(5 * time.Second):
		t.Fatal("offer not relayed")
	}

	// Heartbeats keep the link open well past the read deadline.
	time.Sleep(500 * time.Millisecond)
	require.Equal(t, signaling.StatusOpen, alice.State().Status)
}
