package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/event"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func endedCall(id string, dir call.Direction, reason call.EndReason, started time.Time, connected bool) call.Call {
	c := call.Call{
		ID:                  id,
		Direction:           dir,
		Kind:                call.KindAudio,
		State:               call.StateEnded,
		LocalParticipantID:  "alice",
		RemoteParticipantID: "bob",
		CreatedAt:           started,
		EndReason:           reason,
	}
	end := started.Add(2 * time.Minute)
	c.EndedAt = &end
	if connected {
		at := started.Add(10 * time.Second)
		c.ConnectedAt = &at
	}
	return c
}

func TestRecordAndList(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(FromCall(endedCall("c1", call.Outgoing, call.ReasonEnded, base, true))))
	require.NoError(t, s.Record(FromCall(endedCall("c2", call.Incoming, call.ReasonMissed, base.Add(time.Hour), false))))

	failed := endedCall("c3", call.Outgoing, call.ReasonFailed, base.Add(2*time.Hour), false)
	failed.State = call.StateFailed
	failed.Err = errors.New("ice connection failed")
	require.NoError(t, s.Record(FromCall(failed)))

	all, err := s.List(0, false)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []string{"c3", "c2", "c1"}, []string{all[0].CallID, all[1].CallID, all[2].CallID})

	require.Equal(t, "ice connection failed", all[0].Error)
	require.Equal(t, call.StateFailed, all[0].State)
	require.True(t, all[1].Missed())
	require.Nil(t, all[1].ConnectedAt)
	require.Equal(t, 110*time.Second, all[2].Duration())

	limited, err := s.List(1, false)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	missed, err := s.List(0, true)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	require.Equal(t, "c2", missed[0].CallID)
}

func TestRecordReplacesSameCall(t *testing.T) {
	s := openTemp(t)
	c := endedCall("c1", call.Outgoing, call.ReasonEnded, time.Now(), false)
	require.NoError(t, s.Record(FromCall(c)))

	c.EndReason = call.ReasonUnanswered
	require.NoError(t, s.Record(FromCall(c)))

	all, err := s.List(0, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, call.ReasonUnanswered, all[0].Reason)

	require.NoError(t, s.Clear())
	all, err = s.List(0, false)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestMissedCoversCallerHangUpBeforeAnswer(t *testing.T) {
	s := openTemp(t)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// Caller gave up while it was still ringing here.
	require.NoError(t, s.Record(FromCall(endedCall("gave-up", call.Incoming, call.ReasonEnded, base, false))))
	require.NoError(t, s.Record(FromCall(endedCall("timed-out", call.Incoming, call.ReasonMissed, base.Add(time.Minute), false))))
	require.NoError(t, s.Record(FromCall(endedCall("declined", call.Incoming, call.ReasonRejected, base.Add(2*time.Minute), false))))
	require.NoError(t, s.Record(FromCall(endedCall("answered", call.Incoming, call.ReasonEnded, base.Add(3*time.Minute), true))))
	require.NoError(t, s.Record(FromCall(endedCall("outgoing", call.Outgoing, call.ReasonUnanswered, base.Add(4*time.Minute), false))))

	missed, err := s.List(0, true)
	require.NoError(t, err)
	ids := make([]string, 0, len(missed))
	for _, r := range missed {
		require.True(t, r.Missed())
		ids = append(ids, r.CallID)
	}
	require.Equal(t, []string{"timed-out", "gave-up"}, ids)

	all, err := s.List(0, false)
	require.NoError(t, err)
	for _, r := range all {
		switch r.CallID {
		case "declined", "answered", "outgoing":
			require.False(t, r.Missed(), r.CallID)
		}
	}
}

type bus struct {
	event.Bus[call.EventType, call.Event]
}

func TestAttachRecordsEndedCalls(t *testing.T) {
	s := openTemp(t)
	var b bus
	s.Attach(&b, nil)

	c := endedCall("c9", call.Incoming, call.ReasonMissed, time.Now(), false)
	b.Emit(call.EventCallEnded, call.Event{Type: call.EventCallEnded, Call: c})

	missed, err := s.List(0, true)
	require.NoError(t, err)
	require.Len(t, missed, 1)
	require.Equal(t, "bob", missed[0].Peer)
}
