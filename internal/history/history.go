package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/event"
	_ "modernc.org/sqlite"
)

// Record is one finished call.
type Record struct {
	CallID      string
	Direction   call.Direction
	Kind        call.Kind
	Peer        string
	State       call.State
	Reason      call.EndReason
	Error       string
	StartedAt   time.Time
	ConnectedAt *time.Time
	EndedAt     time.Time
}

// Missed reports whether the record is an incoming call that never
// connected: the ring timer ran out or the caller gave up first.
func (r Record) Missed() bool {
	if r.Direction != call.Incoming || r.ConnectedAt != nil || r.State != call.StateEnded {
		return false
	}
	switch r.Reason {
	case call.ReasonMissed, call.ReasonEnded, call.ReasonUnanswered:
		return true
	}
	return false
}

func (r Record) Duration() time.Duration {
	if r.ConnectedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.ConnectedAt)
}

// FromCall builds the record for a terminal call.
func FromCall(c call.Call) Record {
	r := Record{
		CallID:      c.ID,
		Direction:   c.Direction,
		Kind:        c.Kind,
		Peer:        c.RemoteParticipantID,
		State:       c.State,
		Reason:      c.EndReason,
		StartedAt:   c.CreatedAt,
		ConnectedAt: c.ConnectedAt,
		EndedAt:     c.CreatedAt,
	}
	if c.EndedAt != nil {
		r.EndedAt = *c.EndedAt
	}
	if c.Err != nil {
		r.Error = c.Err.Error()
	}
	return r
}

// Store keeps call records in a SQLite file.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure history: %w", err)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS calls (
		call_id      TEXT PRIMARY KEY,
		direction    TEXT NOT NULL,
		kind         TEXT NOT NULL,
		peer         TEXT NOT NULL,
		state        TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		started_at   INTEGER NOT NULL,
		connected_at INTEGER DEFAULT 0,
		ended_at     INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}

	return &Store{db: db}, nil
}

// Record stores r, replacing any earlier record of the same call.
func (s *Store) Record(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var connected int64
	if r.ConnectedAt != nil {
		connected = r.ConnectedAt.UnixMilli()
	}
	_, err := s.db.Exec(`INSERT INTO calls (call_id, direction, kind, peer, state, reason, error, started_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			state=excluded.state,
			reason=excluded.reason,
			error=excluded.error,
			connected_at=excluded.connected_at,
			ended_at=excluded.ended_at`,
		r.CallID, string(r.Direction), string(r.Kind), r.Peer, string(r.State), string(r.Reason), r.Error,
		r.StartedAt.UnixMilli(), connected, r.EndedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record call %s: %w", r.CallID, err)
	}
	return nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int, missedOnly bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT call_id, direction, kind, peer, state, reason, error, started_at, connected_at, ended_at FROM calls`
	var args []any
	if missedOnly {
		query += ` WHERE direction = ? AND state = ? AND connected_at = 0 AND reason IN (?, ?, ?)`
		args = append(args, string(call.Incoming), string(call.StateEnded),
			string(call.ReasonMissed), string(call.ReasonEnded), string(call.ReasonUnanswered))
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                         Record
			dir, kind, state, reason  string
			started, connected, ended int64
		)
		if err := rows.Scan(&r.CallID, &dir, &kind, &r.Peer, &state, &reason, &r.Error,
			&started, &connected, &ended); err != nil {
			return nil, err
		}
		r.Direction = call.Direction(dir)
		r.Kind = call.Kind(kind)
		r.State = call.State(state)
		r.Reason = call.EndReason(reason)
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		if connected > 0 {
			t := time.UnixMilli(connected)
			r.ConnectedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Clear removes every record.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM calls`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Subscriber is the part of the orchestrator the recorder listens on.
type Subscriber interface {
	On(t call.EventType, fn func(call.Event)) event.HandlerID
}

// Attach records every ended call of o. Failures are logged, never fatal.
func (s *Store) Attach(o Subscriber, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	o.On(call.EventCallEnded, func(ev call.Event) {
		if err := s.Record(FromCall(ev.Call)); err != nil {
			logger.Warn("call history not saved", "call_id", ev.Call.ID, "error", err)
		}
	})
}
