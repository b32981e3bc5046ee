package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/livestore/internal/event"
)

// Session describes one journaled run.
type Session struct {
	ID           string
	StartedAtSeq int64
	Note         string
	Events       int
}

// Entry is one journaled envelope.
type Entry struct {
	Seq      int64
	Session  string
	Envelope event.Envelope
}

// Sessions lists sessions ordered by id. UUIDv7 ids sort by start time.
func (j *Journal) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT s.id, s.started_at_seq, s.note, COUNT(e.seq)
		FROM sessions s
		LEFT JOIN events e ON e.session_id = s.id
		GROUP BY s.id
		ORDER BY s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.StartedAtSeq, &s.Note, &s.Events); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Entries returns the envelopes of a session in seq order. Returns an
// empty slice (not nil) for an unknown or empty session.
func (j *Journal) Entries(ctx context.Context, session string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, store, type, object_id, data, channel
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			seq int64
			r   row
		)
		if err := rows.Scan(&seq, &r.store, &r.typ, &r.objectID, &r.data, &r.channel); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		env, err := fromRow(r)
		if err != nil {
			return nil, fmt.Errorf("decode event seq %d: %w", seq, err)
		}
		entries = append(entries, Entry{Seq: seq, Session: session, Envelope: env})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// LastSeq returns the highest seq recorded in any session, 0 if none.
// An engine resuming against the same journal starts its clock there.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}
