package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/livestore/internal/event"
)

// ErrNoSession is returned by Record before BeginSession.
var ErrNoSession = errors.New("journal: no session started")

// BeginSession starts a new session and makes it current for Record.
// startSeq is the seq the engine's clock will issue first.
func (j *Journal) BeginSession(ctx context.Context, startSeq int64, note string) (string, error) {
	id := j.gen.Generate()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at_seq, note)
		VALUES (?, ?, ?)
	`, id, startSeq, note)
	if err != nil {
		return "", fmt.Errorf("begin session: %w", err)
	}

	j.mu.Lock()
	j.session = id
	j.mu.Unlock()
	return id, nil
}

// Session returns the current session id, or "".
func (j *Journal) Session() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.session
}

// Record appends env to the current session at seq. Writing the same
// (session, seq) twice is a no-op.
//
// Implements engine.Recorder.
func (j *Journal) Record(ctx context.Context, seq int64, env event.Envelope) error {
	session := j.Session()
	if session == "" {
		return ErrNoSession
	}
	return j.write(ctx, session, seq, env)
}

func (j *Journal) write(ctx context.Context, session string, seq int64, env event.Envelope) error {
	r, err := toRow(env)
	if err != nil {
		return fmt.Errorf("record seq %d: %w", seq, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events (seq, session_id, store, type, object_id, data, channel)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`, seq, session, r.store, r.typ, r.objectID, r.data, r.channel)
	if err != nil {
		return fmt.Errorf("record seq %d: %w", seq, err)
	}
	return nil
}

// Import writes envelopes into a new session with consecutive seqs
// starting at 1 and returns the session id. The CLI uses it to journal
// event files applied without an engine.
func (j *Journal) Import(ctx context.Context, note string, envs []event.Envelope) (string, error) {
	session, err := j.BeginSession(ctx, 1, note)
	if err != nil {
		return "", err
	}
	for i, env := range envs {
		if err := j.write(ctx, session, int64(i+1), env); err != nil {
			return "", err
		}
	}
	return session, nil
}
