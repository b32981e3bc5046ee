package journal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/registry"
)

// Applier applies one envelope. *registry.Registry implements it.
type Applier interface {
	Apply(env event.Envelope) error
}

// ReplayResult summarizes a replay.
type ReplayResult struct {
	Session string
	Applied int
	Failed  int // recoverable failures, logged and skipped
	LastSeq int64
}

// Replay feeds the envelopes of session through a in seq order, with the
// engine's error policy: recoverable errors are logged and skipped, a
// configuration error stops the replay.
func (j *Journal) Replay(ctx context.Context, session string, a Applier) (ReplayResult, error) {
	res := ReplayResult{Session: session}

	entries, err := j.Entries(ctx, session)
	if err != nil {
		return res, fmt.Errorf("replay %s: %w", session, err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := a.Apply(e.Envelope); err != nil {
			if registry.IsConfigError(err) {
				return res, fmt.Errorf("replay %s seq %d: %w", session, e.Seq, err)
			}
			slog.Warn("replay: envelope failed",
				"session", session,
				"seq", e.Seq,
				"envelope", e.Envelope.String(),
				"error", err,
			)
			res.Failed++
		} else {
			res.Applied++
		}
		res.LastSeq = e.Seq
	}
	return res, nil
}
