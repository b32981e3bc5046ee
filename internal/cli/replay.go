package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/journal"
	"github.com/roach88/livestore/internal/registry"
	"github.com/roach88/livestore/internal/schema"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Schema   string // CUE schema dir, empty for the built-in catalog
	Orphans  string
	Expect   string // expected digest, optional
}

// ReplayOutput holds the replay result.
type ReplayOutput struct {
	Session       string         `json:"session"`
	Applied       int            `json:"applied"`
	Failed        int            `json:"failed"`
	LastSeq       int64          `json:"last_seq"`
	Digest        string         `json:"digest"`
	Deterministic bool           `json:"deterministic"`
	Stores        []StoreSummary `json:"stores"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [session]",
		Short: "Replay a journal session and verify determinism",
		Long: `Replay a journal session into fresh registries and report the final digest.

The session is replayed twice; both runs must reach the same digest.
Without a session argument the most recent session is replayed.

Exit codes:
  0 - Replay deterministic (and matching --expect, if given)
  1 - Digest mismatch or configuration error during replay
  2 - Command error (journal not found, unknown session, etc.)

Examples:
  livestore replay --db ./live.db
  livestore replay --db ./live.db 0192f0c4-...
  livestore replay --db ./live.db --schema ./schema --expect 3f1c...`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := ""
			if len(args) == 1 {
				session = args[0]
			}
			return runReplay(opts, session, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema directory (default: built-in catalog)")
	cmd.Flags().StringVar(&opts.Orphans, "orphans", "", "default orphan policy (backfill|skip)")
	cmd.Flags().StringVar(&opts.Expect, "expect", "", "fail unless the final digest equals this value")

	return cmd
}

func runReplay(opts *ReplayOptions, session string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	decls, err := loadDeclarations(opts.Schema)
	if err != nil {
		return formatter.Fail(validateExitCode(err), ErrCodeGeneric, "load schema", err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "open journal", err)
	}
	defer j.Close()

	if session, err = resolveSession(ctx, j, session); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "find session", err)
	}

	first, reg, err := replayOnce(ctx, j, session, decls, opts)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeJournal, "replay session "+session, err)
	}
	second, _, err := replayOnce(ctx, j, session, decls, opts)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeJournal, "replay session "+session, err)
	}

	out := ReplayOutput{
		Session:       session,
		Applied:       first.result.Applied,
		Failed:        first.result.Failed,
		LastSeq:       first.result.LastSeq,
		Digest:        first.digest,
		Deterministic: first.digest == second.digest,
		Stores:        summarize(reg),
	}

	if !out.Deterministic {
		_ = formatter.Failure(ErrCodeJournal, "replays reached different digests", out)
		return NewExitError(ExitFailure,
			fmt.Sprintf("non-deterministic replay: %s != %s", first.digest, second.digest))
	}
	if opts.Expect != "" && opts.Expect != out.Digest {
		_ = formatter.Failure(ErrCodeJournal, "digest mismatch", out)
		return NewExitError(ExitFailure,
			fmt.Sprintf("digest mismatch: expected %s, got %s", opts.Expect, out.Digest))
	}

	if formatter.JSON() {
		return formatter.Success(out)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Replayed session %s\n", out.Session)
	fmt.Fprintf(w, "  applied %d, failed %d, last seq %d\n", out.Applied, out.Failed, out.LastSeq)
	fmt.Fprintf(w, "  digest %s\n", out.Digest)
	if opts.Verbose {
		for _, s := range out.Stores {
			fmt.Fprintf(w, "  %-16s %d records\n", s.Name, s.Records)
		}
	}
	return nil
}

type replayRun struct {
	result journal.ReplayResult
	digest string
}

// replayOnce replays session into a fresh registry.
func replayOnce(ctx context.Context, j *journal.Journal, session string, decls *schema.Result, opts *ReplayOptions) (replayRun, *registry.Registry, error) {
	reg, err := buildRegistry(decls, registryConfig{logger: opts.Logger(), orphans: opts.Orphans})
	if err != nil {
		return replayRun{}, nil, err
	}
	res, err := j.Replay(ctx, session, reg)
	if err != nil {
		return replayRun{}, nil, err
	}
	digest, err := reg.Digest()
	if err != nil {
		return replayRun{}, nil, err
	}
	return replayRun{result: res, digest: digest}, reg, nil
}

// resolveSession checks that session exists. An empty session selects
// the most recent one; ids sort by start time.
func resolveSession(ctx context.Context, j *journal.Journal, session string) (string, error) {
	sessions, err := j.Sessions(ctx)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("journal has no sessions")
	}
	if session == "" {
		return sessions[len(sessions)-1].ID, nil
	}
	for _, s := range sessions {
		if s.ID == session {
			return session, nil
		}
	}
	return "", fmt.Errorf("unknown session %q", session)
}
