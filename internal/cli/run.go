package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/engine"
	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/feed"
	"github.com/roach88/livestore/internal/journal"
	"github.com/roach88/livestore/internal/registry"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	URL      string
	Schema   string
	Database string
	Channels []string
	Orphans  string
	Note     string
	FetchURL string

	// Settings overrides the feed timings (tests).
	Settings *feed.Settings

	// SessionGenerator overrides journal session ids (tests). Default:
	// UUIDv7.
	SessionGenerator journal.SessionGenerator
}

// RunOutput summarizes a run after shutdown.
type RunOutput struct {
	Session string         `json:"session,omitempty"`
	LastSeq int64          `json:"last_seq"`
	Digest  string         `json:"digest"`
	Stores  []StoreSummary `json:"stores"`
	Stopped string         `json:"stopped"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

// newRunCommand binds the command's flags to opts, keeping any test
// overrides already set on it.
func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a live feed and keep the stores in sync",
		Long: `Connect to a websocket event feed and apply its events until interrupted.

Events are applied by a single writer in dependency order. Stores with a
fetch policy request missing records over HTTP, at the policy's endpoint
or at --fetch-url. With --db every envelope
is journaled in a new session before it is applied, and the clock resumes
after the journal's last seq.

Example:
  livestore run --url ws://localhost:8080/feed --db ./live.db
  livestore run --url ws://localhost:8080/feed --schema ./schema --channel group:1
  livestore run --url ws://localhost:8080/feed --fetch-url http://localhost:8080/records`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "websocket feed URL (required)")
	_ = cmd.MarkFlagRequired("url")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema directory (default: built-in catalog)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal envelopes to this SQLite database")
	cmd.Flags().StringSliceVar(&opts.Channels, "channel", nil, "feed channels to subscribe to (repeatable)")
	cmd.Flags().StringVar(&opts.Orphans, "orphans", "", "default orphan policy (backfill|skip)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "journal session note (default: run <url>)")
	cmd.Flags().StringVar(&opts.FetchURL, "fetch-url", "", "endpoint for fetch policies that declare none")

	return cmd
}

// registryApplier lets the engine exist before the registry: the
// registry needs the feed client and fetcher, which both need the engine.
type registryApplier struct {
	reg *registry.Registry
}

func (a *registryApplier) Apply(env event.Envelope) error {
	return a.reg.Apply(env)
}

func runLive(opts *RunOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := opts.Logger()

	decls, err := loadDeclarations(opts.Schema)
	if err != nil {
		return formatter.Fail(validateExitCode(err), ErrCodeGeneric, "load schema", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	applier := &registryApplier{}
	engOpts := []engine.Option{engine.WithLogger(logger)}

	var session string
	if opts.Database != "" {
		var jOpts []journal.Option
		if opts.SessionGenerator != nil {
			jOpts = append(jOpts, journal.WithSessionGenerator(opts.SessionGenerator))
		}
		j, err := journal.Open(opts.Database, jOpts...)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()

		last, err := j.LastSeq(ctx)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "read journal", err)
		}
		note := opts.Note
		if note == "" {
			note = "run " + opts.URL
		}
		if session, err = j.BeginSession(ctx, last+1, note); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "begin session", err)
		}
		engOpts = append(engOpts, engine.WithRecorder(j), engine.WithClock(engine.NewClockAt(last)))
		logger.Info("journal session started", "session", session, "start_seq", last+1)
	}

	eng := engine.New(applier, engOpts...)

	clientOpts := []feed.Option{feed.WithLogger(logger), feed.WithChannels(opts.Channels...)}
	if opts.Settings != nil {
		clientOpts = append(clientOpts, feed.WithSettings(*opts.Settings))
	}
	client := feed.NewClient(opts.URL, eng, clientOpts...)
	fetcher := feed.NewHTTPFetcher(eng, feed.WithFetchLogger(logger))

	reg, err := buildRegistry(decls, registryConfig{
		logger:        logger,
		orphans:       opts.Orphans,
		fetcher:       fetcher,
		fetchEndpoint: opts.FetchURL,
		resyncer:      client,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "build registry", err)
	}
	applier.reg = reg
	reg.AddReadyListener(func(ev, name string) error {
		logger.Info("store readiness changed", "store", name, "event", ev)
		return nil
	})

	if !formatter.JSON() {
		fmt.Fprintf(formatter.Writer, "Listening on %s. Press Ctrl-C to stop.\n", opts.URL)
	}

	feedCtx, cancelFeed := context.WithCancel(ctx)
	feedDone := make(chan error, 1)
	go func() {
		feedDone <- client.Run(feedCtx)
	}()

	runErr := eng.Run(ctx)
	cancelFeed()
	if feedErr := <-feedDone; feedErr != nil && !errors.Is(feedErr, context.Canceled) {
		logger.Warn("feed stopped", "error", feedErr)
	}
	fetcher.Wait()

	out := RunOutput{
		Session: session,
		LastSeq: eng.Clock().Current(),
		Stores:  summarize(reg),
		Stopped: "interrupted",
	}
	if out.Digest, err = reg.Digest(); err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "digest", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		out.Stopped = runErr.Error()
		_ = formatter.Failure(errorCode(runErr, ErrCodeFeed), "engine stopped", out)
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	logger.Info("engine stopped gracefully")
	if formatter.JSON() {
		return formatter.Success(out)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Stopped at seq %d\n", out.LastSeq)
	if out.Session != "" {
		fmt.Fprintf(w, "  session %s\n", out.Session)
	}
	fmt.Fprintf(w, "  digest %s\n", out.Digest)
	for _, s := range out.Stores {
		state := "pending"
		if s.Ready {
			state = "ready"
		}
		fmt.Fprintf(w, "  %-16s %4d records  %s\n", s.Name, s.Records, state)
	}
	return nil
}
