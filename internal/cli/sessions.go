package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/journal"
)

// SessionInfo is one journal session in command output.
type SessionInfo struct {
	ID           string `json:"id"`
	StartedAtSeq int64  `json:"started_at_seq"`
	Events       int    `json:"events"`
	Note         string `json:"note,omitempty"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	var database string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List journal sessions",
		Long: `List the sessions stored in a journal, oldest first.

Example:
  livestore sessions --db ./live.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(rootOpts, database, cmd)
		},
	}

	cmd.Flags().StringVar(&database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSessions(opts *RootOptions, database string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	j, err := journal.Open(database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "open journal", err)
	}
	defer j.Close()

	sessions, err := j.Sessions(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "list sessions", err)
	}

	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = SessionInfo{ID: s.ID, StartedAtSeq: s.StartedAtSeq, Events: s.Events, Note: s.Note}
	}
	if formatter.JSON() {
		return formatter.Success(infos)
	}

	if len(infos) == 0 {
		fmt.Fprintln(formatter.Writer, "No sessions found in journal.")
		return nil
	}
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTART\tEVENTS\tNOTE")
	for _, s := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", s.ID, s.StartedAtSeq, s.Events, s.Note)
	}
	return tw.Flush()
}
