package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/journal"
)

// maxLineSize bounds one line of an import file.
const maxLineSize = 16 << 20

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
	Note     string
}

// ImportResult reports an import.
type ImportResult struct {
	Session   string `json:"session"`
	Envelopes int    `json:"envelopes"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import recorded feed messages into a journal session",
		Long: `Read feed messages, one per line, and store them as a new journal session.

Each non-empty line is a wire message: a single envelope object or an
array of envelopes. Use "-" to read from stdin. The whole file is
decoded before anything is written.

Example:
  livestore import --db ./live.db --note "bug 42 capture" capture.jsonl`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Note, "note", "", "session note (default: import <file>)")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "open input", err)
		}
		defer f.Close()
		r = f
	}

	envs, err := readMessages(r)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "decode input", err)
	}
	formatter.VerboseLog("Decoded %d envelope(s) from %s", len(envs), path)

	j, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "open journal", err)
	}
	defer j.Close()

	note := opts.Note
	if note == "" {
		note = "import " + path
	}
	session, err := j.Import(cmd.Context(), note, envs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "import", err)
	}

	result := ImportResult{Session: session, Envelopes: len(envs)}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d envelopes into session %s\n", result.Envelopes, result.Session)
	return nil
}

// readMessages decodes one wire message per non-empty line.
func readMessages(r io.Reader) ([]event.Envelope, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var envs []event.Envelope
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		batch, err := event.Decode(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		envs = append(envs, batch...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return envs, nil
}
