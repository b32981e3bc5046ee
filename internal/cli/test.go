package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/harness"
	"github.com/roach88/livestore/internal/journal"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update   bool   // regenerate golden files
	Filter   string // scenario filter (glob pattern on the file name)
	Golden   string // golden directory, default <scenarios-dir>/golden
	Database string // optional journal for the runs
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Digest  string   `json:"digest,omitempty"`
	Session string   `json:"session,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run YAML scenarios against fresh registries",
		Long: `Run every YAML scenario in scenarios-dir.

Each scenario feeds its events through a fresh engine and registry, then
checks expected errors and assertions. When a golden file named after the
scenario exists, the canonical snapshot of the run must match it.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  livestore test ./scenarios
  livestore test ./scenarios --filter "late_*"
  livestore test ./scenarios --update
  livestore test ./scenarios --db ./runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default <scenarios-dir>/golden)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "journal every run to this SQLite database")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		_ = formatter.Error(ErrCodeScenario, fmt.Sprintf("scenarios directory not found: %s", dir), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, "find scenarios", err)
	}

	goldenDir := opts.Golden
	if goldenDir == "" {
		goldenDir = filepath.Join(dir, "golden")
	}

	var j *journal.Journal
	if opts.Database != "" {
		j, err = journal.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "open journal", err)
		}
		defer j.Close()
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		sr := runScenario(cmd.Context(), file, goldenDir, j, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if !formatter.JSON() {
			printScenario(formatter, sr)
		}
	}

	if formatter.JSON() {
		if result.Failed > 0 {
			_ = formatter.Failure(ErrCodeScenario, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total), result)
		} else {
			_ = formatter.Success(result)
		}
	} else if result.Total == 0 {
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
	} else {
		fmt.Fprintf(formatter.Writer, "\n%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles returns the .yaml and .yml files under dir, sorted
// by path. The golden directory is skipped.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(d.Name(), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// runScenario runs one scenario file and checks it against its golden
// file, if any.
func runScenario(ctx context.Context, file, goldenDir string, j *journal.Journal, opts *TestOptions) ScenarioResult {
	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	fail := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("load: %v", err)
	}
	name = scenario.Name

	runOpts := []harness.Option{harness.WithLogger(opts.Logger())}
	var session string
	if j != nil {
		if session, err = j.BeginSession(ctx, 1, "test "+scenario.Name); err != nil {
			return fail("begin journal session: %v", err)
		}
		runOpts = append(runOpts, harness.WithRecorder(j))
	}

	result, err := harness.Run(scenario, runOpts...)
	if err != nil {
		return fail("run: %v", err)
	}
	sr := ScenarioResult{
		Name:    scenario.Name,
		Pass:    result.Pass,
		Digest:  result.Digest,
		Session: session,
		Errors:  result.Errors,
	}

	snap, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return fail("snapshot: %v", err)
	}
	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")

	if opts.Update {
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			return fail("create golden directory: %v", err)
		}
		if err := os.WriteFile(goldenPath, snap, 0o644); err != nil {
			return fail("write golden file: %v", err)
		}
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	if errors.Is(err, fs.ErrNotExist) {
		// No golden file: assertions only.
		return sr
	}
	if err != nil {
		return fail("read golden file: %v", err)
	}
	if !bytes.Equal(want, snap) {
		sr.Pass = false
		sr.Errors = append(sr.Errors, "snapshot does not match golden file (run with --update to regenerate)")
	}
	return sr
}

func printScenario(f *OutputFormatter, sr ScenarioResult) {
	if sr.Pass {
		fmt.Fprintf(f.Writer, "✓ %s\n", sr.Name)
		f.VerboseLog("  digest %s", sr.Digest)
		return
	}
	fmt.Fprintf(f.Writer, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		fmt.Fprintf(f.Writer, "  %s\n", e)
	}
}
