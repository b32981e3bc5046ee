package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/livestore/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Files   int      `json:"files"`
	Stores  []string `json:"stores"`  // dependency order
	Indexes []string `json:"indexes"` // sorted
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [schema-dir]",
		Short: "Validate store and index declarations",
		Long: `Load the CUE declarations in schema-dir and build a registry from them.

Reports file errors with their CUE position, unknown stores and fields,
and dependency cycles. Without schema-dir the built-in catalog is checked.

Exit codes:
  0 - Schema valid
  1 - Schema invalid
  2 - Command error (directory not found, no .cue files)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	decls, err := loadDeclarations(dir)
	if err != nil {
		return formatter.Fail(validateExitCode(err), ErrCodeGeneric, "load schema", err)
	}
	formatter.VerboseLog("Loaded %d store(s) and %d index(es)", len(decls.Schemas), len(decls.Indexes))

	reg, err := buildRegistry(decls, registryConfig{logger: opts.Logger()})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, "build registry", err)
	}

	result := ValidationResult{
		Valid:   true,
		Files:   decls.Files,
		Stores:  reg.Order(),
		Indexes: reg.Indexes(),
	}
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Schema valid (%d stores, %d indexes)\n", len(result.Stores), len(result.Indexes))
	for i, name := range result.Stores {
		fmt.Fprintf(w, "  %d. %s\n", i+1, name)
	}
	for _, name := range result.Indexes {
		fmt.Fprintf(w, "  index %s\n", name)
	}
	return nil
}

// validateExitCode separates a missing or empty directory (command
// error) from a broken schema (validation failure).
func validateExitCode(err error) int {
	var le *schema.LoadError
	if errors.As(err, &le) {
		switch le.Code {
		case schema.ErrCodeNotFound, schema.ErrCodeNoFiles:
			return ExitCommandError
		}
	}
	return ExitFailure
}
