package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/brew/internal/engine"
	"github.com/roach88/brew/internal/fixture"
	"github.com/roach88/brew/internal/notify"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool              `json:"valid"`
	Files       int               `json:"files,omitempty"`
	Ingredients int               `json:"ingredients,omitempty"`
	Beverages   int               `json:"beverages,omitempty"`
	Machines    []MachineSummary  `json:"machines,omitempty"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// MachineSummary describes one fixture machine.
type MachineSummary struct {
	Name      string   `json:"name"`
	Outlets   int      `json:"outlets"`
	Beverages []string `json:"beverages"`
}

// ValidationError is one fixture problem with its location.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <fixture-dir>",
		Short: "Validate a machine fixture",
		Long: `Load a CUE fixture, check it against the schema, and build every
ingredient, beverage and machine it declares without dispensing anything.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	f, err := fixture.Load(dir)
	if err != nil {
		return fixtureError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", f.Files, dir)

	if _, err := f.Build(cmd.Context(),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		engine.WithSink(notify.Discard),
	); err != nil {
		return fixtureError(formatter, err)
	}

	result := ValidationResult{
		Valid:       true,
		Files:       f.Files,
		Ingredients: len(f.Ingredients),
		Beverages:   len(f.Beverages),
	}
	for _, m := range f.Machines {
		result.Machines = append(result.Machines, MachineSummary{
			Name:      m.Name,
			Outlets:   m.Outlets,
			Beverages: m.Beverages,
		})
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Fixture valid: %d ingredient(s), %d beverage(s), %d machine(s)\n",
		result.Ingredients, result.Beverages, len(result.Machines))
	for _, m := range result.Machines {
		fmt.Fprintf(w, "  %s: %d outlet(s), serves %s\n", m.Name, m.Outlets, strings.Join(m.Beverages, ", "))
	}
	return nil
}

// fixtureError reports a fixture load or build error. Problems with the
// fixture's content exit 1; problems reaching it exit 2.
func fixtureError(formatter *OutputFormatter, err error) error {
	var le *fixture.LoadError
	if !errors.As(err, &le) {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "fixture error", err)
	}

	switch le.Code {
	case fixture.ErrCodeSchema, fixture.ErrCodeBeverage, fixture.ErrCodeMachine,
		fixture.ErrCodeIngredient, fixture.ErrCodeEmptyFixture:
	default:
		_ = formatter.Error(le.Code, le.Message, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", le.Code, le.Message))
	}

	verr := ValidationError{Code: le.Code, Message: le.Message}
	if le.Pos.IsValid() {
		verr.File = le.Pos.Filename()
		verr.Line = le.Pos.Line()
	}

	if formatter.Format == "json" {
		if err := formatter.Failure(le.Code, le.Message, ValidationResult{Errors: []ValidationError{verr}}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		if verr.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", verr.File, verr.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", verr.Code, verr.Message)
	}
	return NewExitError(ExitFailure, "validation failed")
}
