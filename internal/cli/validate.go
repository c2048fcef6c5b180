package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/compiler"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Strategies int                        `json:"strategies"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <strategies-dir>",
		Short: "Validate strategies without generating",
		Long: `Validate CUE strategies without analysing or emitting a k-loop.

Performs schema checking, knob consistency checks and the generator's
unsupported-combination checks. Faster than generate for development
feedback; schedule-level errors (unroll mismatch, deferral limits) are
only found by generate.`,
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
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadStrategies(dir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			validationErrors = append(validationErrors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
		}
	}
	for _, s := range loadResult.Strategies {
		formatter.VerboseLog("Validating strategy: %s", s.Name)
		validationErrors = append(validationErrors, validateStrategy(s)...)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Strategies: len(loadResult.Strategies)})
	}
	fmt.Fprintf(formatter.Writer, "%s All %d strategy(s) valid\n", mark(true), len(loadResult.Strategies))
	return nil
}

// validateStrategy runs the compiler's knob checks and, if they pass, the
// generator's support checks. Field names are prefixed with the strategy.
func validateStrategy(s ir.Strategy) []compiler.ValidationError {
	errs := compiler.Validate(s)
	for i := range errs {
		errs[i].Field = s.Name + "." + errs[i].Field
	}
	if len(errs) > 0 {
		return errs
	}

	err := kloop.Check(s.WithDefaults())
	if err == nil {
		return nil
	}
	verr := compiler.ValidationError{Field: s.Name, Message: err.Error(), Code: string(engine.Code(err))}
	var ce *engine.ConfigurationError
	var ue *engine.UnsupportedError
	switch {
	case errors.As(err, &ce):
		verr.Field, verr.Message = s.Name+"."+ce.Field, ce.Message
	case errors.As(err, &ue):
		verr.Field, verr.Message = s.Name+"."+ue.Feature, ue.Message
	}
	return []compiler.ValidationError{verr}
}

func lineOf(e *LoadError) int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	msg := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	if formatter.Format == "json" {
		if err := formatter.Failure(ValidationResult{Valid: false, Errors: errs}, CLIError{
			Code:    errs[0].Code,
			Message: errs[0].Message,
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintf(formatter.Writer, "%s Validation failed\n\n", mark(false))
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return NewExitError(ExitFailure, msg)
}
