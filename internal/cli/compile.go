package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledStrategy is a strategy with its content hash.
type CompiledStrategy struct {
	Name     string      `json:"name"`
	Hash     string      `json:"hash"`
	Threads  int         `json:"threads"`
	Strategy ir.Strategy `json:"strategy"`
}

// CompilationResult holds the compiled strategies.
type CompilationResult struct {
	Strategies []CompiledStrategy `json:"strategies"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <strategies-dir>",
		Short: "Compile CUE strategies to canonical JSON",
		Long: `Compile CUE strategy declarations to their canonical form.

The compiler checks each strategy against the closed strategy schema,
fills in defaults and reports the content hash that identifies the
strategy in the kernel cache. Strategy names do not affect the hash.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loadResult, loadErrors := LoadStrategies(dir, LoadModeCollectAll)
	if loadResult == nil {
		return loadFailure(formatter, loadErrors)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, dir)
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := &CompilationResult{Strategies: make([]CompiledStrategy, 0, len(loadResult.Strategies))}
	for _, s := range loadResult.Strategies {
		formatter.VerboseLog("Compiling strategy: %s", s.Name)
		s = s.WithDefaults()
		hash, err := ir.StrategyHash(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "hash strategy "+s.Name, err)
		}
		result.Strategies = append(result.Strategies, CompiledStrategy{
			Name:     s.Name,
			Hash:     hash,
			Threads:  s.Threads(),
			Strategy: s,
		})
	}

	if opts.Output != "" {
		if err := writeCompiled(result, opts.Output); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
			return WrapExitError(ExitCommandError, "write output", err)
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "%s Compiled %d strategy(s)\n\n", mark(true), len(result.Strategies))
	rows := make([][]string, len(result.Strategies))
	for i, s := range result.Strategies {
		staged := "-"
		if s.Strategy.UsesSLM() {
			staged = fmt.Sprintf("depth %d", s.Strategy.SLMBuffers)
		}
		rows[i] = []string{s.Name, shortID(s.Hash), fmt.Sprintf("%dx%d", s.Strategy.TileM, s.Strategy.TileN), fmt.Sprint(s.Threads), staged}
	}
	fmt.Fprintln(w, renderTable([]string{"Strategy", "Hash", "Tile", "Threads", "SLM"}, rows))
	if opts.Output != "" {
		fmt.Fprintf(w, "Wrote compiled strategies to %s\n", opts.Output)
	}
	return nil
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		cliErrors[i] = toCLIError(err)
	}
	msg := fmt.Sprintf("compilation failed with %d error(s)", len(errs))

	if formatter.Format == "json" {
		if err := formatter.Failure(cliErrors, cliErrors[0]); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, msg)
	}

	fmt.Fprintf(formatter.Writer, "%s Compilation failed\n\n", mark(false))
	for _, err := range errs {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(formatter.Writer, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		e := toCLIError(err)
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", e.Code, e.Message)
	}
	return NewExitError(ExitCommandError, msg)
}

// writeCompiled writes the compilation result as indented JSON.
func writeCompiled(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling strategies: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}
