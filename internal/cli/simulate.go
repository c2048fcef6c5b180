package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Strategy        string
	TripCounts      []int
	MaxK            int
	Seed            int64
	ShortLoopExtent int
	Database        string
	ShowListing     bool

	// RunIDs allows overriding the run ID generator (for testing).
	RunIDs engine.RunIDGenerator
}

// SimulateResult holds the verdicts of one strategy.
type SimulateResult struct {
	Kernel   GeneratedKernel `json:"kernel"`
	Verdicts []ir.Verdict    `json:"verdicts"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <strategies-dir>",
		Short: "Execute one strategy's k-loop on the interpreter",
		Long: `Generate one strategy and execute it on the multi-thread interpreter.

Every trip count is checked against a float64 reference, the staging
buffer hazard checker and the barrier protocol. Without --k the trip
counts run from 0 through two main-loop blocks past the short-loop limit.

Exit codes:
  0 - Every verdict passed
  1 - One or more verdicts failed, or the strategy was rejected
  2 - Command error

Examples:
  kloop simulate ./strategies --strategy slm_double
  kloop simulate ./strategies --strategy basic --k 0,1,7 --seed 3
  kloop simulate ./strategies --strategy basic --max-k 40 --db ./kloop.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Strategy, "strategy", "", "strategy to simulate (required)")
	_ = cmd.MarkFlagRequired("strategy")
	cmd.Flags().IntSliceVar(&opts.TripCounts, "k", nil, "trip counts to execute")
	cmd.Flags().IntVar(&opts.MaxK, "max-k", 0, "execute every trip count 0..max-k")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "operand data seed")
	cmd.Flags().IntVar(&opts.ShortLoopExtent, "short-loop-extent", 0, "route trip counts below this through the short loop")
	cmd.Flags().StringVar(&opts.Database, "db", "", "cache the kernel and its verdicts in this SQLite database")
	cmd.Flags().BoolVar(&opts.ShowListing, "listing", false, "print the program listing")
	cmd.MarkFlagsMutuallyExclusive("k", "max-k")

	return cmd
}

func runSimulate(ctx context.Context, opts *SimulateOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	strategies, err := loadSelected(formatter, dir, []string{opts.Strategy})
	if err != nil {
		return err
	}
	kernel, cliErr := generateKernel(strategies[0], opts.ShortLoopExtent)
	if cliErr != nil {
		_ = formatter.Error(cliErr.Code, cliErr.Message, cliErr.Details)
		return NewExitError(ExitFailure, cliErr.Message)
	}
	gk, err := summarise(kernel)
	if err != nil {
		return WrapExitError(ExitCommandError, "identify kernel", err)
	}

	result := SimulateResult{Kernel: gk, Verdicts: []ir.Verdict{}}
	for _, k := range tripCounts(kernel, opts.TripCounts, opts.MaxK) {
		v, err := kernel.Verify(ir.Problem{K: k, Seed: opts.Seed})
		if err != nil {
			_ = formatter.Error(ErrCodeVerifyFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "execute kernel", err)
		}
		formatter.VerboseLog("k=%d %s passed=%v", v.K, v.Path, v.Passed)
		result.Verdicts = append(result.Verdicts, v)
		if v.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if opts.Database != "" {
		if err := cacheVerdicts(ctx, opts.Database, opts.RunIDs, "simulate "+opts.Strategy, kernel, result.Verdicts); err != nil {
			_ = formatter.Error(ErrCodeCache, err.Error(), nil)
			return WrapExitError(ExitCommandError, "cache verdicts", err)
		}
	}

	return outputSimulate(formatter, opts, kernel, result)
}

// tripCounts returns the explicit trip counts, 0..maxK, or the default
// range covering the short loop and two main-loop blocks.
func tripCounts(k *kloop.Kernel, explicit []int, maxK int) []int {
	if len(explicit) > 0 {
		return explicit
	}
	if maxK <= 0 {
		maxK = k.ShortLimit + 2*k.Schedule.BlockLength + 1
	}
	ks := make([]int, maxK+1)
	for i := range ks {
		ks[i] = i
	}
	return ks
}

func cacheVerdicts(ctx context.Context, path string, runIDs engine.RunIDGenerator, command string, k *kloop.Kernel, verdicts []ir.Verdict) error {
	session, err := openSession(ctx, path, runIDs, command)
	if err != nil {
		return err
	}
	defer session.Close()
	rec, _, err := session.cacheKernel(ctx, k)
	if err != nil {
		return err
	}
	return session.writeVerdicts(ctx, rec.ID, verdicts)
}

func verdictRows(verdicts []ir.Verdict) [][]string {
	rows := make([][]string, len(verdicts))
	for i, v := range verdicts {
		rows[i] = []string{
			fmt.Sprint(v.K), v.Path,
			fmt.Sprint(v.BackEdges), fmt.Sprint(v.Taken), count(v.Executed),
			formatError(v.MaxError), fmt.Sprint(len(v.Hazards) + len(v.Violations)),
			mark(v.Passed),
		}
	}
	return rows
}

var verdictHeaders = []string{"K", "Path", "Back-edges", "Taken", "Executed", "Max error", "Hazards", "Pass"}

func outputSimulate(formatter *OutputFormatter, opts *SimulateOptions, kernel *kloop.Kernel, result SimulateResult) error {
	if formatter.Format == "json" {
		if result.Failed > 0 {
			if err := formatter.Failure(result, CLIError{
				Code:    ErrCodeVerifyFailed,
				Message: fmt.Sprintf("%d of %d trip count(s) failed", result.Failed, len(result.Verdicts)),
			}); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d trip count(s) failed", result.Failed))
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	g := result.Kernel
	title := fmt.Sprintf("%s  U=%d W=%d R=%d  %s instructions",
		g.Strategy, g.BlockLength, g.WarmupLength, g.Threshold, count(g.Instructions))
	if g.Buffering != "" {
		title += "  " + g.Buffering + " buffered"
		if g.NamedBarriers {
			title += " (named barriers)"
		}
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	if opts.ShowListing {
		fmt.Fprintln(w, kernel.Program.Listing())
	}
	fmt.Fprintln(w, renderTable(verdictHeaders, verdictRows(result.Verdicts)))
	for _, v := range result.Verdicts {
		for _, h := range v.Hazards {
			fmt.Fprintf(w, "k=%d hazard: %s\n", v.K, h)
		}
		for _, viol := range v.Violations {
			fmt.Fprintf(w, "k=%d violation: %s\n", v.K, viol)
		}
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d trip count(s) failed", result.Failed))
	}
	fmt.Fprintf(w, "%s %d trip count(s) passed\n", mark(true), result.Passed)
	return nil
}
