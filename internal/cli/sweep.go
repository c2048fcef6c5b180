package cli

import (
	"context"
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Strategies []string
	MaxK       int
	Seed       int64
	Database   string
	NoProgress bool

	// RunIDs allows overriding the run ID generator (for testing).
	RunIDs engine.RunIDGenerator
}

// SweepStrategy summarises the verdicts of one strategy.
type SweepStrategy struct {
	Kernel   GeneratedKernel `json:"kernel"`
	Trips    int             `json:"trips"`
	Failed   []int           `json:"failed,omitempty"`
	MaxError float64         `json:"max_error"`
}

// SweepResult holds the sweep command result.
type SweepResult struct {
	Strategies []SweepStrategy `json:"strategies"`
	Rejected   []CLIError      `json:"rejected,omitempty"`
	Trips      int             `json:"trips"`
	Failed     int             `json:"failed"`
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep <strategies-dir>",
		Short: "Verify every strategy over a range of trip counts",
		Long: `Generate every strategy and execute each kernel for trip counts 0..max-k.

Without --max-k each kernel runs its own default range: the short loop
plus two main-loop blocks. Progress is reported on stderr.

Exit codes:
  0 - Every verdict passed
  1 - A strategy was rejected or a verdict failed
  2 - Command error

Examples:
  kloop sweep ./strategies
  kloop sweep ./strategies --max-k 64 --db ./kloop.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Strategies, "strategy", nil, "sweep only the named strategies")
	cmd.Flags().IntVar(&opts.MaxK, "max-k", 0, "highest trip count to execute")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "operand data seed")
	cmd.Flags().StringVar(&opts.Database, "db", "", "cache kernels and verdicts in this SQLite database")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "disable the progress bar")

	return cmd
}

func runSweep(ctx context.Context, opts *SweepOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	strategies, err := loadSelected(formatter, dir, opts.Strategies)
	if err != nil {
		return err
	}

	type job struct {
		kernel *kloop.Kernel
		ks     []int
	}
	result := SweepResult{Strategies: []SweepStrategy{}}
	var jobs []job
	for _, s := range strategies {
		kernel, cliErr := generateKernel(s, 0)
		if cliErr != nil {
			result.Rejected = append(result.Rejected, *cliErr)
			continue
		}
		ks := tripCounts(kernel, nil, opts.MaxK)
		jobs = append(jobs, job{kernel, ks})
		result.Trips += len(ks)
	}

	var session *cacheSession
	if opts.Database != "" {
		session, err = openSession(ctx, opts.Database, opts.RunIDs, "sweep "+dir)
		if err != nil {
			_ = formatter.Error(ErrCodeCache, err.Error(), nil)
			return WrapExitError(ExitCommandError, "open kernel cache", err)
		}
		defer session.Close()
	}

	bar := progressbar.NewOptions(result.Trips,
		progressbar.OptionSetWriter(formatter.GetErrWriter()),
		progressbar.OptionSetDescription("sweep"),
		progressbar.OptionSetItsString("trips"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(!opts.NoProgress && formatter.Format != "json"),
	)
	for _, j := range jobs {
		gk, err := summarise(j.kernel)
		if err != nil {
			return WrapExitError(ExitCommandError, "identify kernel", err)
		}
		summary := SweepStrategy{Kernel: gk, Trips: len(j.ks)}
		verdicts := make([]ir.Verdict, 0, len(j.ks))
		for _, k := range j.ks {
			v, err := j.kernel.Verify(ir.Problem{K: k, Seed: opts.Seed})
			if err != nil {
				_ = formatter.Error(ErrCodeVerifyFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "execute kernel", err)
			}
			verdicts = append(verdicts, v)
			summary.MaxError = max(summary.MaxError, v.MaxError)
			if !v.Passed {
				summary.Failed = append(summary.Failed, k)
				result.Failed++
			}
			_ = bar.Add(1)
		}
		if session != nil {
			rec, _, err := session.cacheKernel(ctx, j.kernel)
			if err == nil {
				err = session.writeVerdicts(ctx, rec.ID, verdicts)
			}
			if err != nil {
				_ = formatter.Error(ErrCodeCache, err.Error(), nil)
				return WrapExitError(ExitCommandError, "cache verdicts", err)
			}
		}
		result.Strategies = append(result.Strategies, summary)
	}
	_ = bar.Finish()

	return outputSweep(formatter, result)
}

func outputSweep(formatter *OutputFormatter, result SweepResult) error {
	bad := result.Failed > 0 || len(result.Rejected) > 0
	summary := fmt.Sprintf("%d of %d trip count(s) failed, %d strategy(s) rejected",
		result.Failed, result.Trips, len(result.Rejected))

	if formatter.Format == "json" {
		if !bad {
			return formatter.Success(result)
		}
		cliErr := CLIError{Code: ErrCodeVerifyFailed, Message: summary}
		if len(result.Rejected) > 0 {
			cliErr = result.Rejected[0]
		}
		if err := formatter.Failure(result, cliErr); err != nil {
			return err
		}
		return NewExitError(ExitFailure, summary)
	}

	w := formatter.Writer
	rows := make([][]string, len(result.Strategies))
	for i, s := range result.Strategies {
		failed := "-"
		if len(s.Failed) > 0 {
			failed = fmt.Sprint(s.Failed)
		}
		rows[i] = []string{
			s.Kernel.Strategy,
			fmt.Sprintf("%d/%d/%d", s.Kernel.BlockLength, s.Kernel.WarmupLength, s.Kernel.Threshold),
			count(s.Trips), failed, formatError(s.MaxError), mark(len(s.Failed) == 0),
		}
	}
	fmt.Fprintln(w, renderTable([]string{"Strategy", "U/W/R", "Trips", "Failed k", "Max error", "Pass"}, rows))
	for _, e := range result.Rejected {
		fmt.Fprintf(w, "%s %s: %s\n", mark(false), e.Code, e.Message)
	}
	if bad {
		return NewExitError(ExitFailure, summary)
	}
	fmt.Fprintf(w, "%s %s trip count(s) passed across %d strategy(s)\n", mark(true), count(result.Trips), len(result.Strategies))
	return nil
}
