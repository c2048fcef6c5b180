package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/compiler"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
	"github.com/roach88/kloop/internal/store"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	Database        string
	Strategies      []string
	ShortLoopExtent int
	ListingDir      string

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator
}

// GeneratedKernel summarises one generated kernel.
type GeneratedKernel struct {
	Strategy     string `json:"strategy"`
	ID           string `json:"id"`
	BlockLength  int    `json:"block_length"`
	WarmupLength int    `json:"warmup_length"`
	Threshold    int    `json:"threshold"`
	Instructions int    `json:"instructions"`
	Cached       bool   `json:"cached"`
	// Buffering names the staging-buffer depth; empty without SLM.
	Buffering     string `json:"buffering,omitempty"`
	NamedBarriers bool   `json:"named_barriers,omitempty"`
}

// GenerateResult holds the generate command result.
type GenerateResult struct {
	RunID   string            `json:"run_id,omitempty"`
	Kernels []GeneratedKernel `json:"kernels"`
	Failed  []CLIError        `json:"failed,omitempty"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <strategies-dir>",
		Short: "Generate k-loops and cache them",
		Long: `Generate the k-loop of every strategy in a CUE directory.

Each strategy is validated, analysed into a schedule and materialized into
a program. With --db the kernels are cached under a new generation run;
kernels already cached for the same strategy, options and generator
version are reported as cache hits.

Exit codes:
  0 - Every strategy generated
  1 - One or more strategies were rejected
  2 - Command error (invalid paths, compile errors, database errors)

Examples:
  kloop generate ./strategies
  kloop generate ./strategies --db ./kloop.db --strategy slm_double
  kloop generate ./strategies --listings ./out`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite kernel cache")
	cmd.Flags().StringSliceVar(&opts.Strategies, "strategy", nil, "generate only the named strategies")
	cmd.Flags().IntVar(&opts.ShortLoopExtent, "short-loop-extent", 0, "route trip counts below this through the short loop")
	cmd.Flags().StringVar(&opts.ListingDir, "listings", "", "write each program listing to <dir>/<strategy>.kloop")

	return cmd
}

func runGenerate(ctx context.Context, opts *GenerateOptions, dir string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	strategies, err := loadSelected(formatter, dir, opts.Strategies)
	if err != nil {
		return err
	}

	var session *cacheSession
	if opts.Database != "" {
		session, err = openSession(ctx, opts.Database, opts.RunIDs, "generate "+dir)
		if err != nil {
			_ = formatter.Error(ErrCodeCache, err.Error(), nil)
			return WrapExitError(ExitCommandError, "open kernel cache", err)
		}
		defer session.Close()
	}
	if opts.ListingDir != "" {
		if err := os.MkdirAll(opts.ListingDir, 0o755); err != nil {
			_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "create listing directory", err)
		}
	}

	result := GenerateResult{Kernels: []GeneratedKernel{}}
	if session != nil {
		result.RunID = session.run.ID
	}
	for _, s := range strategies {
		formatter.VerboseLog("Generating %s", s.Name)
		kernel, cliErr := generateKernel(s, opts.ShortLoopExtent)
		if cliErr != nil {
			result.Failed = append(result.Failed, *cliErr)
			continue
		}
		gk, err := summarise(kernel)
		if err != nil {
			return WrapExitError(ExitCommandError, "identify kernel", err)
		}
		if session != nil {
			rec, inserted, err := session.cacheKernel(ctx, kernel)
			if err != nil {
				_ = formatter.Error(ErrCodeCache, err.Error(), nil)
				return WrapExitError(ExitCommandError, "cache kernel", err)
			}
			gk.ID, gk.Cached = rec.ID, !inserted
		}
		if opts.ListingDir != "" {
			path := filepath.Join(opts.ListingDir, s.Name+".kloop")
			if err := os.WriteFile(path, []byte(kernel.Program.Listing()), 0o644); err != nil {
				_ = formatter.Error(ErrCodeWriteFailed, err.Error(), nil)
				return WrapExitError(ExitCommandError, "write listing", err)
			}
		}
		result.Kernels = append(result.Kernels, gk)
	}

	return outputGenerate(formatter, result)
}

// generateKernel validates and generates s. Rejections come back as a
// CLIError carrying the validation or generation code.
func generateKernel(s ir.Strategy, shortLoopExtent int) (*kloop.Kernel, *CLIError) {
	if verrs := compiler.Validate(s); len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, v := range verrs {
			msgs[i] = v.Error()
		}
		return nil, &CLIError{Code: verrs[0].Code, Message: fmt.Sprintf("%s: %s", s.Name, verrs[0].Message), Details: msgs}
	}
	kernel, err := kloop.Generate(s, kloop.WithShortLoopExtent(shortLoopExtent))
	if err != nil {
		klog.V(1).Infof("strategy %q rejected: %v", s.Name, err)
		cliErr := toCLIError(err)
		cliErr.Message = fmt.Sprintf("%s: %v", s.Name, err)
		return nil, &cliErr
	}
	return kernel, nil
}

func summarise(k *kloop.Kernel) (GeneratedKernel, error) {
	id, err := k.ID()
	if err != nil {
		return GeneratedKernel{}, err
	}
	g := GeneratedKernel{
		Strategy:     k.Strategy.Name,
		ID:           id,
		BlockLength:  k.Schedule.BlockLength,
		WarmupLength: k.Schedule.WarmupLength,
		Threshold:    k.Schedule.Threshold,
		Instructions: len(k.Program.Instrs),
	}
	if ctl := k.Barriers; ctl != nil && ctl.Depth().Valid() {
		g.Buffering = ctl.Depth().String()
		g.NamedBarriers = ctl.Named()
	}
	return g, nil
}

func outputGenerate(formatter *OutputFormatter, result GenerateResult) error {
	failed := len(result.Failed)
	if formatter.Format == "json" {
		if failed > 0 {
			if err := formatter.Failure(result, result.Failed[0]); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d strategy(s) rejected", failed))
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	if len(result.Kernels) > 0 {
		rows := make([][]string, len(result.Kernels))
		for i, k := range result.Kernels {
			cache := "-"
			if result.RunID != "" {
				cache = "new"
				if k.Cached {
					cache = "hit"
				}
			}
			rows[i] = []string{
				k.Strategy, shortID(k.ID),
				fmt.Sprint(k.BlockLength), fmt.Sprint(k.WarmupLength), fmt.Sprint(k.Threshold),
				count(k.Instructions), cache,
			}
		}
		fmt.Fprintln(w, renderTable([]string{"Strategy", "Kernel", "U", "W", "R", "Instructions", "Cache"}, rows))
	}
	for _, e := range result.Failed {
		fmt.Fprintf(w, "%s %s: %s\n", mark(false), e.Code, e.Message)
	}
	if result.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", result.RunID)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d strategy(s) rejected", failed))
	}
	fmt.Fprintf(w, "%s Generated %d kernel(s)\n", mark(true), len(result.Kernels))
	return nil
}

// cacheSession is one generation run against an open kernel cache.
type cacheSession struct {
	store *store.Store
	clock *engine.Clock
	run   ir.GenerationRun
}

// openSession opens the cache at path and starts a run. The clock resumes
// after the highest seq already cached.
func openSession(ctx context.Context, path string, runIDs engine.RunIDGenerator, command string) (*cacheSession, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}
	if runIDs == nil {
		runIDs = engine.UUIDv7Generator{}
	}
	clock := engine.NewClockAt(maxSeq)
	run := ir.GenerationRun{ID: runIDs.Generate(), Seq: clock.Next(), Command: strings.TrimSpace(command)}
	if err := st.WriteRun(ctx, run); err != nil {
		st.Close()
		return nil, err
	}
	klog.V(2).Infof("run %s started at seq %d", run.ID, run.Seq)
	return &cacheSession{store: st, clock: clock, run: run}, nil
}

func (c *cacheSession) Close() error {
	return c.store.Close()
}

// cacheKernel records k under the session's run. inserted is false for a
// cache hit; rec is then the kernel's fresh record, not the cached one.
func (c *cacheSession) cacheKernel(ctx context.Context, k *kloop.Kernel) (rec ir.KernelRecord, inserted bool, err error) {
	rec, err = k.Record(c.run.ID, c.clock.Next())
	if err != nil {
		return rec, false, err
	}
	inserted, err = c.store.WriteKernel(ctx, rec)
	return rec, inserted, err
}

// writeVerdicts caches the verdicts of a kernel.
func (c *cacheSession) writeVerdicts(ctx context.Context, kernelID string, verdicts []ir.Verdict) error {
	for _, v := range verdicts {
		if err := c.store.WriteVerdict(ctx, kernelID, v, c.clock.Next()); err != nil {
			return err
		}
	}
	return nil
}
