package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
	"github.com/roach88/kloop/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Kernel   string // optional ID prefix - specific kernel only
}

// Replay statuses.
const (
	ReplayMatch    = "match"
	ReplayMismatch = "mismatch"
	ReplayStale    = "stale"
	ReplayRejected = "rejected"
)

// ReplayKernelResult holds the replay result for a single cached kernel.
type ReplayKernelResult struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Kernels          []ReplayKernelResult `json:"kernels"`
	Total            int                  `json:"total"`
	AllDeterministic bool                 `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Regenerate cached kernels and verify determinism",
		Long: `Regenerate every cached kernel from its stored strategy and options
and compare the result with the cache.

A kernel replays deterministically when regeneration yields the same
kernel ID and a byte-identical listing. Kernels cached by another
generator version are reported as stale and skipped.

Exit codes:
  0 - All kernels are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  kloop replay --db ./kloop.db
  kloop replay --db ./kloop.db --kernel 3fa9c1
  kloop replay --db ./kloop.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Kernel, "kernel", "", "replay the kernel with this ID prefix only")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openExisting(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeCache, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var records []ir.KernelRecord
	if opts.Kernel != "" {
		rec, err := st.FindKernel(ctx, opts.Kernel)
		if err != nil {
			_ = formatter.Error(ErrCodeCache, err.Error(), nil)
			return WrapExitError(ExitCommandError, "find kernel", err)
		}
		records = []ir.KernelRecord{rec}
	} else {
		records, err = st.ListKernels(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list kernels", err)
		}
	}

	result := ReplayResult{
		Kernels:          make([]ReplayKernelResult, 0, len(records)),
		Total:            len(records),
		AllDeterministic: true,
	}
	for _, rec := range records {
		r, err := replayKernel(ctx, st, rec)
		if err != nil {
			return WrapExitError(ExitCommandError, "replay kernel "+shortID(rec.ID), err)
		}
		formatter.VerboseLog("%s %s: %s", shortID(r.ID), r.Strategy, r.Status)
		if r.Status == ReplayMismatch || r.Status == ReplayRejected {
			result.AllDeterministic = false
		}
		result.Kernels = append(result.Kernels, r)
	}

	return outputReplay(formatter, result)
}

// replayKernel regenerates one cached kernel and compares it.
func replayKernel(ctx context.Context, st *store.Store, rec ir.KernelRecord) (ReplayKernelResult, error) {
	r := ReplayKernelResult{ID: rec.ID, Strategy: rec.StrategyName}
	if rec.GeneratorVersion != ir.GeneratorVersion {
		r.Status = ReplayStale
		r.Detail = fmt.Sprintf("generated by %s, current %s", rec.GeneratorVersion, ir.GeneratorVersion)
		return r, nil
	}
	s, err := st.ReadStrategy(ctx, rec.ID)
	if err != nil {
		return r, err
	}
	kernel, err := kloop.Generate(s, kloop.WithShortLoopExtent(rec.ShortLoopExtent))
	if err != nil {
		r.Status, r.Detail = ReplayRejected, err.Error()
		return r, nil
	}
	fresh, err := kernel.Record(rec.RunID, rec.Seq)
	if err != nil {
		return r, err
	}

	switch {
	case fresh.ID != rec.ID:
		r.Status, r.Detail = ReplayMismatch, "kernel id "+shortID(fresh.ID)
	case fresh.ListingHash != rec.ListingHash:
		r.Status, r.Detail = ReplayMismatch, firstListingDiff(rec.Listing, fresh.Listing)
	case fresh.BlockLength != rec.BlockLength || fresh.WarmupLength != rec.WarmupLength || fresh.Threshold != rec.Threshold:
		r.Status = ReplayMismatch
		r.Detail = fmt.Sprintf("schedule U=%d W=%d R=%d", fresh.BlockLength, fresh.WarmupLength, fresh.Threshold)
	default:
		r.Status = ReplayMatch
	}
	return r, nil
}

// firstListingDiff describes the first differing listing line.
func firstListingDiff(cached, fresh string) string {
	a, b := splitLines(cached), splitLines(fresh)
	for i := range max(len(a), len(b)) {
		var x, y string
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			return fmt.Sprintf("listing line %d: cached %q, regenerated %q", i+1, x, y)
		}
	}
	return "listing hash differs"
}

func outputReplay(formatter *OutputFormatter, result ReplayResult) error {
	failed := 0
	for _, k := range result.Kernels {
		if k.Status == ReplayMismatch || k.Status == ReplayRejected {
			failed++
		}
	}
	msg := fmt.Sprintf("%d kernel(s) did not replay deterministically", failed)

	if formatter.Format == "json" {
		if result.AllDeterministic {
			return formatter.Success(result)
		}
		if err := formatter.Failure(result, CLIError{Code: "E_NONDETERMINISTIC", Message: msg}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	w := formatter.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No kernels found in database.")
		return nil
	}
	rows := make([][]string, len(result.Kernels))
	for i, k := range result.Kernels {
		ok := k.Status == ReplayMatch || k.Status == ReplayStale
		rows[i] = []string{shortID(k.ID), k.Strategy, k.Status, k.Detail, mark(ok)}
	}
	fmt.Fprintln(w, renderTable([]string{"Kernel", "Strategy", "Status", "Detail", "OK"}, rows))
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, msg)
	}
	fmt.Fprintf(w, "%s All %d kernel(s) deterministic\n", mark(true), result.Total)
	return nil
}
