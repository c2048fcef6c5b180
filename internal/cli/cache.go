package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/queryir"
	"github.com/roach88/kloop/internal/store"
)

// CacheOptions holds flags shared by the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Database    string
	ShowListing bool

	// Where holds column<op>value filter terms. For verdicts, KernelWhere
	// filters the kernels the verdicts belong to.
	Where       []string
	KernelWhere []string
}

// KernelDetail is a cached kernel with its verdicts.
type KernelDetail struct {
	Kernel   ir.KernelRecord `json:"kernel"`
	Verdicts []ir.Verdict    `json:"verdicts"`
}

// PruneResult reports a prune.
type PruneResult struct {
	Kept    string `json:"generator_version"`
	Removed int64  `json:"removed"`
}

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the kernel cache",
		Long: `Inspect and maintain the SQLite kernel cache written by generate,
simulate and sweep.

Examples:
  kloop cache list --db ./kloop.db
  kloop cache list --db ./kloop.db --where strategy_name=basic --where block_length>=2
  kloop cache verdicts --db ./kloop.db --where passed=false
  kloop cache show 3fa9c1 --db ./kloop.db --listing
  kloop cache runs --db ./kloop.db
  kloop cache prune --db ./kloop.db`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List cached kernels",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runCacheList(ctx, st, f, opts.Where)
			})
		},
	}
	list.Flags().StringArrayVar(&opts.Where, "where", nil, "filter kernels by column<op>value (repeatable)")

	verdicts := &cobra.Command{
		Use:   "verdicts",
		Short: "List recorded verdicts across kernels",
		Long: `List recorded verdicts across cached kernels.

Filters are column<op>value terms with op one of =, <, <=, >, >= or ^=
(text prefix). Repeated terms must all hold.

Verdict columns: k, path, passed, back_edges, taken, executed, seq
Kernel columns:  id, strategy_name, strategy_hash, generator_version,
                 block_length, warmup_length, threshold, short_loop_extent`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runCacheVerdicts(ctx, st, f, opts.KernelWhere, opts.Where)
			})
		},
	}
	verdicts.Flags().StringArrayVar(&opts.Where, "where", nil, "filter verdicts by column<op>value (repeatable)")
	verdicts.Flags().StringArrayVar(&opts.KernelWhere, "kernel-where", nil, "filter the owning kernels by column<op>value (repeatable)")

	show := &cobra.Command{
		Use:           "show <kernel-id-prefix>",
		Short:         "Show a cached kernel and its verdicts",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runCacheShow(ctx, st, f, args[0], opts.ShowListing)
			})
		},
	}
	show.Flags().BoolVar(&opts.ShowListing, "listing", false, "print the program listing")

	runs := &cobra.Command{
		Use:           "runs",
		Short:         "List generation runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runCacheRuns(ctx, st, f, opts.Where)
			})
		},
	}
	runs.Flags().StringArrayVar(&opts.Where, "where", nil, "filter runs by column<op>value (repeatable)")

	prune := &cobra.Command{
		Use:           "prune",
		Short:         "Remove kernels cached by other generator versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, opts, func(ctx context.Context, st *store.Store, f *OutputFormatter) error {
				return runCachePrune(ctx, st, f)
			})
		},
	}

	cmd.AddCommand(list, show, verdicts, runs, prune)
	return cmd
}

// openExisting opens a cache that must already exist; store.Open would
// silently create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}

func withCache(cmd *cobra.Command, opts *CacheOptions, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	ctx := cmd.Context()
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
	return fn(ctx, st, formatter)
}

// parseWhere parses filter terms, reporting a bad term as E013.
func parseWhere(f *OutputFormatter, table queryir.Table, terms []string) (queryir.Predicate, error) {
	pred, err := queryir.ParseFilter(table, terms)
	if err != nil {
		_ = f.Error(ErrCodeInvalidFilter, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "invalid filter", err)
	}
	return pred, nil
}

func runCacheList(ctx context.Context, st *store.Store, f *OutputFormatter, where []string) error {
	filter, err := parseWhere(f, queryir.TableKernels, where)
	if err != nil {
		return err
	}
	kernels, err := st.QueryKernels(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list kernels", err)
	}
	if f.Format == "json" {
		return f.Success(kernels)
	}
	if len(kernels) == 0 {
		fmt.Fprintln(f.Writer, "No kernels cached.")
		return nil
	}
	rows := make([][]string, len(kernels))
	for i, k := range kernels {
		rows[i] = []string{
			shortID(k.ID), k.StrategyName, shortID(k.StrategyHash),
			fmt.Sprint(k.BlockLength), fmt.Sprint(k.WarmupLength), fmt.Sprint(k.Threshold),
			count(k.Instructions), k.GeneratorVersion, fmt.Sprint(k.Seq),
		}
	}
	fmt.Fprintln(f.Writer, renderTable([]string{"Kernel", "Strategy", "Strategy hash", "U", "W", "R", "Instructions", "Generator", "Seq"}, rows))
	fmt.Fprintf(f.Writer, "%s kernel(s)\n", count(len(kernels)))
	return nil
}

func runCacheShow(ctx context.Context, st *store.Store, f *OutputFormatter, prefix string, listing bool) error {
	rec, err := st.FindKernel(ctx, prefix)
	if err != nil {
		_ = f.Error(ErrCodeCache, err.Error(), nil)
		return WrapExitError(ExitCommandError, "find kernel", err)
	}
	verdicts, err := st.ReadVerdicts(ctx, rec.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "read verdicts", err)
	}
	if f.Format == "json" {
		return f.Success(KernelDetail{Kernel: rec, Verdicts: verdicts})
	}

	w := f.Writer
	fmt.Fprintln(w, titleStyle.Render(rec.StrategyName))
	fmt.Fprintf(w, "  kernel     %s\n", rec.ID)
	fmt.Fprintf(w, "  strategy   %s\n", rec.StrategyHash)
	fmt.Fprintf(w, "  generator  %s\n", rec.GeneratorVersion)
	fmt.Fprintf(w, "  schedule   U=%d W=%d R=%d\n", rec.BlockLength, rec.WarmupLength, rec.Threshold)
	if rec.ShortLoopExtent > 0 {
		fmt.Fprintf(w, "  short loop extent %d\n", rec.ShortLoopExtent)
	}
	fmt.Fprintf(w, "  program    %s instructions, %s lines\n", count(rec.Instructions), count(len(splitLines(rec.Listing))))
	fmt.Fprintf(w, "  run        %s (seq %d)\n", rec.RunID, rec.Seq)
	fmt.Fprintf(w, "  knobs      %s\n", rec.StrategyJSON)
	if len(verdicts) > 0 {
		fmt.Fprintln(w, renderTable(verdictHeaders, verdictRows(verdicts)))
	}
	if listing {
		fmt.Fprintln(w, rec.Listing)
	}
	return nil
}

func runCacheVerdicts(ctx context.Context, st *store.Store, f *OutputFormatter, kernelWhere, where []string) error {
	kernelFilter, err := parseWhere(f, queryir.TableKernels, kernelWhere)
	if err != nil {
		return err
	}
	verdictFilter, err := parseWhere(f, queryir.TableVerdicts, where)
	if err != nil {
		return err
	}
	verdicts, err := st.QueryVerdicts(ctx, kernelFilter, verdictFilter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query verdicts", err)
	}
	if f.Format == "json" {
		return f.Success(verdicts)
	}
	if len(verdicts) == 0 {
		fmt.Fprintln(f.Writer, "No verdicts match.")
		return nil
	}
	rows := make([][]string, len(verdicts))
	failed := 0
	for i, kv := range verdicts {
		rows[i] = append([]string{shortID(kv.KernelID), kv.StrategyName}, verdictRows([]ir.Verdict{kv.Verdict})[0]...)
		if !kv.Passed {
			failed++
		}
	}
	fmt.Fprintln(f.Writer, renderTable(append([]string{"Kernel", "Strategy"}, verdictHeaders...), rows))
	fmt.Fprintf(f.Writer, "%s verdict(s), %s failed\n", count(len(verdicts)), count(failed))
	return nil
}

func runCacheRuns(ctx context.Context, st *store.Store, f *OutputFormatter, where []string) error {
	filter, err := parseWhere(f, queryir.TableRuns, where)
	if err != nil {
		return err
	}
	runs, err := st.QueryRuns(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if f.Format == "json" {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No generation runs recorded.")
		return nil
	}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{r.ID, fmt.Sprint(r.Seq), r.Command, count(r.Kernels)}
	}
	fmt.Fprintln(f.Writer, renderTable([]string{"Run", "Seq", "Command", "New kernels"}, rows))
	return nil
}

func runCachePrune(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	n, err := st.PruneGenerator(ctx, ir.GeneratorVersion)
	if err != nil {
		return WrapExitError(ExitCommandError, "prune cache", err)
	}
	result := PruneResult{Kept: ir.GeneratorVersion, Removed: n}
	if f.Format == "json" {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "%s Removed %s kernel(s) not generated by %s\n", mark(true), count(int(n)), ir.GeneratorVersion)
	return nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
