package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/queryir"
	"github.com/roach88/kloop/internal/querysql"
)

// ErrNotFound is returned when no cached kernel matches.
var ErrNotFound = errors.New("kernel not found")

// ErrAmbiguous is returned when an ID prefix matches several kernels.
var ErrAmbiguous = errors.New("ambiguous kernel id prefix")

// kernelFields are the kernels columns in scanKernel order.
var kernelFields = []string{
	"id", "strategy_name", "strategy_hash", "strategy_json", "generator_version",
	"block_length", "warmup_length", "threshold", "instructions",
	"listing", "listing_hash", "short_loop_extent", "run_id", "seq",
}

// verdictFields are the verdicts columns in scanVerdict order.
var verdictFields = []string{
	"k", "path", "max_error", "passed", "back_edges", "taken", "executed", "hazards", "violations",
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKernel(row scanner) (ir.KernelRecord, error) {
	var k ir.KernelRecord
	err := row.Scan(
		&k.ID, &k.StrategyName, &k.StrategyHash, &k.StrategyJSON, &k.GeneratorVersion,
		&k.BlockLength, &k.WarmupLength, &k.Threshold, &k.Instructions,
		&k.Listing, &k.ListingHash, &k.ShortLoopExtent, &k.RunID, &k.Seq,
	)
	return k, err
}

// scanVerdict scans the verdict columns after any leading destinations.
func scanVerdict(row scanner, leading ...any) (ir.Verdict, error) {
	var (
		v                   ir.Verdict
		hazards, violations string
	)
	dest := append(leading, &v.K, &v.Path, &v.MaxError, &v.Passed, &v.BackEdges, &v.Taken, &v.Executed, &hazards, &violations)
	if err := row.Scan(dest...); err != nil {
		return ir.Verdict{}, errors.Wrap(err, "scan verdict")
	}
	var err error
	if v.Hazards, err = unmarshalStrings(hazards); err != nil {
		return ir.Verdict{}, err
	}
	if v.Violations, err = unmarshalStrings(violations); err != nil {
		return ir.Verdict{}, err
	}
	return v, nil
}

// ReadKernel returns the kernel with the given ID.
// Returns found=false if it is not cached.
func (s *Store) ReadKernel(ctx context.Context, id string) (ir.KernelRecord, bool, error) {
	found, err := s.selectKernels(ctx, queryir.Equals{Field: "id", Value: ir.IRString(id)}, 1)
	if err != nil {
		return ir.KernelRecord{}, false, errors.WithMessagef(err, "read kernel %s", id)
	}
	if len(found) == 0 {
		return ir.KernelRecord{}, false, nil
	}
	return found[0], true, nil
}

// FindKernel returns the single kernel whose ID starts with prefix.
func (s *Store) FindKernel(ctx context.Context, prefix string) (ir.KernelRecord, error) {
	if prefix == "" {
		return ir.KernelRecord{}, errors.WithMessage(ErrNotFound, "empty prefix")
	}
	found, err := s.selectKernels(ctx, queryir.Prefix{Field: "id", Value: prefix}, 2)
	if err != nil {
		return ir.KernelRecord{}, errors.WithMessage(err, "find kernel")
	}
	switch len(found) {
	case 0:
		return ir.KernelRecord{}, errors.WithMessagef(ErrNotFound, "prefix %q", prefix)
	case 1:
		return found[0], nil
	}
	return ir.KernelRecord{}, errors.WithMessagef(ErrAmbiguous, "prefix %q", prefix)
}

// ListKernels returns every cached kernel ordered by seq.
// Returns an empty slice (not nil) if the cache is empty.
func (s *Store) ListKernels(ctx context.Context) ([]ir.KernelRecord, error) {
	return s.selectKernels(ctx, nil, 0)
}

// KernelsForStrategy returns the cached kernels generated from a strategy
// hash, across generator versions.
func (s *Store) KernelsForStrategy(ctx context.Context, strategyHash string) ([]ir.KernelRecord, error) {
	return s.selectKernels(ctx, queryir.Equals{Field: "strategy_hash", Value: ir.IRString(strategyHash)}, 0)
}

// QueryKernels returns the cached kernels matching filter, ordered by seq.
// A nil filter matches every kernel.
func (s *Store) QueryKernels(ctx context.Context, filter queryir.Predicate) ([]ir.KernelRecord, error) {
	return s.selectKernels(ctx, filter, 0)
}

func (s *Store) selectKernels(ctx context.Context, filter queryir.Predicate, limit int) ([]ir.KernelRecord, error) {
	rows, err := s.compileAndQuery(ctx, queryir.Select{
		From:    queryir.TableKernels,
		Columns: kernelFields,
		Filter:  filter,
		Limit:   limit,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "query kernels")
	}
	defer rows.Close()

	out := []ir.KernelRecord{}
	for rows.Next() {
		k, err := scanKernel(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan kernel")
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate kernels")
	}
	return out, nil
}

func (s *Store) compileAndQuery(ctx context.Context, q queryir.Query) (*sql.Rows, error) {
	query, params, err := querysql.NewSQLCompiler().Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	return rows, errors.Wrap(err, "execute query")
}

// ReadStrategy decodes the strategy a cached kernel was generated from.
func (s *Store) ReadStrategy(ctx context.Context, kernelID string) (ir.Strategy, error) {
	k, found, err := s.ReadKernel(ctx, kernelID)
	if err != nil {
		return ir.Strategy{}, err
	}
	if !found {
		return ir.Strategy{}, errors.WithMessagef(ErrNotFound, "id %s", kernelID)
	}
	return unmarshalStrategy(k.StrategyName, k.StrategyJSON)
}

// ReadVerdicts returns the recorded verdicts of a kernel ordered by trip
// count.
func (s *Store) ReadVerdicts(ctx context.Context, kernelID string) ([]ir.Verdict, error) {
	rows, err := s.compileAndQuery(ctx, queryir.Select{
		From:    queryir.TableVerdicts,
		Columns: verdictFields,
		Filter:  queryir.Equals{Field: "kernel_id", Value: ir.IRString(kernelID)},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "query verdicts")
	}
	defer rows.Close()

	out := []ir.Verdict{}
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate verdicts")
	}
	return out, nil
}

// KernelVerdict is a verdict together with the kernel it was recorded for.
type KernelVerdict struct {
	KernelID     string `json:"kernel_id"`
	StrategyName string `json:"strategy_name"`
	ir.Verdict
}

// QueryVerdicts returns the verdicts matching verdictFilter whose kernels
// match kernelFilter, ordered by kernel seq and then trip count. Nil
// filters match everything.
func (s *Store) QueryVerdicts(ctx context.Context, kernelFilter, verdictFilter queryir.Predicate) ([]KernelVerdict, error) {
	rows, err := s.compileAndQuery(ctx, queryir.Join{
		Left:  queryir.Select{From: queryir.TableKernels, Columns: []string{"id", "strategy_name"}, Filter: kernelFilter},
		Right: queryir.Select{From: queryir.TableVerdicts, Columns: verdictFields, Filter: verdictFilter},
		On:    [2]string{"id", "kernel_id"},
	})
	if err != nil {
		return nil, errors.WithMessage(err, "query verdicts")
	}
	defer rows.Close()

	out := []KernelVerdict{}
	for rows.Next() {
		var kv KernelVerdict
		kv.Verdict, err = scanVerdict(rows, &kv.KernelID, &kv.StrategyName)
		if err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate verdicts")
	}
	return out, nil
}

// ListRuns returns every generation run ordered by seq.
func (s *Store) ListRuns(ctx context.Context) ([]ir.GenerationRun, error) {
	return s.QueryRuns(ctx, nil)
}

// QueryRuns returns the generation runs matching filter, ordered by seq.
func (s *Store) QueryRuns(ctx context.Context, filter queryir.Predicate) ([]ir.GenerationRun, error) {
	rows, err := s.compileAndQuery(ctx, queryir.Select{
		From:    queryir.TableRuns,
		Columns: []string{"id", "seq", "command", "kernels"},
		Filter:  filter,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "query runs")
	}
	defer rows.Close()

	out := []ir.GenerationRun{}
	for rows.Next() {
		var r ir.GenerationRun
		if err := rows.Scan(&r.ID, &r.Seq, &r.Command, &r.Kernels); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate runs")
	}
	return out, nil
}

// MaxSeq returns the highest seq recorded in the cache, so a new clock can
// resume after it.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM runs
			UNION ALL SELECT seq FROM kernels
			UNION ALL SELECT seq FROM verdicts
		)
	`).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "max seq")
	}
	return seq.Int64, nil
}
