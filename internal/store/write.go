package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
)

// WriteRun inserts a generation run record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteRun(ctx context.Context, run ir.GenerationRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seq, command, kernels)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, run.ID, run.Seq, run.Command)
	if err != nil {
		return errors.Wrap(err, "write run")
	}
	return nil
}

// WriteKernel inserts a kernel record and counts it against its run.
// Returns inserted=false if a kernel with the same ID is already cached;
// the cached record is left untouched.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) WriteKernel(ctx context.Context, k ir.KernelRecord) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "write kernel: begin tx")
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO kernels
		(id, strategy_name, strategy_hash, strategy_json, generator_version,
		 block_length, warmup_length, threshold, instructions,
		 listing, listing_hash, short_loop_extent, run_id, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		k.ID, k.StrategyName, k.StrategyHash, k.StrategyJSON, k.GeneratorVersion,
		k.BlockLength, k.WarmupLength, k.Threshold, k.Instructions,
		k.Listing, k.ListingHash, k.ShortLoopExtent, k.RunID, k.Seq,
	)
	if err != nil {
		return false, errors.Wrapf(err, "write kernel %s", k.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "write kernel: rows affected")
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET kernels = kernels + 1 WHERE id = ?`, k.RunID); err != nil {
		return false, errors.Wrap(err, "write kernel: count run")
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "write kernel: commit")
	}
	return true, nil
}

// WriteVerdict records the interpreter result of a kernel for one trip
// count. A later verdict for the same (kernel, k) replaces the earlier one.
func (s *Store) WriteVerdict(ctx context.Context, kernelID string, v ir.Verdict, seq int64) error {
	hazards, err := marshalStrings(v.Hazards)
	if err != nil {
		return errors.Wrap(err, "write verdict")
	}
	violations, err := marshalStrings(v.Violations)
	if err != nil {
		return errors.Wrap(err, "write verdict")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verdicts
		(kernel_id, k, path, max_error, passed, back_edges, taken, executed, hazards, violations, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kernel_id, k) DO UPDATE SET
			path = excluded.path,
			max_error = excluded.max_error,
			passed = excluded.passed,
			back_edges = excluded.back_edges,
			taken = excluded.taken,
			executed = excluded.executed,
			hazards = excluded.hazards,
			violations = excluded.violations,
			seq = excluded.seq
	`,
		kernelID, v.K, v.Path, v.MaxError, v.Passed, v.BackEdges, v.Taken, v.Executed,
		hazards, violations, seq,
	)
	if err != nil {
		return errors.Wrapf(err, "write verdict %s k=%d", kernelID, v.K)
	}
	return nil
}

// PruneGenerator deletes every kernel produced by a generator version other
// than keep, together with its verdicts. Returns the number of kernels
// removed.
func (s *Store) PruneGenerator(ctx context.Context, keep string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kernels WHERE generator_version <> ?`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "prune kernels")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "prune kernels: rows affected")
	}
	return n, nil
}
