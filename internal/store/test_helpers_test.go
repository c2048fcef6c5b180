package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s := must.M1(Open(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun writes a run with the given ID and seq.
func createTestRun(t *testing.T, s *Store, id string, seq int64) ir.GenerationRun {
	t.Helper()
	run := ir.GenerationRun{ID: id, Seq: seq, Command: "generate"}
	require.NoError(t, s.WriteRun(context.Background(), run))
	return run
}

// createTestKernel builds a kernel record for strategy s under run.
func createTestKernel(t *testing.T, s ir.Strategy, runID string, seq int64) ir.KernelRecord {
	t.Helper()
	sh := ir.MustStrategyHash(s)
	id := must.M1(ir.KernelID(sh, nil))
	listing := "add r0, r0, -1\n"
	return ir.KernelRecord{
		ID:               id,
		StrategyName:     s.Name,
		StrategyHash:     sh,
		StrategyJSON:     must.M1(MarshalStrategy(s)),
		GeneratorVersion: ir.GeneratorVersion,
		BlockLength:      4,
		WarmupLength:     0,
		Threshold:        4,
		Instructions:     12,
		Listing:          listing,
		ListingHash:      ir.ListingHash([]byte(listing)),
		RunID:            runID,
		Seq:              seq,
	}
}
