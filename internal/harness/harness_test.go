package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/store"
	"github.com/roach88/kloop/internal/testutil"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func intPtr(n int) *int { return &n }

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}

func TestRun_BasicVerdicts(t *testing.T) {
	result, err := Run(loadTestdata(t, "basic_trip_counts"))
	require.NoError(t, err)
	require.True(t, result.Pass, "%v", result.Errors)

	require.NotNil(t, result.Kernel)
	assert.Equal(t, "basic", result.Kernel.StrategyName)
	assert.Equal(t, testutil.DefaultRunID, result.Kernel.RunID)
	assert.NotEmpty(t, result.Kernel.Listing)

	require.Len(t, result.Verdicts, 3)
	for i, k := range []int{0, 1, 3} {
		assert.Equal(t, k, result.Verdicts[i].K)
	}
	v, ok := result.Verdict(0)
	require.True(t, ok)
	assert.Equal(t, ir.PathShort, v.Path)
	assert.Zero(t, v.BackEdges)

	_, ok = result.Verdict(2)
	assert.False(t, ok)
}

func TestRun_DefaultTripCounts(t *testing.T) {
	dir := t.TempDir()
	s := &Scenario{
		Name:        "defaults",
		Description: "d",
		Specs:       []string{createTestSpec(t, dir)},
		Strategy:    "basic",
		Assertions:  []Assertion{{Type: AssertAllPass}},
	}
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, "%v", result.Errors)

	// ShortLimit 1 and block length 1 give 0..4.
	require.Len(t, result.Verdicts, 5)
	assert.Equal(t, 4, result.Verdicts[4].K)
}

func TestRun_FailingAssertions(t *testing.T) {
	dir := t.TempDir()
	s := &Scenario{
		Name:        "wrong",
		Description: "d",
		Specs:       []string{createTestSpec(t, dir)},
		Strategy:    "basic",
		TripCounts:  []int{0, 5},
		Assertions: []Assertion{
			{Type: AssertSchedule, BlockLength: intPtr(2)},
			{Type: AssertBackEdges, K: 5, Executed: 5, Taken: 5},
			{Type: AssertPath, K: 0, Path: ir.PathMain},
			{Type: AssertPath, K: 7, Path: ir.PathMain},
			{Type: AssertOpCount, Op: "jge", Count: 2},
			{Type: AssertError, Code: "E201"},
		},
	}
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 6)
	assert.Contains(t, result.Errors[0], "block_length=1 (want 2)")
	assert.Contains(t, result.Errors[1], "executed=5 taken=4")
	assert.Contains(t, result.Errors[2], "short")
	assert.Contains(t, result.Errors[3], "trip count not executed")
	assert.Contains(t, result.Errors[4], "Actual: 1")
	assert.Contains(t, result.Errors[5], "generation succeeded")
}

func TestRun_UnexpectedGenerationError(t *testing.T) {
	s := loadTestdata(t, "unroll_mismatch")
	s.Assertions = []Assertion{{Type: AssertAllPass}}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "E201", result.ErrorCode)
	assert.Nil(t, result.Kernel)
	assert.Empty(t, result.Verdicts)
	// One for the generation failure, one for all_pass without a kernel.
	assert.Len(t, result.Errors, 2)
}

func TestRun_ErrorCodes(t *testing.T) {
	tests := map[string]string{
		"unroll_mismatch":       "E201",
		"sums_without_remask":   "E116",
		"b_sums_without_remask": "E116",
		"f16_staged":            "E301",
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestdata(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
			assert.Equal(t, code, result.ErrorCode)
			assert.NotEmpty(t, result.ErrorMessage)
		})
	}
}

func TestRun_UnknownStrategy(t *testing.T) {
	s := loadTestdata(t, "basic_trip_counts")
	s.Strategy = "missing"
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `strategy "missing" not found`)
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestdata(t, "slm_double")
	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHarness_SharedStore(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		runIDs: testutil.NewSequentialRunIDs("run"),
	}
	ctx := context.Background()
	for _, name := range []string{"basic_trip_counts", "forced_short"} {
		result, err := h.Run(ctx, loadTestdata(t, name))
		require.NoError(t, err)
		require.True(t, result.Pass, "%v", result.Errors)
	}

	runs, err := st.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-0001", runs[0].ID)
	assert.Equal(t, "run-0002", runs[1].ID)

	// The forced short-loop extent changes the kernel, so both are cached.
	kernels, err := st.ListKernels(ctx)
	require.NoError(t, err)
	assert.Len(t, kernels, 2)
}
