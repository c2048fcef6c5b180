package harness

import (
	"context"
	"fmt"

	"cuelang.org/go/cue/cuecontext"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/compiler"
	"github.com/roach88/kloop/internal/engine"
	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/kloop"
	"github.com/roach88/kloop/internal/store"
	"github.com/roach88/kloop/internal/testutil"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Kernel is the cached record of the generated kernel; nil if
	// generation failed.
	Kernel *ir.KernelRecord `json:"kernel,omitempty"`

	// Verdicts holds one entry per executed trip count, ordered by k.
	Verdicts []ir.Verdict `json:"verdicts"`

	// ErrorCode and ErrorMessage describe a validation or generation
	// failure.
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Verdicts: []ir.Verdict{}, Errors: []string{}}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Verdict returns the verdict for trip count k.
func (r *Result) Verdict(k int) (ir.Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.K == k {
			return v, true
		}
	}
	return ir.Verdict{}, false
}

// Harness executes scenarios against a kernel cache.
type Harness struct {
	store  *store.Store
	clock  engine.Sequencer
	runIDs engine.RunIDGenerator
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory cache with a deterministic clock
// and run ID. A returned error means the scenario could not run at all;
// validation and generation failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, errors.Wrap(err, "create in-memory store")
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewDeterministicClock(),
		runIDs: testutil.NewFixedRunID(scenario.RunID),
	}
	return h.Run(context.Background(), scenario)
}

// Run executes a scenario against the harness's cache.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	s, err := loadStrategy(scenario)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	kernel, err := h.generate(s, scenario, result)
	if err != nil {
		return nil, err
	}
	if kernel != nil {
		if err := h.execute(ctx, kernel, scenario, result); err != nil {
			return nil, err
		}
	}

	if result.ErrorCode != "" && scenario.expectsError() == "" {
		result.AddError(fmt.Sprintf("generation failed [%s]: %s", result.ErrorCode, result.ErrorMessage))
	}
	for _, a := range scenario.Assertions {
		if err := evaluate(a, kernel, result); err != nil {
			result.AddError(err.Error())
		}
	}
	klog.V(1).Infof("scenario %q: pass=%v verdicts=%d", scenario.Name, result.Pass, len(result.Verdicts))
	return result, nil
}

func loadStrategy(scenario *Scenario) (ir.Strategy, error) {
	strategies, errs := compiler.CompileFiles(cuecontext.New(), scenario.Specs...)
	if len(errs) > 0 {
		return ir.Strategy{}, errors.WithMessagef(errs[0], "scenario %q", scenario.Name)
	}
	for _, s := range strategies {
		if s.Name == scenario.Strategy {
			return s, nil
		}
	}
	return ir.Strategy{}, errors.Errorf("scenario %q: strategy %q not found in specs", scenario.Name, scenario.Strategy)
}

// generate validates and generates s. Validation and generation errors are
// recorded in result; only unexpected errors are returned.
func (h *Harness) generate(s ir.Strategy, scenario *Scenario, result *Result) (*kloop.Kernel, error) {
	if verrs := compiler.Validate(s); len(verrs) > 0 {
		result.ErrorCode = verrs[0].Code
		result.ErrorMessage = verrs[0].Error()
		return nil, nil
	}
	kernel, err := kloop.Generate(s, kloop.WithShortLoopExtent(scenario.ShortLoopExtent))
	if err != nil {
		code := engine.Code(err)
		if code == "" {
			return nil, errors.WithMessagef(err, "scenario %q", scenario.Name)
		}
		result.ErrorCode = string(code)
		result.ErrorMessage = err.Error()
		return nil, nil
	}
	return kernel, nil
}

// execute caches the kernel, runs every trip count and reads the verdicts
// back from the cache.
func (h *Harness) execute(ctx context.Context, kernel *kloop.Kernel, scenario *Scenario, result *Result) error {
	run := ir.GenerationRun{ID: h.runIDs.Generate(), Seq: h.clock.Next(), Command: "scenario " + scenario.Name}
	if err := h.store.WriteRun(ctx, run); err != nil {
		return err
	}
	rec, err := kernel.Record(run.ID, h.clock.Next())
	if err != nil {
		return err
	}
	if _, err := h.store.WriteKernel(ctx, rec); err != nil {
		return err
	}

	for _, k := range tripCounts(scenario, kernel) {
		v, err := kernel.Verify(ir.Problem{K: k, Seed: scenario.Seed})
		if err != nil {
			return errors.WithMessagef(err, "scenario %q", scenario.Name)
		}
		if err := h.store.WriteVerdict(ctx, rec.ID, v, h.clock.Next()); err != nil {
			return err
		}
	}

	cached, _, err := h.store.ReadKernel(ctx, rec.ID)
	if err != nil {
		return err
	}
	result.Kernel = &cached
	result.Verdicts, err = h.store.ReadVerdicts(ctx, rec.ID)
	return err
}

// tripCounts returns the trip counts a scenario executes.
func tripCounts(scenario *Scenario, kernel *kloop.Kernel) []int {
	if len(scenario.TripCounts) > 0 {
		return scenario.TripCounts
	}
	hi := scenario.MaxK
	if hi == 0 {
		hi = kernel.ShortLimit + 2*kernel.Schedule.BlockLength + 1
	}
	ks := make([]int, hi+1)
	for i := range ks {
		ks[i] = i
	}
	return ks
}
