package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kloop/internal/ir"
)

// Snapshot renders the deterministic part of a result as canonical JSON:
// the schedule shape and, per trip count, the path, outcome and back-edge
// counts. Error magnitudes and listings are left out.
func Snapshot(scenarioName string, r *Result) ([]byte, error) {
	verdicts := make(ir.IRArray, len(r.Verdicts))
	for i, v := range r.Verdicts {
		verdicts[i] = ir.NewIRObjectFromPairs(
			ir.O("k", ir.IRInt(v.K)),
			ir.O("path", ir.IRString(v.Path)),
			ir.O("passed", ir.IRBool(v.Passed)),
			ir.O("back_edges", ir.IRInt(v.BackEdges)),
			ir.O("taken", ir.IRInt(v.Taken)),
		)
	}
	obj := ir.IRObject{
		"scenario_name": ir.IRString(scenarioName),
		"verdicts":      verdicts,
	}
	if r.Kernel != nil {
		obj["strategy"] = ir.IRString(r.Kernel.StrategyName)
		obj["block_length"] = ir.IRInt(r.Kernel.BlockLength)
		obj["warmup_length"] = ir.IRInt(r.Kernel.WarmupLength)
		obj["threshold"] = ir.IRInt(r.Kernel.Threshold)
	}
	if r.ErrorCode != "" {
		obj["error_code"] = ir.IRString(r.ErrorCode)
	}
	return ir.MarshalCanonical(obj)
}

func newGoldie(t *testing.T, suffix string) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(suffix),
	)
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()
	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's snapshot against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()
	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	newGoldie(t, ".golden").Assert(t, scenarioName, data)
	return nil
}

// AssertListingGolden compares the generated listing against
// testdata/golden/{name}.listing.
func AssertListingGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	if result.Kernel == nil {
		t.Fatalf("%s: no kernel generated: %s", name, result.ErrorMessage)
	}
	newGoldie(t, ".listing").Assert(t, name, []byte(result.Kernel.Listing))
}
