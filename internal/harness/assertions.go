package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/kloop/internal/isa"
	"github.com/roach88/kloop/internal/kloop"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// evaluate checks one assertion. kernel is nil if generation failed.
func evaluate(a Assertion, kernel *kloop.Kernel, r *Result) error {
	if a.Type == AssertError {
		return assertError(a, r)
	}
	if kernel == nil {
		return &AssertionError{Type: a.Type, Expected: "a generated kernel", Actual: "generation failed: " + r.ErrorMessage}
	}
	switch a.Type {
	case AssertAllPass:
		return assertAllPass(r)
	case AssertSchedule:
		return assertSchedule(a, kernel)
	case AssertBackEdges:
		return assertBackEdges(a, r)
	case AssertPath:
		return assertPath(a, r)
	case AssertOpCount:
		return assertOpCount(a, kernel)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertError(a Assertion, r *Result) error {
	if r.ErrorCode == a.Code {
		return nil
	}
	actual := "generation succeeded"
	if r.ErrorCode != "" {
		actual = fmt.Sprintf("[%s] %s", r.ErrorCode, r.ErrorMessage)
	}
	return &AssertionError{Type: AssertError, Expected: "error " + a.Code, Actual: actual}
}

func assertAllPass(r *Result) error {
	var failed []string
	for _, v := range r.Verdicts {
		if v.Passed {
			continue
		}
		msg := fmt.Sprintf("k=%d %s max_error=%g", v.K, v.Path, v.MaxError)
		if len(v.Hazards) > 0 {
			msg += fmt.Sprintf(" hazards=%d (%s)", len(v.Hazards), v.Hazards[0])
		}
		if len(v.Violations) > 0 {
			msg += fmt.Sprintf(" violations=%d (%s)", len(v.Violations), v.Violations[0])
		}
		failed = append(failed, msg)
	}
	if len(failed) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertAllPass,
		Expected: fmt.Sprintf("%d passing verdicts", len(r.Verdicts)),
		Actual:   strings.Join(failed, "; "),
	}
}

func assertSchedule(a Assertion, kernel *kloop.Kernel) error {
	s := kernel.Schedule
	var diffs []string
	check := func(name string, want *int, got int) {
		if want != nil && *want != got {
			diffs = append(diffs, fmt.Sprintf("%s=%d (want %d)", name, got, *want))
		}
	}
	check("block_length", a.BlockLength, s.BlockLength)
	check("warmup_length", a.WarmupLength, s.WarmupLength)
	check("threshold", a.Threshold, s.Threshold)
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{Type: AssertSchedule, Expected: "matching schedule", Actual: strings.Join(diffs, ", ")}
}

func assertBackEdges(a Assertion, r *Result) error {
	v, ok := r.Verdict(a.K)
	if !ok {
		return &AssertionError{Type: AssertBackEdges, Expected: fmt.Sprintf("a verdict for k=%d", a.K), Actual: "trip count not executed"}
	}
	if v.BackEdges == a.Executed && v.Taken == a.Taken {
		return nil
	}
	return &AssertionError{
		Type:     AssertBackEdges,
		Expected: fmt.Sprintf("k=%d executed=%d taken=%d", a.K, a.Executed, a.Taken),
		Actual:   fmt.Sprintf("executed=%d taken=%d", v.BackEdges, v.Taken),
	}
}

func assertPath(a Assertion, r *Result) error {
	v, ok := r.Verdict(a.K)
	if !ok {
		return &AssertionError{Type: AssertPath, Expected: fmt.Sprintf("a verdict for k=%d", a.K), Actual: "trip count not executed"}
	}
	if v.Path == a.Path {
		return nil
	}
	return &AssertionError{Type: AssertPath, Expected: fmt.Sprintf("k=%d on the %s path", a.K, a.Path), Actual: v.Path}
}

func assertOpCount(a Assertion, kernel *kloop.Kernel) error {
	op, err := isa.ParseOp(a.Op)
	if err != nil {
		return err
	}
	if got := kernel.Program.Count(op); got != a.Count {
		return &AssertionError{
			Type:     AssertOpCount,
			Expected: fmt.Sprintf("%d %s instructions", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}
