package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kloop/internal/ir"
	"github.com/roach88/kloop/internal/isa"
)

// Scenario defines one k-loop conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE strategy files, relative to the scenario file.
	Specs []string `yaml:"specs"`

	// Strategy names the strategy to generate.
	Strategy string `yaml:"strategy"`

	// TripCounts lists the trip counts to execute. MaxK runs 0..MaxK
	// instead. With neither, a default range is derived from the schedule.
	TripCounts []int `yaml:"trip_counts,omitempty"`
	MaxK       int   `yaml:"max_k,omitempty"`

	// Seed selects the operand data.
	Seed int64 `yaml:"seed,omitempty"`

	// ShortLoopExtent forces trip counts below it through the short loop.
	ShortLoopExtent int `yaml:"short_loop_extent,omitempty"`

	// RunID is the fixed generation run ID. Empty selects a default.
	RunID string `yaml:"run_id,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// Assertion validates the generated kernel or its verdicts.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// K selects the trip count (back_edges, path).
	K int `yaml:"k,omitempty"`

	// BlockLength, WarmupLength and Threshold (schedule). Unset fields are
	// not checked.
	BlockLength  *int `yaml:"block_length,omitempty"`
	WarmupLength *int `yaml:"warmup_length,omitempty"`
	Threshold    *int `yaml:"threshold,omitempty"`

	// Executed and Taken (back_edges).
	Executed int `yaml:"executed,omitempty"`
	Taken    int `yaml:"taken,omitempty"`

	// Path is "main" or "short" (path).
	Path string `yaml:"path,omitempty"`

	// Op and Count (op_count).
	Op    string `yaml:"op,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Code is the expected error code (error).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertAllPass   = "all_pass"
	AssertSchedule  = "schedule"
	AssertBackEdges = "back_edges"
	AssertPath      = "path"
	AssertOpCount   = "op_count"
	AssertError     = "error"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the scenario file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving spec paths against
// basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if s.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxK < 0 {
		return fmt.Errorf("max_k must be non-negative")
	}
	if len(s.TripCounts) > 0 && s.MaxK > 0 {
		return fmt.Errorf("trip_counts and max_k are exclusive")
	}
	for i, k := range s.TripCounts {
		if k < 0 {
			return fmt.Errorf("trip_counts[%d]: must be non-negative", i)
		}
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertAllPass:
	case AssertSchedule:
		if a.BlockLength == nil && a.WarmupLength == nil && a.Threshold == nil {
			return fmt.Errorf("assertions[%d]: schedule needs block_length, warmup_length or threshold", index)
		}
	case AssertBackEdges:
		if a.Executed < 0 || a.Taken < 0 || a.Taken > a.Executed {
			return fmt.Errorf("assertions[%d]: back_edges needs 0 <= taken <= executed", index)
		}
	case AssertPath:
		if a.Path != ir.PathMain && a.Path != ir.PathShort {
			return fmt.Errorf("assertions[%d]: path must be %q or %q", index, ir.PathMain, ir.PathShort)
		}
	case AssertOpCount:
		if _, err := isa.ParseOp(a.Op); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for op_count", index)
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// expectsError returns the expected error code, if any assertion is an
// error assertion.
func (s *Scenario) expectsError() string {
	for _, a := range s.Assertions {
		if a.Type == AssertError {
			return a.Code
		}
	}
	return ""
}
