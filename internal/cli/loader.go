package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kloop/internal/compiler"
	"github.com/roach88/kloop/internal/ir"
)

// LoadMode controls how errors are handled during strategy loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the strategies loaded from a directory.
type LoadResult struct {
	Strategies []ir.Strategy
	CUEValue   cue.Value // The raw CUE value for additional processing
	FileCount  int       // Number of CUE files found
}

// LoadError represents an error that occurred during strategy loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadStrategies loads the CUE package in dir and compiles every entry
// under strategy. If mode is LoadModeFailFast, returns on the first
// compile error. A nil result means nothing could be loaded at all.
func LoadStrategies(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("strategies directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing strategies directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{
		CUEValue:  value,
		FileCount: len(cueFiles),
	}

	var errs []error
	strategies, compileErrs := compiler.CompileStrategies(value)
	result.Strategies = strategies
	for _, err := range compileErrs {
		errs = append(errs, convertCompileError(err))
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(result.Strategies) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoStrategies, Message: "no strategies found under " + compiler.StrategyRoot})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// selectStrategies filters strategies by name, preserving declaration
// order. No names selects every strategy.
func selectStrategies(strategies []ir.Strategy, names []string) ([]ir.Strategy, error) {
	if len(names) == 0 {
		return strategies, nil
	}
	var out []ir.Strategy
	for _, name := range names {
		i := slices.IndexFunc(strategies, func(s ir.Strategy) bool { return s.Name == name })
		if i < 0 {
			return nil, &LoadError{Code: ErrCodeUnknownStrategy, Message: fmt.Sprintf("strategy %q not found", name)}
		}
	}
	for _, s := range strategies {
		if slices.Contains(names, s.Name) {
			out = append(out, s)
		}
	}
	return out, nil
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeInvalidStrategy,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// loadFailure maps the errors of a failed load to a command error.
func loadFailure(formatter *OutputFormatter, errs []error) error {
	var loadErr *LoadError
	if errors.As(errs[0], &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Error(), nil)
		return NewExitError(ExitCommandError, loadErr.Error())
	}
	_ = formatter.Error(ErrCodeGeneric, errs[0].Error(), nil)
	return WrapExitError(ExitCommandError, "load strategies", errs[0])
}

// loadSelected loads a strategies directory fail-fast and applies a name
// filter. Errors are already reported through formatter.
func loadSelected(formatter *OutputFormatter, dir string, names []string) ([]ir.Strategy, error) {
	result, errs := LoadStrategies(dir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, loadFailure(formatter, errs)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)
	selected, err := selectStrategies(result.Strategies, names)
	if err != nil {
		return nil, loadFailure(formatter, []error{err})
	}
	return selected, nil
}

// Error code constants - unified across all CLI commands. Strategy
// validation (E1xx), configuration (E2xx) and unsupported (E3xx) codes
// come from compiler and engine.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeScanError       = "E002" // Directory scan error
	ErrCodeNoFiles         = "E003" // No CUE files found
	ErrCodeLoadFailed      = "E004" // CUE load failed
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeBuildFailed     = "E006" // CUE build failed
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeNoStrategies    = "E008" // No strategies declared
	ErrCodeUnknownStrategy = "E009" // --strategy names an undeclared strategy
	ErrCodeInvalidStrategy = "E010" // Strategy does not match the schema
	ErrCodeCache           = "E011" // Kernel cache error
	ErrCodeVerifyFailed    = "E012" // Interpreter could not execute a kernel
	ErrCodeInvalidFilter   = "E013" // --where term does not match the cache schema
)
