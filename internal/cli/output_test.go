package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/compiler"
	"github.com/roach88/kloop/internal/engine"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E201", "unroll mismatch", map[string]int{"unroll_k": 3}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E201", resp.Error.Code)
	assert.Equal(t, "unroll mismatch", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_Failure(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Failure([]int{1, 2}, CLIError{Code: "E012", Message: "2 failed"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, []any{1.0, 2.0}, resp.Data)
	assert.Equal(t, "E012", resp.Error.Code)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E010", "tile_m: must be >= 1", map[string]string{"file": "a.cue"}))
	assert.Contains(t, buf.String(), "Error [E010]")
	assert.Contains(t, buf.String(), "tile_m: must be >= 1")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E010", "bad", map[string]string{"file": "a.cue"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: tt.verbose}

			formatter.VerboseLog("Generating %s", "basic")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "Generating basic")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetErrWriter_FallsBackToWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Writer: buf}
	assert.Same(t, buf, formatter.GetErrWriter())
}

func TestExitError(t *testing.T) {
	base := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "write listing", base)
	assert.Equal(t, "write listing: disk full", err.Error())
	assert.ErrorIs(t, err, base)

	wrapped := fmt.Errorf("generate: %w", err)
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "1 failed")))
	assert.Equal(t, ExitFailure, GetExitCode(base))
	assert.Equal(t, "1 failed", NewExitError(ExitFailure, "1 failed").Error())
}

func TestToCLIError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		details any
	}{
		{
			name: "load error",
			err:  &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files"},
			code: ErrCodeNoFiles,
		},
		{
			name:    "validation error",
			err:     compiler.ValidationError{Code: "E116", Field: "sums", Message: "sums need remask"},
			code:    "E116",
			details: "sums",
		},
		{
			name:    "wrapped configuration error",
			err:     errors.WithMessage(engine.NewConfigurationError(engine.ErrCodeUnrollMismatch, "unroll_k", "block 2, unroll 3"), "generate"),
			code:    "E201",
			details: "unroll_k",
		},
		{
			name:    "unsupported",
			err:     engine.NewUnsupportedError("slm", "f16 through SLM"),
			code:    "E301",
			details: "slm",
		},
		{
			name: "anything else",
			err:  fmt.Errorf("disk full"),
			code: ErrCodeGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toCLIError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.details, got.Details)
			assert.NotEmpty(t, got.Message)
		})
	}
}
