package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/ir"
)

func TestCompile_Valid(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": validStrategies})

	out, _, err := execute(t, "compile", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Compiled 2 strategy(s)")
	assert.Contains(t, out, "basic")
	assert.Contains(t, out, "slm_double")
	assert.Contains(t, out, "depth 2")
}

func TestCompile_JSON(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": validStrategies})

	out, _, err := execute(t, "--format", "json", "compile", dir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Strategies, 2)

	basic := resp.Data.Strategies[0]
	assert.Equal(t, "basic", basic.Name)
	assert.Equal(t, ir.MustStrategyHash(ir.Strategy{}.WithDefaults()), basic.Hash)
	assert.Equal(t, 1, basic.Threads)
	assert.Equal(t, 4, resp.Data.Strategies[1].Threads)
}

func TestCompile_OutputFile(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": validStrategies})
	outPath := filepath.Join(t.TempDir(), "strategies.json")

	out, _, err := execute(t, "compile", dir, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote compiled strategies to")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Strategies, 2)
	assert.Equal(t, "slm_double", result.Strategies[1].Strategy.Name)
	assert.True(t, result.Strategies[1].Strategy.SLMA)
}

func TestCompile_UnknownField(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": `package strategies

strategy: bad: {
	tile_m: 2
	tile_k: 2
}
`})

	out, _, err := execute(t, "compile", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Compilation failed")
	assert.Contains(t, out, ErrCodeInvalidStrategy)
	assert.Contains(t, out, "tile_k")
}

func TestCompile_CollectsAllErrors(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": `package strategies

strategy: a: { tile_m: 0 }
strategy: b: { slm_buffers: 9 }
strategy: c: {}
`})

	out, _, err := execute(t, "--format", "json", "compile", dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   []CLIError `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Len(t, resp.Data, 2)
}

func TestCompile_LoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		code  string
	}{
		{"no cue files", map[string]string{"README.md": "nothing"}, ErrCodeNoFiles},
		{"no strategies", map[string]string{"s.cue": "package strategies\n\nother: 1\n"}, ErrCodeNoStrategies},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeStrategies(t, tt.files)
			out, _, err := execute(t, "compile", dir)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.code)
		})
	}
}

func TestCompile_MissingDirectory(t *testing.T) {
	out, _, err := execute(t, "compile", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestFindCUEFiles(t *testing.T) {
	dir := writeStrategies(t, map[string]string{
		"root.cue":       "package strategies",
		"notcue.txt":     "not a cue file",
		"sub/nested.cue": "package strategies",
	})

	files, err := FindCUEFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestSelectStrategies(t *testing.T) {
	all := []ir.Strategy{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	got, err := selectStrategies(all, nil)
	require.NoError(t, err)
	assert.Equal(t, all, got)

	got, err = selectStrategies(all, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []ir.Strategy{{Name: "a"}, {Name: "c"}}, got)

	_, err = selectStrategies(all, []string{"d"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeUnknownStrategy, loadErr.Code)
}
