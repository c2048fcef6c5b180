package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kloop/internal/store"
)

const validStrategies = `package strategies

strategy: basic: {}

strategy: slm_double: {
	tile_m:       2
	tile_n:       2
	wg_m:         2
	wg_n:         2
	ka_load:      2
	kb_load:      2
	slm_a:        true
	slm_b:        true
	slm_buffers:  2
	unroll_k_slm: 2
}
`

// rejectedStrategies compile and validate but fail to generate.
const rejectedStrategies = `package strategies

strategy: basic: {}

strategy: mismatch: {
	ka_load:  2
	unroll_k: 3
}
`

// writeStrategies writes files into a fresh directory and returns it.
func writeStrategies(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// execute runs the root command with args and returns stdout, stderr and
// the command error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// generateCache generates validStrategies into a fresh cache and returns
// its path with the generate result.
func generateCache(t *testing.T) (string, GenerateResult) {
	t.Helper()
	dir := writeStrategies(t, map[string]string{"s.cue": validStrategies})
	db := filepath.Join(t.TempDir(), "kloop.db")
	result := runGenerateForTest(t, dir, &GenerateOptions{Database: db})
	require.Len(t, result.Kernels, 2)
	return db, result
}

// execSQL runs a statement against a cache file.
func execSQL(t *testing.T, db, query string, args ...any) {
	t.Helper()
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.DB().Exec(query, args...)
	require.NoError(t, err)
}
