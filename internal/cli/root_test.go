package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "kloop", cmd.Use)
	assert.Contains(t, cmd.Short, "k-loop")
	assert.Contains(t, cmd.Long, "GEMM")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"compile", "validate", "generate", "simulate", "sweep", "test", "replay", "cache"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestCacheSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"list", "show", "runs", "prune"} {
		sub, _, err := cmd.Find([]string{"cache", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
		assert.NotNil(t, sub.InheritedFlags().Lookup("db"))
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		command string
		flags   []string
	}{
		{"compile", []string{"output"}},
		{"generate", []string{"db", "strategy", "short-loop-extent", "listings"}},
		{"simulate", []string{"strategy", "k", "max-k", "seed", "short-loop-extent", "db", "listing"}},
		{"sweep", []string{"strategy", "max-k", "seed", "db", "no-progress"}},
		{"test", []string{"update", "filter"}},
		{"replay", []string{"db", "kernel"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			sub, _, err := NewRootCommand().Find([]string{tt.command})
			require.NoError(t, err)
			for _, name := range tt.flags {
				assert.NotNil(t, sub.Flags().Lookup(name), "flag --%s", name)
			}
		})
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, _, err := execute(t, "--format", "invalid", "validate", ".")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRequiredFlags(t *testing.T) {
	dir := writeStrategies(t, map[string]string{"s.cue": validStrategies})

	_, _, err := execute(t, "simulate", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")

	_, _, err = execute(t, "replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")

	_, _, err = execute(t, "cache", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestConfigureLogging(t *testing.T) {
	assert.NoError(t, configureLogging(false))
	assert.NoError(t, configureLogging(true))
}
