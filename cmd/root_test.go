package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/annotate-cli/internal/config"
)

// useTestConfig installs the default configuration as the global cfg.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	c, err := config.Load()
	require.NoError(t, err)
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
	return c
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"extract", "batch", "serve", "taxonomies", "runs", "retry"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "annotate-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		flag := rootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "root command should have --%s flag", name)
		assert.Empty(t, flag.DefValue)
	}
}

func TestExtractCommand_Flags(t *testing.T) {
	for _, name := range []string{"file", "id", "taxonomy", "budget", "raw"} {
		require.NotNil(t, extractCmd.Flags().Lookup(name), "extract command should have --%s flag", name)
	}
}

func TestBatchCommand_Flags(t *testing.T) {
	for _, name := range []string{"input", "limit", "report", "output"} {
		require.NotNil(t, batchCmd.Flags().Lookup(name), "batch command should have --%s flag", name)
	}
	assert.Equal(t, "0", batchCmd.Flags().Lookup("limit").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["show"])
	assert.True(t, names["stats"])
	assert.NotNil(t, runsCmd.Flags().Lookup("status"))
	assert.NotNil(t, runsCmd.Flags().Lookup("limit"))
	assert.NotNil(t, runsCmd.Flags().Lookup("json"))
}
