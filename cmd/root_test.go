package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"fetch", "extract", "analyze", "run", "runs", "serve", "classify"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "breakdown-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"url", "output-dir", "save-artifacts", "non-interactive", "session-file", "cookies", "export-dir", "input-video", "input-image", "input-audio", "input-transcript"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
}

func TestStageCommands_Flags(t *testing.T) {
	for _, name := range []string{"url", "output-dir", "result-file", "session-file", "cookies", "input-video"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(name), "fetch should have --%s", name)
	}
	for _, name := range []string{"fetch-result", "output-dir", "result-file"} {
		assert.NotNil(t, extractCmd.Flags().Lookup(name), "extract should have --%s", name)
	}
	for _, name := range []string{"signals", "output", "markdown-output"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze should have --%s", name)
	}
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
	assert.True(t, names["list"])
	assert.True(t, names["show"])
	assert.True(t, names["stats"])
}
