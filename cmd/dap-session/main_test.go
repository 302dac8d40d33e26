package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleFlags(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "adapters.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[adapters.echo]\ntransport = \"stdio\"\ncommand = \"cat\"\n"), 0o644))

	assert.EqualError(t, handle([]string{"--adapter"}), "--adapter requires arg")
	assert.EqualError(t, handle([]string{"--bogus"}), "unrecognized flag: --bogus")
	assert.EqualError(t, handle([]string{"--launch", "{"}), "--launch: invalid JSON")
	assert.EqualError(t, handle([]string{"--config", cfg}), "requires --adapter")
	assert.EqualError(t, handle([]string{"--config", cfg, "--adapter", "echo"}), "requires --launch or --attach")
	assert.EqualError(t, handle([]string{"--config", cfg, "--listen", ":0"}), "--listen requires the mcp command")
	assert.EqualError(t, handle([]string{"mcp", "--listen"}), "--listen requires arg")
	assert.NoError(t, handle([]string{"list", "--config", cfg}))
	assert.NoError(t, handle([]string{"help"}))
}
