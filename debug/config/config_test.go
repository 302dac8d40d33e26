package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhd2015/dap-session/debug/common"
)

const sample = `
[adapters.go]
transport = "tcp"
command = "dlv dap --listen 127.0.0.1:$PORT --log-dest '$CWD/dlv.log'"
cwd = "/work"
port = 54321
warmup = "250ms"
connect_timeout = "3s"

[adapters.python]
adapter_id = "debugpy"
transport = "stdio"
command = "python -m debugpy.adapter --log-dir $LOG_DIR"
env = ["LOG_DIR=/tmp/logs", "PYTHONUNBUFFERED=1"]

[adapters.remote]
transport = "websocket"
url = "ws://127.0.0.1:8080/dap"
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "python", "remote"}, f.Names())

	goAdapter, err := f.Adapter("go")
	require.NoError(t, err)
	assert.Equal(t, "go", goAdapter.Name)
	assert.Equal(t, "go", goAdapter.AdapterID)
	assert.Equal(t, common.TransportTCP, goAdapter.Transport)
	assert.Equal(t, 54321, goAdapter.Port)
	assert.Equal(t, 250*time.Millisecond, goAdapter.WarmUp)
	assert.Equal(t, 3*time.Second, goAdapter.ConnectTimeout)

	python, err := f.Adapter("python")
	require.NoError(t, err)
	assert.Equal(t, "debugpy", python.AdapterID)
	assert.Equal(t, common.TransportStdio, python.Transport)

	remote, err := f.Adapter("remote")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:8080/dap", remote.URL)

	_, err = f.Adapter("lldb")
	assert.EqualError(t, err, `unknown adapter "lldb"`)
}

func TestArgvExpandsVariables(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	argv, err := f.Adapters["go"].Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"dlv", "dap", "--listen", "127.0.0.1:54321", "--log-dest", "$CWD/dlv.log"}, argv)

	argv, err = f.Adapters["python"].Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "-m", "debugpy.adapter", "--log-dir", "/tmp/logs"}, argv)
}

func TestArgvDefaultsCwd(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	a := &Adapter{Name: "x", Command: `adapter "--root=$CWD"`}
	argv, err := a.Argv()
	require.NoError(t, err)
	assert.Equal(t, []string{"adapter", "--root=" + wd}, argv)
}

func TestArgvErrors(t *testing.T) {
	_, err := (&Adapter{Name: "x"}).Argv()
	assert.Error(t, err)

	_, err = (&Adapter{Name: "x", Command: `dlv "unterminated`}).Argv()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		wantErr string
	}{
		{
			name:    "missing transport",
			text:    "[adapters.a]\ncommand = \"x\"",
			wantErr: `adapter "a": missing transport`,
		},
		{
			name:    "unknown transport",
			text:    "[adapters.a]\ntransport = \"pipe\"\ncommand = \"x\"",
			wantErr: `adapter "a": unsupported transport "pipe"`,
		},
		{
			name:    "tcp without port",
			text:    "[adapters.a]\ntransport = \"tcp\"\ncommand = \"x\"",
			wantErr: `adapter "a": tcp transport requires a port`,
		},
		{
			name:    "stdio without command",
			text:    "[adapters.a]\ntransport = \"stdio\"",
			wantErr: `adapter "a": stdio transport requires a command`,
		},
		{
			name:    "websocket without url",
			text:    "[adapters.a]\ntransport = \"websocket\"",
			wantErr: `adapter "a": websocket transport requires a url`,
		},
		{
			name:    "negative warmup",
			text:    "[adapters.a]\ntransport = \"stdio\"\ncommand = \"x\"\nwarmup = \"-1s\"",
			wantErr: `adapter "a": negative duration`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.text))
			assert.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("[adapters.a]\ntransport = \"stdio\"\ncommand = \"x\"\nprot = 1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapters.a.prot")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adapters.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Adapters, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
