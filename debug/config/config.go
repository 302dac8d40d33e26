// Package config loads debug adapter definitions from TOML.
//
// A definition file maps adapter names to how they are started and reached:
//
//	[adapters.go]
//	adapter_id = "go"
//	transport = "tcp"
//	command = "dlv dap --listen 127.0.0.1:$PORT"
//	port = 54321
//	connect_timeout = "10s"
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xhd2015/dap-session/debug/common"
	"mvdan.cc/sh/v3/shell"
)

// File is a set of adapter definitions.
type File struct {
	Adapters map[string]*Adapter `toml:"adapters"`
}

// Adapter describes one debug adapter.
type Adapter struct {
	// Name is the key of the definition in the file.
	Name string `toml:"-"`

	// AdapterID is sent in the initialize request, e.g. "go" or "debugpy".
	// Defaults to Name.
	AdapterID string `toml:"adapter_id"`

	Transport common.TransportKind `toml:"transport"`

	// Command starts the adapter. It is split with shell word rules after
	// expanding $PORT, $CWD and environment variables.
	Command string   `toml:"command"`
	Cwd     string   `toml:"cwd"`
	Env     []string `toml:"env"`

	Port int    `toml:"port"`
	URL  string `toml:"url"`

	// Durations are written as strings such as "1s" or "250ms".
	WarmUp         time.Duration `toml:"warmup"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

// Load reads and validates a definition file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read adapter config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates definitions from TOML text.
func Parse(data []byte) (*File, error) {
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("parse adapter config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown adapter config key %q", undecoded[0].String())
	}

	for name, a := range f.Adapters {
		if a == nil {
			a = &Adapter{}
			f.Adapters[name] = a
		}
		a.Name = name
		if a.AdapterID == "" {
			a.AdapterID = name
		}
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// Adapter returns the definition called name.
func (f *File) Adapter(name string) (*Adapter, error) {
	a, ok := f.Adapters[name]
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", name)
	}
	return a, nil
}

// Names returns the defined adapter names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Adapters))
	for name := range f.Adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the definition carries what its transport needs.
func (a *Adapter) Validate() error {
	switch a.Transport {
	case common.TransportTCP:
		if a.Command == "" {
			return fmt.Errorf("adapter %q: tcp transport requires a command", a.Name)
		}
		if a.Port <= 0 || a.Port > 65535 {
			return fmt.Errorf("adapter %q: tcp transport requires a port", a.Name)
		}
	case common.TransportStdio:
		if a.Command == "" {
			return fmt.Errorf("adapter %q: stdio transport requires a command", a.Name)
		}
	case common.TransportWebSocket:
		if a.URL == "" {
			return fmt.Errorf("adapter %q: websocket transport requires a url", a.Name)
		}
	case "":
		return fmt.Errorf("adapter %q: missing transport", a.Name)
	default:
		return fmt.Errorf("adapter %q: unsupported transport %q", a.Name, a.Transport)
	}
	if a.WarmUp < 0 || a.ConnectTimeout < 0 {
		return fmt.Errorf("adapter %q: negative duration", a.Name)
	}
	return nil
}

// Argv splits Command into the executable and its arguments.
func (a *Adapter) Argv() ([]string, error) {
	if a.Command == "" {
		return nil, errors.New("empty command")
	}
	fields, err := shell.Fields(a.Command, a.lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("adapter %q: parse command: %w", a.Name, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("adapter %q: empty command", a.Name)
	}
	return fields, nil
}

func (a *Adapter) lookupEnv(name string) string {
	switch name {
	case "PORT":
		if a.Port > 0 {
			return strconv.Itoa(a.Port)
		}
		return ""
	case "CWD":
		if a.Cwd != "" {
			return a.Cwd
		}
		wd, _ := os.Getwd()
		return wd
	}
	for i := len(a.Env) - 1; i >= 0; i-- {
		k, v, ok := strings.Cut(a.Env[i], "=")
		if ok && k == name {
			return v
		}
	}
	return os.Getenv(name)
}
