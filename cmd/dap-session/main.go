package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/xhd2015/dap-session/debug"
	"github.com/xhd2015/dap-session/debug/config"
	"github.com/xhd2015/dap-session/log"
)

// install: go install ./cmd/dap-session
const help = `
dap-session drives one debug adapter session from the command line

Usage: dap-session [OPTIONS]
       dap-session mcp [--listen <addr>] [OPTIONS]

Available commands:
  help                               show help message
  list                               list configured adapters
  mcp                                serve debug sessions as MCP tools, on stdio by default

Options:
  --config <file>                    adapter definitions (default: ~/.dap-session/adapters.toml)
  --adapter <name>                   adapter to start
  --launch <json>                    launch arguments, passed to the adapter unchanged
  --attach <json>                    attach arguments, instead of --launch
  --break <file>:<line>              set a breakpoint, may be repeated
  --log <file>                       append logs to file instead of stderr (mcp: ~/.dap-session/dap-session.log)
  --listen <addr>                    mcp only: serve over SSE on addr, e.g. :8080
  -v,--verbose                       log protocol diagnostics
  --help   show help message
`

func main() {
	if err := handle(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handle(args []string) error {
	if len(args) > 0 && args[0] == "help" {
		fmt.Println(strings.TrimSpace(help))
		return nil
	}
	var list bool
	var serveMCP bool
	if len(args) > 0 {
		switch args[0] {
		case "list":
			list = true
			args = args[1:]
		case "mcp":
			serveMCP = true
			args = args[1:]
		}
	}

	var opts runOptions
	var configFile string
	var logFile string
	var listen string
	n := len(args)
	for i := 0; i < n; i++ {
		arg := args[i]
		switch arg {
		case "--config", "--adapter", "--launch", "--attach", "--break", "--log", "--listen":
			if i+1 >= n {
				return fmt.Errorf("%s requires arg", arg)
			}
			i++
			value := args[i]
			switch arg {
			case "--config":
				configFile = value
			case "--adapter":
				opts.adapter = value
			case "--launch", "--attach":
				if !json.Valid([]byte(value)) {
					return fmt.Errorf("%s: invalid JSON", arg)
				}
				opts.request = strings.TrimPrefix(arg, "--")
				opts.arguments = json.RawMessage(value)
			case "--break":
				bp, err := debug.ParseBreakpoint(value)
				if err != nil {
					return err
				}
				opts.breakpoints = append(opts.breakpoints, bp)
			case "--log":
				logFile = value
			case "--listen":
				listen = value
			}
		case "-v", "--verbose":
			opts.verbose = true
		case "-h", "--help":
			fmt.Println(strings.TrimSpace(help))
			return nil
		default:
			return fmt.Errorf("unrecognized flag: %s", arg)
		}
	}

	if configFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get user home directory: %w", err)
		}
		configFile = filepath.Join(homeDir, ".dap-session", "adapters.toml")
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if list {
		for _, name := range cfg.Names() {
			a := cfg.Adapters[name]
			fmt.Printf("%-16s %-10s %s\n", name, a.Transport, a.Command+a.URL)
		}
		return nil
	}
	if listen != "" && !serveMCP {
		return fmt.Errorf("--listen requires the mcp command")
	}
	if serveMCP {
		if logFile == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get user home directory: %w", err)
			}
			logDir := filepath.Join(homeDir, ".dap-session")
			if err := os.MkdirAll(logDir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
			logFile = filepath.Join(logDir, "dap-session.log")
		}
	} else if opts.adapter == "" {
		return fmt.Errorf("requires --adapter")
	}
	if !serveMCP && opts.request == "" {
		return fmt.Errorf("requires --launch or --attach")
	}

	logger := log.Default()
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer file.Close()
		logger = log.New(file)
	}
	if !opts.verbose {
		logger = quietLogger{logger}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if serveMCP {
		return serve(ctx, cfg, logger, listen)
	}
	return run(ctx, cfg, logger, opts)
}

// quietLogger drops debug lines.
type quietLogger struct {
	log.Logger
}

func (quietLogger) Debugf(string, ...interface{}) {}
func (quietLogger) Debug(...interface{})          {}
