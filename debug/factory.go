package debug

import (
	"context"
	"fmt"

	"github.com/xhd2015/dap-session/debug/common"
	"github.com/xhd2015/dap-session/debug/config"
	"github.com/xhd2015/dap-session/debug/dap"
	"github.com/xhd2015/dap-session/log"
)

// NewSessionManager creates a session manager opening sessions for the
// adapters defined in cfg.
func NewSessionManager(cfg *config.File, logger log.Logger) *dap.SessionManager {
	return dap.NewSessionManager(func(ctx context.Context, name string, opts dap.Options) (*dap.Client, error) {
		adapter, err := cfg.Adapter(name)
		if err != nil {
			return nil, err
		}
		return NewClient(ctx, adapter, opts)
	}, logger)
}

// NewClient creates a session for the adapter, choosing the transport
// the definition names.
func NewClient(ctx context.Context, adapter *config.Adapter, opts dap.Options) (*dap.Client, error) {
	switch adapter.Transport {
	case common.TransportTCP:
		proc, err := processConfig(adapter)
		if err != nil {
			return nil, err
		}
		return dap.LaunchTCP(ctx, proc, dap.TCPConfig{
			Port:           adapter.Port,
			WarmUp:         adapter.WarmUp,
			ConnectTimeout: adapter.ConnectTimeout,
		}, opts)
	case common.TransportStdio:
		proc, err := processConfig(adapter)
		if err != nil {
			return nil, err
		}
		return dap.LaunchStdio(ctx, proc, opts)
	case common.TransportWebSocket:
		return dap.DialWebSocket(ctx, adapter.URL, opts)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", adapter.Transport)
	}
}

func processConfig(adapter *config.Adapter) (dap.ProcessConfig, error) {
	argv, err := adapter.Argv()
	if err != nil {
		return dap.ProcessConfig{}, err
	}
	return dap.ProcessConfig{
		Path: argv[0],
		Args: argv[1:],
		Dir:  adapter.Cwd,
		Env:  adapter.Env,
	}, nil
}
