package main

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/xhd2015/dap-session/debug"
	"github.com/xhd2015/dap-session/debug/config"
	"github.com/xhd2015/dap-session/debug/dap"
	"github.com/xhd2015/dap-session/log"
	tools "github.com/xhd2015/dap-session/tools/debug"
)

// newMCPServer exposes the configured adapters as MCP debug tools.
func newMCPServer(cfg *config.File, logger log.Logger) (*server.MCPServer, *dap.SessionManager, error) {
	s := server.NewMCPServer(
		"DAP Session",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	sm := debug.NewSessionManager(cfg, logger)
	if _, err := tools.RegisterTools(s, sm, tools.ToolOptions{
		Config: cfg,
		Logger: logger,
	}); err != nil {
		return nil, nil, err
	}
	return s, sm, nil
}

func serve(ctx context.Context, cfg *config.File, logger log.Logger, listen string) error {
	s, sm, err := newMCPServer(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sm.Close(shutdownCtx); err != nil {
			logger.Warnf("shutdown: %v", err)
		}
	}()

	errc := make(chan error, 1)
	go func() {
		if listen == "" {
			logger.Infof("MCP Server listening on stdio...")
			errc <- server.ServeStdio(s)
			return
		}
		logger.Infof("MCP Server listening on %s...", listen)
		errc <- server.NewSSEServer(s).Start(listen)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}
