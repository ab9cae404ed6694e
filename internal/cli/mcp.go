package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/aretw0/docket/internal/config"
	"github.com/aretw0/docket/pkg/adapters/mcp"
	"github.com/aretw0/docket/pkg/adapters/rest"
	"github.com/aretw0/docket/pkg/observability"
	"github.com/aretw0/docket/pkg/session"
)

// MCPOptions configures the MCP command.
type MCPOptions struct {
	Transport string // stdio or sse
	Port      int
	Debug     bool
}

// RunMCP exposes session operations as MCP tools.
// Pacing is disabled: agents do not watch a thinking indicator.
func RunMCP(cfg config.Config, opts MCPOptions) error {
	// Ensure logs don't corrupt JSON-RPC on Stdout
	log.SetOutput(os.Stderr)
	logger := createLogger(cfg.Log, opts.Debug)

	p, err := OpenPersistence(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	client := rest.New(cfg.Backend.URL,
		rest.WithTimeout(cfg.Backend.Timeout),
		rest.WithTargetUse(cfg.Backend.TargetUse),
		rest.WithLogger(logger),
	)
	sessCfg := cfg.Session
	sessCfg.Pacing.Think, sessCfg.Pacing.Settle = 0, 0
	mgr := NewManager(p, client, sessCfg, logger,
		session.WithSessionHooks(observability.LogHooks(logger)),
	)
	srv := mcp.NewServer(mgr, mcp.WithUploader(client), mcp.WithLogger(logger))

	switch opts.Transport {
	case "stdio":
		logger.Info("Starting docket MCP Server (Stdio)")
		return srv.ServeStdio()
	case "sse":
		sigCtx := NewSignalContext(context.Background())
		defer sigCtx.Cancel()
		logger.Info("Starting docket MCP Server (SSE)", "port", opts.Port)
		if err := srv.ServeSSE(sigCtx, opts.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("MCP Server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport %q (supported: stdio, sse)", opts.Transport)
	}
}
