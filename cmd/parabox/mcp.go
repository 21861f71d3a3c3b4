package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/parabox-connector-go"
	"github.com/wagiedev/parabox-connector-go/internal/config"
)

func mcpConfig(args []string) (parabox.MCPServeConfig, error) {
	if len(args) == 0 || args[0] == "stdio" {
		return parabox.MCPServeConfig{Mode: parabox.MCPServeStdio}, nil
	}

	if args[0] == "http" {
		if len(args) != 2 {
			return parabox.MCPServeConfig{}, fmt.Errorf("mcp http: require a listen address")
		}

		return parabox.MCPServeConfig{Mode: parabox.MCPServeHTTP, Addr: args[1]}, nil
	}

	return parabox.MCPServeConfig{}, fmt.Errorf("mcp: unknown mode %q", args[0])
}

func runMCP(ctx context.Context, e *env, args []string) error {
	cfg, err := mcpConfig(args)
	if err != nil {
		return err
	}

	if cfg.Mode == parabox.MCPServeStdio && e.settings.Transport == config.TransportStdio {
		return fmt.Errorf("mcp over stdio needs a transport other than stdio")
	}

	t, err := e.newTransport(parabox.RoleController)
	if err != nil {
		return err
	}

	return parabox.WithController(ctx, func(c *parabox.Controller) error {
		server := parabox.NewMCPServer(c, parabox.Version)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return e.serveMetrics(gctx) })
		g.Go(func() error { return parabox.ServeMCP(gctx, e.log, server, cfg) })

		return g.Wait()
	}, e.options(t)...)
}
