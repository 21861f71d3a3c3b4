package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServeMode selects how a tool server is published.
type ServeMode string

const (
	// ServeStdio speaks MCP over the process's stdin and stdout.
	ServeStdio ServeMode = "stdio"
	// ServeHTTP speaks streamable HTTP MCP.
	ServeHTTP ServeMode = "http"
)

// ServeConfig configures Serve.
type ServeConfig struct {
	Mode ServeMode `json:"mode"`
	// Addr is the listen address for ServeHTTP.
	Addr string `json:"addr,omitempty"`
}

// Serve publishes s until ctx is done or the client goes away.
func Serve(ctx context.Context, log *slog.Logger, s *ToolServer, cfg ServeConfig) error {
	log = log.With("component", "mcp", "mode", string(cfg.Mode))

	switch cfg.Mode {
	case ServeStdio, "":
		log.Debug("serving over stdio")

		return s.Server().Run(ctx, &mcp.StdioTransport{})
	case ServeHTTP:
		return serveHTTP(ctx, log, s, cfg.Addr)
	default:
		return fmt.Errorf("unknown serve mode %q", cfg.Mode)
	}
}

// Handler returns a streamable HTTP handler publishing s.
func Handler(s *ToolServer) http.Handler {
	server := s.Server()

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func serveHTTP(ctx context.Context, log *slog.Logger, s *ToolServer, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	srv := &http.Server{Handler: Handler(s), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving over http", "addr", ln.Addr().String())

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
