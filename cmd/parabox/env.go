package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wagiedev/parabox-connector-go"
	"github.com/wagiedev/parabox-connector-go/internal/config"
)

// env is everything a command needs, built once from the settings.
type env struct {
	settings parabox.Settings
	role     parabox.Role
	log      *slog.Logger
	registry *prometheus.Registry
	store    parabox.RetryStore

	// newTransport builds the transport for role. Tests replace it.
	newTransport func(role parabox.Role) (parabox.Transport, error)
}

func setup(configPath, forceRole string) (*env, error) {
	s, err := parabox.LoadSettings(configPath)
	if err != nil {
		return nil, err
	}

	if forceRole != "" {
		s.Role = forceRole
	}

	role, ok := parabox.ParseRole(s.Role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", s.Role)
	}

	// Stdout may carry envelopes, so logs always go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: s.Level()}))

	e := &env{settings: s, role: role, log: log}
	e.newTransport = e.buildTransport

	if s.MetricsAddr != "" {
		e.registry = prometheus.NewRegistry()
	}

	if s.RedisAddr != "" {
		e.store = parabox.NewRedisStore(s.RedisAddr, s.RedisPrefix)
	}

	return e, nil
}

// close releases the retry store when it holds a connection.
func (e *env) close() {
	if c, ok := e.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.log.Warn("close retry store", "error", err)
		}
	}
}

func (e *env) buildTransport(role parabox.Role) (parabox.Transport, error) {
	s := e.settings

	switch s.Transport {
	case config.TransportStdio:
		return parabox.NewStdioTransport(e.log, os.Stdin, os.Stdout), nil
	case config.TransportWebsocket:
		if role == parabox.RoleCore {
			return parabox.NewWebsocketServer(e.log, s.Listen, s.WebsocketPath), nil
		}

		return parabox.NewWebsocketClient(e.log, s.URL, nil), nil
	case config.TransportNATS:
		return parabox.NewNATSTransport(e.log, s.NATSURL, s.NATSPrefix, role), nil
	case config.TransportSubprocess:
		if role == parabox.RoleCore {
			return nil, errors.New("a core cannot use the subprocess transport")
		}

		return parabox.NewSubprocessTransport(e.log, parabox.SubprocessConfig{
			CorePath: s.CorePath,
			Args:     s.CoreArgs,
			Stderr: func(line string) {
				e.log.Debug("core stderr", "line", line)
			},
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", s.Transport)
	}
}

func (e *env) options(t parabox.Transport) []parabox.Option {
	opts := []parabox.Option{
		parabox.WithTransport(t),
		parabox.WithLogger(e.log),
		parabox.WithSettings(e.settings),
	}

	if e.registry != nil {
		opts = append(opts, parabox.WithMetricsRegisterer(e.registry))
	}

	if e.store != nil {
		opts = append(opts, parabox.WithRetryStore(e.store))
	}

	return opts
}

// serveMetrics serves the registry on the metrics address until ctx is done.
// It returns immediately when metrics are disabled.
func (e *env) serveMetrics(ctx context.Context) error {
	if e.registry == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              e.settings.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	e.log.Info("serving metrics", "addr", srv.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}
