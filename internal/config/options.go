package config

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/parabox-connector-go/internal/retry"
)

// Default timeouts.
const (
	DefaultCommandTimeout = 3000 * time.Millisecond
	DefaultRequestTimeout = 6000 * time.Millisecond
)

// Options configures a Parabox endpoint.
type Options struct {
	// ===== Basic Configuration =====

	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Transport carries envelopes to and from peers. Required.
	// This field is not serialized to JSON.
	Transport Transport `json:"-"`

	// ===== Timeouts =====

	// CommandTimeout bounds how long a controller waits for a command
	// acknowledgement. Zero uses 3000 ms.
	CommandTimeout time.Duration

	// RequestTimeout bounds how long a core waits for a receive or sync
	// request acknowledgement. Zero uses 6000 ms.
	RequestTimeout time.Duration

	// ===== Retry =====

	// RetryStore persists undelivered messages.
	// If nil, an in-memory store is used.
	RetryStore retry.Store `json:"-"`

	// ReplayConcurrency bounds parallel replays per queue during refresh.
	// Zero uses the queue default.
	ReplayConcurrency int

	// ===== Observability =====

	// MetricsRegisterer receives the endpoint's Prometheus collectors.
	// If nil, metrics are not recorded.
	MetricsRegisterer prometheus.Registerer `json:"-"`

	// TracerProvider creates spans around calls and handlers.
	// If nil, the global provider is used.
	TracerProvider trace.TracerProvider `json:"-"`
}

// CommandTimeoutOrDefault returns CommandTimeout or its default.
func (o *Options) CommandTimeoutOrDefault() time.Duration {
	if o.CommandTimeout > 0 {
		return o.CommandTimeout
	}

	return DefaultCommandTimeout
}

// RequestTimeoutOrDefault returns RequestTimeout or its default.
func (o *Options) RequestTimeoutOrDefault() time.Duration {
	if o.RequestTimeout > 0 {
		return o.RequestTimeout
	}

	return DefaultRequestTimeout
}

// RetryStoreOrDefault returns RetryStore or a fresh in-memory store.
func (o *Options) RetryStoreOrDefault() retry.Store {
	if o.RetryStore != nil {
		return o.RetryStore
	}

	return retry.NewMemoryStore()
}

// LoggerOrDefault returns Logger or a logger that discards everything.
func (o *Options) LoggerOrDefault() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.New(slog.DiscardHandler)
}
