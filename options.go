package parabox

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/retry"
)

// Options is the full configuration of an endpoint.
type Options struct {
	config.Options

	// Extension receives core lifecycle hooks and domain commands.
	// Ignored by controllers. If nil, a no-op extension is used.
	Extension Extension `json:"-"`
}

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithTransport sets the transport carrying envelopes. Required.
func WithTransport(t Transport) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// WithExtension sets the core extension.
func WithExtension(ext Extension) Option {
	return func(o *Options) {
		o.Extension = ext
	}
}

// ===== Timeouts =====

// WithCommandTimeout bounds how long a controller waits for a command
// acknowledgement. Defaults to 3000 ms.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.CommandTimeout = d
	}
}

// WithRequestTimeout bounds how long a core waits for the main host to
// acknowledge a receive or sync request. Defaults to 6000 ms.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = d
	}
}

// ===== Retry =====

// WithRetryStore sets where undelivered messages are kept.
// Defaults to an in-memory store.
func WithRetryStore(store RetryStore) Option {
	return func(o *Options) {
		o.RetryStore = store
	}
}

// WithReplayConcurrency bounds parallel replays per queue during refresh.
func WithReplayConcurrency(n int) Option {
	return func(o *Options) {
		o.ReplayConcurrency = n
	}
}

// ===== Observability =====

// WithMetricsRegisterer registers the endpoint's Prometheus collectors.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(o *Options) {
		o.MetricsRegisterer = r
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// WithSettings applies the protocol fields of file and environment settings.
func WithSettings(s Settings) Option {
	return func(o *Options) {
		s.Apply(&o.Options)
	}
}

// RetryStore persists undelivered messages keyed by queue and message id.
type RetryStore = retry.Store

// Settings is the file and environment configuration read by LoadSettings.
type Settings = config.Settings

// NewMemoryStore returns an in-memory RetryStore.
func NewMemoryStore() *retry.MemoryStore {
	return retry.NewMemoryStore()
}

// NewRedisStore returns a RetryStore keeping one Redis hash per queue.
func NewRedisStore(addr, prefix string) *retry.RedisStore {
	return retry.NewRedisStore(addr, prefix)
}

// LoadSettings reads defaults, then the JSON-with-comments file at path when
// path is not empty, then PARABOX_* environment variables.
func LoadSettings(path string) (Settings, error) {
	return config.LoadSettings(path)
}
