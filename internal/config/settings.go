package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"

	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "PARABOX"

// Transport kinds understood by Settings.
const (
	TransportStdio      = "stdio"
	TransportSubprocess = "subprocess"
	TransportWebsocket  = "websocket"
	TransportNATS       = "nats"
)

// Duration is a time.Duration read from "3s" style strings or from a
// number of milliseconds.
type Duration time.Duration

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	return d.parse(strings.TrimSpace(value))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}

		return d.parse(s)
	}

	return d.parse(string(data))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(time.Duration(d).String())), nil
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0

		return nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)

		return nil
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}

	*d = Duration(v)

	return nil
}

// Settings is the file and environment configuration of the parabox command.
type Settings struct {
	// Role is the local endpoint role: core, controller or main_host.
	Role string `json:"role" envconfig:"ROLE"`

	// Transport selects how peers are reached.
	Transport string `json:"transport" envconfig:"TRANSPORT"`

	// Listen is the websocket listen address of a core.
	Listen string `json:"listen" envconfig:"LISTEN"`

	// URL is the websocket URL a controller dials.
	URL string `json:"url" envconfig:"URL"`

	// WebsocketPath is the HTTP path served by a websocket core.
	WebsocketPath string `json:"websocket_path" envconfig:"WEBSOCKET_PATH"`

	NATSURL    string `json:"nats_url" envconfig:"NATS_URL"`
	NATSPrefix string `json:"nats_prefix" envconfig:"NATS_PREFIX"`

	// CorePath and CoreArgs start a core process for the subprocess transport.
	CorePath string   `json:"core_path" envconfig:"CORE_PATH"`
	CoreArgs []string `json:"core_args" envconfig:"CORE_ARGS"`

	CommandTimeout Duration `json:"command_timeout" envconfig:"COMMAND_TIMEOUT"`
	RequestTimeout Duration `json:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// RedisAddr enables the Redis retry store when set.
	RedisAddr   string `json:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPrefix string `json:"redis_prefix" envconfig:"REDIS_PREFIX"`

	ReplayConcurrency int `json:"replay_concurrency" envconfig:"REPLAY_CONCURRENCY"`

	// MetricsAddr serves /metrics when set.
	MetricsAddr string `json:"metrics_addr" envconfig:"METRICS_ADDR"`

	LogLevel string `json:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Role:           "controller",
		Transport:      TransportStdio,
		Listen:         "127.0.0.1:7650",
		URL:            "ws://127.0.0.1:7650/parabox",
		WebsocketPath:  "/parabox",
		NATSURL:        "nats://127.0.0.1:4222",
		NATSPrefix:     "parabox",
		CommandTimeout: Duration(DefaultCommandTimeout),
		RequestTimeout: Duration(DefaultRequestTimeout),
		LogLevel:       "info",
	}
}

// LoadSettings starts from DefaultSettings, overlays the JSON-with-comments
// file at path when path is not empty, then overlays PARABOX_* environment
// variables.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config failed: %w", err)
		}

		if err := s.merge(content); err != nil {
			return Settings{}, fmt.Errorf("parse config failed: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("read environment failed: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	return s, nil
}

// merge overlays a JSONC document onto s.
func (s *Settings) merge(content []byte) error {
	std, err := hujson.Standardize(content)
	if err != nil {
		return err
	}

	return jsoncodec.Unmarshal(std, s)
}

// Validate checks that the settings are usable.
func (s *Settings) Validate() error {
	switch s.Role {
	case "core", "controller", "main_host":
	default:
		return fmt.Errorf("unknown role %q", s.Role)
	}

	switch s.Transport {
	case TransportStdio, TransportWebsocket, TransportNATS:
	case TransportSubprocess:
		if s.CorePath == "" {
			return fmt.Errorf("transport %q requires core_path", s.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", s.Transport)
	}

	if s.CommandTimeout < 0 || s.RequestTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	return nil
}

// Level maps LogLevel to a slog level. Unknown names map to info.
func (s *Settings) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return level
}

// Apply copies the protocol settings into o.
func (s *Settings) Apply(o *Options) {
	o.CommandTimeout = time.Duration(s.CommandTimeout)
	o.RequestTimeout = time.Duration(s.RequestTimeout)
	o.ReplayConcurrency = s.ReplayConcurrency
}
