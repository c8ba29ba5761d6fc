// Package config provides the configuration schema, loader, watcher and
// source registry of the andesite node.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":5000"
	DefaultSearchPrefix        = "ytsearch:"
	DefaultCompatStatsInterval = 60 * time.Second
	DefaultServiceName         = "andesite"
)

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Node      NodeConfig      `yaml:"node"`
	Discord   DiscordConfig   `yaml:"discord"`
	Sources   SourcesConfig   `yaml:"sources"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listener and client-facing settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the REST and websocket server.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// Password is compared against the Authorization header. Empty disables
	// authentication.
	Password string `yaml:"password"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// NodeID and NodeRegion are reported to native clients on connect.
	NodeID     string `yaml:"node_id"`
	NodeRegion string `yaml:"node_region"`

	// CompatStatsInterval is the stats period of compatibility clients.
	CompatStatsInterval time.Duration `yaml:"compat_stats_interval"`
}

// TLSConfig points at a PEM certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// NodeConfig holds player and track resolution tunables.
type NodeConfig struct {
	// AutoSearch prefixes identifiers that are neither URLs nor prefixed
	// searches. Nil means enabled.
	AutoSearch *bool `yaml:"auto_search"`

	DefaultSearchPrefix string   `yaml:"default_search_prefix"`
	SearchPrefixes      []string `yaml:"search_prefixes"`

	// FrameBuffer is the frame capacity of each player's pump.
	FrameBuffer int `yaml:"frame_buffer"`

	// PumpRetry is the delay before a pump retries a frame its consumer
	// refused.
	PumpRetry time.Duration `yaml:"pump_retry"`

	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StateInterval time.Duration `yaml:"state_interval"`

	// Workers is the number of frame pump workers. Zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`

	TrackLoading BreakerConfig `yaml:"track_loading"`
}

// AutoSearchEnabled resolves the nil default of AutoSearch.
func (n NodeConfig) AutoSearchEnabled() bool {
	return n.AutoSearch == nil || *n.AutoSearch
}

// BreakerConfig tunes the circuit breaker in front of track loading.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// DiscordConfig holds the bot credentials used for voice connections.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// SourcesConfig enables track sources.
type SourcesConfig struct {
	WAV WAVSourceConfig `yaml:"wav"`
}

// WAVSourceConfig serves WAV files below Root.
type WAVSourceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

// Enabled returns the names of enabled sources in registry order.
func (s SourcesConfig) Enabled() []string {
	var out []string
	if s.WAV.Enabled {
		out = append(out, SourceWAV)
	}
	return out
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// RuntimeMetrics adds Go runtime and process collectors to /metrics.
	RuntimeMetrics bool `yaml:"runtime_metrics"`
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.CompatStatsInterval == 0 {
		cfg.Server.CompatStatsInterval = DefaultCompatStatsInterval
	}
	if cfg.Node.DefaultSearchPrefix == "" {
		cfg.Node.DefaultSearchPrefix = DefaultSearchPrefix
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
