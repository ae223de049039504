package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the tracker service. Values come from the
// config file with environment-variable overrides; all fields have
// defaults so the service starts with no file at all.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	History   HistoryConfig   `mapstructure:"history"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

type StreamingConfig struct {
	// WSPushInterval is the cadence of progress_update pushes per socket.
	WSPushInterval time.Duration `mapstructure:"ws_push_interval"`
	// SSEPushInterval is the cadence of SSE snapshot events.
	SSEPushInterval time.Duration `mapstructure:"sse_push_interval"`
	// ReadPollInterval bounds how long a socket read blocks before the
	// loop checks the push cadence again.
	ReadPollInterval time.Duration `mapstructure:"read_poll_interval"`
	// InboundRate caps client messages per second per connection.
	InboundRate  float64 `mapstructure:"inbound_rate"`
	InboundBurst int     `mapstructure:"inbound_burst"`
}

type AuthConfig struct {
	SkipAuth   bool   `mapstructure:"skip_auth"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	APIKeyFile string `mapstructure:"api_key_file"`
}

type CleanupConfig struct {
	// MaxAge is the default retention for finished workflows when the
	// maintenance endpoint is called without an explicit age.
	MaxAge time.Duration `mapstructure:"max_age"`
}

type MirrorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // postgres or sqlite3
	DSN     string `mapstructure:"dsn"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Load reads the config file from CONFIG_PATH or ./config/tracker.yaml.
// A missing file is fine; defaults and env overrides still apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/tracker.yaml"
	}
	return LoadFile(cfgPath)
}

// LoadFile reads a specific config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRACKER")
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("streaming.ws_push_interval", 2*time.Second)
	v.SetDefault("streaming.sse_push_interval", 3*time.Second)
	v.SetDefault("streaming.read_poll_interval", 100*time.Millisecond)
	v.SetDefault("streaming.inbound_rate", 10.0)
	v.SetDefault("streaming.inbound_burst", 20)
	v.SetDefault("auth.skip_auth", false)
	v.SetDefault("cleanup.max_age", 24*time.Hour)
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.redis_url", "redis://localhost:6379")
	v.SetDefault("mirror.ttl", 6*time.Hour)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.driver", "postgres")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "contractpulse-tracker")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// Store is an atomically swappable view of the live configuration. The
// streaming loops read from it on every tick so hot reloads take effect
// without restarting connections.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore seeds a store with the initial configuration.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.ptr.Store(cfg)
	return s
}

// Get returns the current configuration. Never nil.
func (s *Store) Get() *Config {
	return s.ptr.Load()
}

// Set replaces the current configuration.
func (s *Store) Set(cfg *Config) {
	s.ptr.Store(cfg)
}
