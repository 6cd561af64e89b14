// Package config loads the hub configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FOXHUB_SERVER_ADDR.
const EnvPrefix = "FOXHUB_"

// Default values applied when fields are absent from the config file.
const (
	DefaultName             = "foxglove-hub"
	DefaultAddr             = ":8765"
	DefaultPath             = "/"
	DefaultMetricsPath      = "/metrics"
	DefaultQueueSize        = 10
	DefaultMaxDroppedFrames = 100
	DefaultPingInterval     = 30 * time.Second
	DefaultActivityTimeout  = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultRedisAddr        = "localhost:6379"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
)

// Config is the top-level hub configuration.
type Config struct {
	Server ServerConfig `yaml:"server" envPrefix:"SERVER_"`

	// Parameters seeds the parameter store. It is reloaded when the file
	// changes.
	Parameters map[string]string `yaml:"parameters"`

	Relay   RelayConfig   `yaml:"relay" envPrefix:"RELAY_"`
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`

	// Demo starts the built-in example publishers.
	Demo bool `yaml:"demo" env:"DEMO"`
}

// ServerConfig holds the listener and per-client settings.
type ServerConfig struct {
	// Name is reported to clients in serverInfo.
	Name        string `yaml:"name" env:"NAME"`
	Addr        string `yaml:"addr" env:"ADDR"`
	Path        string `yaml:"path" env:"PATH"`
	MetricsPath string `yaml:"metrics_path" env:"METRICS_PATH"`

	// QueueSize is the outbound queue capacity of each client.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`

	// MaxDroppedFrames is how many consecutive data frames a client may miss
	// before it is disconnected. 0 never disconnects.
	MaxDroppedFrames int `yaml:"max_dropped_frames" env:"MAX_DROPPED_FRAMES"`

	PingInterval    time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`
	ActivityTimeout time.Duration `yaml:"activity_timeout" env:"ACTIVITY_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// RelayConfig configures the optional Redis relay.
type RelayConfig struct {
	Enabled bool        `yaml:"enabled" env:"ENABLED"`
	Redis   RedisConfig `yaml:"redis" envPrefix:"REDIS_"`

	// Presence publishes client connect/disconnect events.
	Presence         bool   `yaml:"presence" env:"PRESENCE"`
	PresenceChannel  string `yaml:"presence_channel" env:"PRESENCE_CHANNEL"`
	OnlineClientsKey string `yaml:"online_clients_key" env:"ONLINE_CLIENTS_KEY"`

	// Routes forward Redis channels into hub channels.
	Routes []RouteConfig `yaml:"routes"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// RouteConfig maps one Redis channel to one hub channel.
type RouteConfig struct {
	Source     string `yaml:"source"`
	Topic      string `yaml:"topic"`
	Encoding   string `yaml:"encoding"`
	SchemaName string `yaml:"schema_name"`
	Schema     string `yaml:"schema"`
	Latching   bool   `yaml:"latching"`
}

type LoggingConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is one of: json | console.
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads the YAML config file at path and applies environment overrides.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile exports the variables of a dotenv file so that Load sees them.
// Variables already set in the environment win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load env file: %w", err)
	}
	return nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:             DefaultName,
			Addr:             DefaultAddr,
			Path:             DefaultPath,
			MetricsPath:      DefaultMetricsPath,
			QueueSize:        DefaultQueueSize,
			MaxDroppedFrames: DefaultMaxDroppedFrames,
			PingInterval:     DefaultPingInterval,
			ActivityTimeout:  DefaultActivityTimeout,
			WriteTimeout:     DefaultWriteTimeout,
			ShutdownTimeout:  DefaultShutdownTimeout,
		},
		Parameters: map[string]string{},
		Relay: RelayConfig{
			Redis: RedisConfig{Addr: DefaultRedisAddr},
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.Addr == "" {
		return errors.New("server.addr is required")
	}
	if s.Path == "" || s.Path[0] != '/' {
		return fmt.Errorf("server.path must start with /, got %q", s.Path)
	}
	if s.MetricsPath != "" && s.MetricsPath == s.Path {
		return errors.New("server.metrics_path must differ from server.path")
	}
	if s.QueueSize <= 0 {
		return errors.New("server.queue_size must be positive")
	}
	if s.MaxDroppedFrames < 0 {
		return errors.New("server.max_dropped_frames must not be negative")
	}
	if s.PingInterval < 0 || s.ActivityTimeout < 0 {
		return errors.New("server.ping_interval and server.activity_timeout must not be negative")
	}
	if s.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q", cfg.Logging.Format)
	}

	if cfg.Relay.Enabled && cfg.Relay.Redis.Addr == "" {
		return errors.New("relay.redis.addr is required when the relay is enabled")
	}
	for i, r := range cfg.Relay.Routes {
		if r.Source == "" {
			return fmt.Errorf("relay.routes[%d]: source is required", i)
		}
		if r.Topic == "" {
			return fmt.Errorf("relay.routes[%d] %q: topic is required", i, r.Source)
		}
		if r.Encoding == "" {
			return fmt.Errorf("relay.routes[%d] %q: encoding is required", i, r.Source)
		}
	}
	return nil
}
