// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration shared by the server and
// worker binaries.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Worker        WorkerConfig        `yaml:"worker"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Queue         QueueConfig         `yaml:"queue"`
	LLM           LLMConfig           `yaml:"llm"`
	Stream        StreamConfig        `yaml:"stream"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// WorkerConfig describes the task worker pool.
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig describes the progress ledger persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" or "memory"
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig describes the broker connection shared by the bridge and the
// task queue.
type RedisConfig struct {
	AddrEnv     string        `yaml:"addr_env"`
	Addr        string        `yaml:"addr"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Address resolves the Redis address, preferring the environment variable.
func (c RedisConfig) Address() string {
	if c.AddrEnv != "" {
		if v := os.Getenv(c.AddrEnv); v != "" {
			return v
		}
	}
	return c.Addr
}

// QueueConfig describes the task queue settings.
type QueueConfig struct {
	Name           string        `yaml:"name"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	PopTimeout     time.Duration `yaml:"pop_timeout"`
}

// LLMConfig describes the text-generation service client.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // "openai", "mock"
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// StreamConfig describes connection fan-out behavior. The caps and intervals
// are deliberately tunable rather than fixed constants.
type StreamConfig struct {
	MaxConnections        int           `yaml:"max_connections"`
	MaxConnectionsPerTask int           `yaml:"max_connections_per_task"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	GraceDelay            time.Duration `yaml:"grace_delay"`
	SendBuffer            int           `yaml:"send_buffer"`
	PublishBuffer         int           `yaml:"publish_buffer"`
	PingInterval          time.Duration `yaml:"ping_interval"`
	WriteTimeout          time.Duration `yaml:"write_timeout"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "postgres",
			DSNEnv:          "SKILLSTREAM_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			AddrEnv:     "SKILLSTREAM_REDIS_ADDR",
			Addr:        "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		Queue: QueueConfig{
			Name:           "skillstream:tasks",
			IdempotencyTTL: 24 * time.Hour,
			PopTimeout:     5 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.1,
			Timeout:     120 * time.Second,
		},
		Stream: StreamConfig{
			MaxConnections:        100,
			MaxConnectionsPerTask: 3,
			PollInterval:          1 * time.Second,
			GraceDelay:            5 * time.Second,
			SendBuffer:            16,
			PublishBuffer:         256,
			PingInterval:          30 * time.Second,
			WriteTimeout:          10 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, "worker.concurrency must be at least 1")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (postgres, memory)", c.Store.Driver))
	}
	if c.Queue.Name == "" {
		errs = append(errs, "queue.name is required")
	}
	if c.Stream.MaxConnections < 1 {
		errs = append(errs, "stream.max_connections must be at least 1")
	}
	if c.Stream.MaxConnectionsPerTask < 1 {
		errs = append(errs, "stream.max_connections_per_task must be at least 1")
	}
	if c.Stream.MaxConnectionsPerTask > c.Stream.MaxConnections {
		errs = append(errs, "stream.max_connections_per_task cannot exceed stream.max_connections")
	}
	if c.Stream.PollInterval <= 0 {
		errs = append(errs, "stream.poll_interval must be positive")
	}
	// The baseline snapshot for a terminal task is two frames, sent before
	// the connection's write pump starts.
	if c.Stream.SendBuffer != 0 && c.Stream.SendBuffer < 2 {
		errs = append(errs, "stream.send_buffer must be 0 (default) or at least 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads SKILLSTREAM_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKILLSTREAM_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SKILLSTREAM_WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("SKILLSTREAM_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SKILLSTREAM_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("SKILLSTREAM_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SKILLSTREAM_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
