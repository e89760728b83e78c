// Package config handles loading and validating the aura configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the aura daemon.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Transports TransportsConfig  `mapstructure:"transports"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Context    ContextConfig     `mapstructure:"context"`
	Fallback   FallbackConfig    `mapstructure:"fallback"`
	Targets    map[string]Target `mapstructure:"targets"`
	Logging    LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

// TransportsConfig holds the configuration for each transport layer.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
	MQTT MQTTConfig `mapstructure:"mqtt"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
}

// PipelineConfig tunes the rule matcher.
type PipelineConfig struct {
	AcceptThreshold float64 `mapstructure:"accept_threshold"`
	FuzzyFloor      float64 `mapstructure:"fuzzy_floor"`
	ContextPenalty  float64 `mapstructure:"context_penalty"`
	IntentsFile     string  `mapstructure:"intents_file"` // empty uses the built-in table
}

// ContextConfig configures conversational history.
type ContextConfig struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`   // 0 disables expiry
	Store    string        `mapstructure:"store"` // "memory" or "redis"
	RedisURL string        `mapstructure:"redis_url"`
}

// FallbackConfig selects and configures the model classifier.
type FallbackConfig struct {
	Backend    string        `mapstructure:"backend"` // "local", "openai" or "none"
	Timeout    time.Duration `mapstructure:"timeout"`
	Confidence float64       `mapstructure:"confidence"`
	Local      LocalConfig   `mapstructure:"local"`
	OpenAI     OpenAIConfig  `mapstructure:"openai"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// LocalConfig holds self-hosted model settings.
type LocalConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"` // Ollama model name (e.g., "llama3.2:1b")
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// BreakerConfig controls the circuit breaker around the model backend.
type BreakerConfig struct {
	Failures uint32        `mapstructure:"failures"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Target defines a downstream service that executes forwarded intents.
type Target struct {
	Endpoint string   `mapstructure:"endpoint"`
	Protocol string   `mapstructure:"protocol"`
	Token    string   `mapstructure:"token"`
	Intents  []string `mapstructure:"intents"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./aura.yaml, ./configs/aura.yaml, /etc/aura/aura.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", true)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.topic", "aura/utterances")
	v.SetDefault("transports.mqtt.client_id", "aura")
	v.SetDefault("pipeline.accept_threshold", 0.75)
	v.SetDefault("pipeline.fuzzy_floor", 0.6)
	v.SetDefault("pipeline.context_penalty", 0.1)
	v.SetDefault("pipeline.intents_file", "")
	v.SetDefault("context.capacity", 5)
	v.SetDefault("context.ttl", 2*time.Minute)
	v.SetDefault("context.store", "memory")
	v.SetDefault("context.redis_url", "redis://localhost:6379/0")
	v.SetDefault("fallback.backend", "local")
	v.SetDefault("fallback.timeout", 3*time.Second)
	v.SetDefault("fallback.confidence", 0.5)
	v.SetDefault("fallback.local.endpoint", "http://localhost:11434/api/generate")
	v.SetDefault("fallback.local.model", "llama3.2:1b")
	v.SetDefault("fallback.openai.model", "gpt-4o-mini")
	v.SetDefault("fallback.breaker.failures", 5)
	v.SetDefault("fallback.breaker.cooldown", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("aura")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/aura")
	}

	// Environment variables: AURA_SERVER_HEALTH_PORT, AURA_FALLBACK_BACKEND, etc.
	v.SetEnvPrefix("AURA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional; env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Fallback.OpenAI.APIKey = resolveEnvRef(cfg.Fallback.OpenAI.APIKey)
	cfg.Context.RedisURL = resolveEnvRef(cfg.Context.RedisURL)
	for name, target := range cfg.Targets {
		target.Token = resolveEnvRef(target.Token)
		cfg.Targets[name] = target
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Pipeline.AcceptThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.accept_threshold must be in (0, 1], got %v", t))
	}
	if f := c.Pipeline.FuzzyFloor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("pipeline.fuzzy_floor must be in [0, 1], got %v", f))
	}
	if p := c.Pipeline.ContextPenalty; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("pipeline.context_penalty must be in [0, 1], got %v", p))
	}
	if c.Context.Capacity < 1 {
		errs = append(errs, fmt.Errorf("context.capacity must be positive, got %d", c.Context.Capacity))
	}
	if c.Context.TTL < 0 {
		errs = append(errs, fmt.Errorf("context.ttl must not be negative, got %s", c.Context.TTL))
	}
	switch c.Context.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("context.store: unknown store %q", c.Context.Store))
	}
	switch c.Fallback.Backend {
	case "local", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("fallback.backend: unknown backend %q", c.Fallback.Backend))
	}
	for name, target := range c.Targets {
		if target.Endpoint == "" {
			errs = append(errs, fmt.Errorf("targets.%s: endpoint is required", name))
		}
		switch target.Protocol {
		case "grpc", "http", "mqtt":
		default:
			errs = append(errs, fmt.Errorf("targets.%s: unsupported protocol %q", name, target.Protocol))
		}
	}
	return errors.Join(errs...)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
