// Package config loads the actorbridge configuration: a viper-backed file
// (yaml/json/toml) merged with environment variables and command-line
// flags, plus a file watcher that hot-reloads tunables that are safe to
// change at runtime.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/webitel/actorbridge/errs"
)

const envPrefix = "ACTORBRIDGE"

// Server configures the hosting role: which listeners to open and how long
// a graceful drain may take.
type Server struct {
	// WSAddr is the websocket listener bind address ("host:port").
	WSAddr string `mapstructure:"ws_addr"`
	// WSPath is the websocket upgrade endpoint path.
	WSPath string `mapstructure:"ws_path"`
	// GRPCAddr is the grpc raw-frame listener bind address. Empty disables it.
	GRPCAddr string `mapstructure:"grpc_addr"`
	// HealthAddr is the health/stats HTTP endpoint bind address.
	HealthAddr string `mapstructure:"health_addr"`
	// DrainTimeout bounds how long Shutdown waits for in-flight work.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// Reconnect mirrors the client connection manager's backoff policy knobs.
type Reconnect struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// Client configures the dialing role.
type Client struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Transport selects the dialer backend: "ws" or "grpc".
	Transport string    `mapstructure:"transport"`
	Reconnect Reconnect `mapstructure:"reconnect"`
}

// Stream holds the stream engine tunables that are hot-reloadable.
type Stream struct {
	CheckpointMaxAge time.Duration `mapstructure:"checkpoint_max_age"`
	ProvisionalGrace time.Duration `mapstructure:"provisional_grace"`
	// SweepSchedule is a cron expression driving the checkpoint janitor.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// Notify configures the cross-replica state-change channel.
type Notify struct {
	Enabled bool `mapstructure:"enabled"`
	// AMQPURL selects the amqp backend when set; empty falls back to the
	// in-process gochannel backend (single-replica deployments, tests).
	AMQPURL string `mapstructure:"amqp_url"`
}

// Trace configures the OpenTelemetry surface.
type Trace struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

type Config struct {
	Server Server `mapstructure:"server"`
	Client Client `mapstructure:"client"`
	Stream Stream `mapstructure:"stream"`
	Notify Notify `mapstructure:"notify"`
	Trace  Trace  `mapstructure:"trace"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.ws_addr", "0.0.0.0:8180")
	v.SetDefault("server.ws_path", "/actorbridge/v1")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.health_addr", "0.0.0.0:8181")
	v.SetDefault("server.drain_timeout", 30*time.Second)

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 8180)
	v.SetDefault("client.transport", "ws")
	v.SetDefault("client.reconnect.enabled", true)
	v.SetDefault("client.reconnect.max_attempts", 0)
	v.SetDefault("client.reconnect.initial_delay", time.Second)
	v.SetDefault("client.reconnect.max_delay", 30*time.Second)
	v.SetDefault("client.reconnect.multiplier", 2.0)

	v.SetDefault("stream.checkpoint_max_age", 300*time.Second)
	v.SetDefault("stream.provisional_grace", 10*time.Second)
	v.SetDefault("stream.sweep_schedule", "@every 1m")

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.amqp_url", "")

	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.service_name", "actorbridge")

	v.SetDefault("log_level", "info")
}

// Flags returns the pflag set the CLI binds on top of the file/env layers.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("actorbridge", pflag.ContinueOnError)
	fs.String("config_file", "", "path to the configuration file")
	fs.String("server.ws_addr", "", "websocket listener address")
	fs.String("server.health_addr", "", "health endpoint address")
	fs.String("client.host", "", "server host to dial")
	fs.Int("client.port", 0, "server port to dial")
	fs.String("log_level", "", "debug|info|warn|error")
	return fs
}

// Load reads the configuration from path (optional; empty means defaults +
// env only), overlays ACTORBRIDGE_* environment variables and any parsed
// flags, validates, and returns the result together with the viper instance
// so Watch can attach to it.
func Load(path string, flags *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, errs.InvalidConfiguration(fmt.Sprintf("read %s: %v", path, err))
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, errs.InvalidConfiguration(fmt.Sprintf("unmarshal: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Validate rejects combinations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Server.WSAddr == "" && c.Server.GRPCAddr == "" {
		return errs.InvalidConfiguration("at least one of server.ws_addr, server.grpc_addr must be set")
	}
	switch c.Client.Transport {
	case "ws", "grpc":
	default:
		return errs.InvalidConfiguration(fmt.Sprintf("client.transport %q is not one of ws, grpc", c.Client.Transport))
	}
	if c.Client.Reconnect.Multiplier < 1 {
		return errs.InvalidConfiguration("client.reconnect.multiplier must be >= 1")
	}
	if c.Stream.CheckpointMaxAge <= 0 {
		return errs.InvalidConfiguration("stream.checkpoint_max_age must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errs.InvalidConfiguration(fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	return nil
}
