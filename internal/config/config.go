// Package config loads the simulator daemon's settings: defaults, then an
// optional YAML file, then TANKSIM_* environment overrides. Command-line
// flags are applied last by cmd/tanksim.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/tanknet-simulator/internal/observability"
	"github.com/signalsfoundry/tanknet-simulator/internal/script"
	"github.com/signalsfoundry/tanknet-simulator/internal/transport"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Simulation SimulationConfig           `yaml:"simulation"`
	Transport  TransportConfig            `yaml:"transport"`
	Commands   CommandsConfig             `yaml:"commands"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Health     HealthConfig               `yaml:"health"`
	Log        LogConfig                  `yaml:"log"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
}

type SimulationConfig struct {
	// Topology is a built-in descriptor name or a path to a YAML file.
	Topology string `yaml:"topology" validate:"required"`
	// Tick is both the clock interval and the integrator's dt. Zero takes
	// dt from the topology's tick_seconds.
	Tick time.Duration `yaml:"tick" validate:"gte=0"`

	// Seed of 0 picks a random seed at startup.
	Seed     uint64        `yaml:"seed"`
	Duration time.Duration `yaml:"duration" validate:"gte=0"`
	// Mode is realtime or accelerated.
	Mode   string `yaml:"mode" validate:"omitempty,oneof=realtime real-time accelerated"`
	Paused bool   `yaml:"paused"`

	// Script lists commands to send at fixed simulated times.
	Script []script.Step `yaml:"script" validate:"dive"`
}

type TransportConfig struct {
	Kind           string        `yaml:"kind" validate:"oneof=nng memory"`
	TelemetryAddr  string        `yaml:"telemetry_addr" validate:"required_if=Kind nng"`
	CommandAddr    string        `yaml:"command_addr" validate:"required_if=Kind nng"`
	TelemetryTopic string        `yaml:"telemetry_topic" validate:"required"`
	CommandTopic   string        `yaml:"command_topic" validate:"required"`
	EventsTopic    string        `yaml:"events_topic" validate:"required"`
	Encoding       string        `yaml:"encoding" validate:"oneof=json proto protobuf"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gte=0"`
}

type CommandsConfig struct {
	// RatePerSecond of 0 disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int     `yaml:"burst" validate:"gte=0"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type HealthConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			Topology: "four-tank-leak",
			Mode:     "realtime",
		},
		Transport: TransportConfig{
			Kind:           "nng",
			TelemetryAddr:  "tcp://0.0.0.0:5555",
			CommandAddr:    "tcp://0.0.0.0:5556",
			TelemetryTopic: transport.TopicTelemetry,
			CommandTopic:   transport.TopicCommands,
			EventsTopic:    transport.TopicEvents,
			Encoding:       "json",
			PollInterval:   200 * time.Millisecond,
		},
		Commands: CommandsConfig{RatePerSecond: 20, Burst: 40},
		Metrics:  MetricsConfig{Addr: ":9090"},
		Health:   HealthConfig{Addr: ":50051"},
		Log:      LogConfig{Level: "info", Format: "json"},
		Tracing:  observability.DefaultTracingConfig(),
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	cfg = ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// ApplyEnv overlays TANKSIM_* variables on cfg.
func ApplyEnv(cfg Config) Config {
	s := &cfg.Simulation
	s.Topology = getEnv("TANKSIM_TOPOLOGY", s.Topology)
	s.Tick = getEnvDuration("TANKSIM_TICK", s.Tick)
	s.Seed = getEnvUint("TANKSIM_SEED", s.Seed)
	s.Duration = getEnvDuration("TANKSIM_DURATION", s.Duration)
	s.Mode = strings.ToLower(getEnv("TANKSIM_MODE", s.Mode))
	if getEnvBool("TANKSIM_ACCELERATED", false) {
		s.Mode = "accelerated"
	}
	s.Paused = getEnvBool("TANKSIM_START_PAUSED", s.Paused)

	t := &cfg.Transport
	t.Kind = strings.ToLower(getEnv("TANKSIM_TRANSPORT", t.Kind))
	t.TelemetryAddr = getEnv("TANKSIM_TELEMETRY_ADDR", t.TelemetryAddr)
	t.CommandAddr = getEnv("TANKSIM_COMMAND_ADDR", t.CommandAddr)
	t.TelemetryTopic = getEnv("TANKSIM_TELEMETRY_TOPIC", t.TelemetryTopic)
	t.CommandTopic = getEnv("TANKSIM_COMMAND_TOPIC", t.CommandTopic)
	t.EventsTopic = getEnv("TANKSIM_EVENTS_TOPIC", t.EventsTopic)
	t.Encoding = strings.ToLower(getEnv("TANKSIM_ENCODING", t.Encoding))

	cfg.Commands.RatePerSecond = getEnvFloat("TANKSIM_COMMAND_RATE", cfg.Commands.RatePerSecond)
	cfg.Commands.Burst = getEnvInt("TANKSIM_COMMAND_BURST", cfg.Commands.Burst)

	cfg.Metrics.Addr = getEnv("TANKSIM_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Health.Addr = getEnv("TANKSIM_HEALTH_ADDR", cfg.Health.Addr)

	cfg.Log.Level = strings.ToLower(getEnv("TANKSIM_LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(getEnv("TANKSIM_LOG_FORMAT", cfg.Log.Format))

	cfg.Tracing = observability.ApplyTracingEnv(cfg.Tracing)
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and returns the first few failures joined
// under ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for _, topic := range []string{c.Transport.TelemetryTopic, c.Transport.CommandTopic, c.Transport.EventsTopic} {
		if strings.ContainsAny(topic, " \t\r\n") {
			return fmt.Errorf("%w: topic %q contains whitespace", ErrInvalidConfig, topic)
		}
	}
	if c.Commands.RatePerSecond > 0 && c.Commands.Burst == 0 {
		return fmt.Errorf("%w: commands.burst must be positive when a rate is set", ErrInvalidConfig)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseUint(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
