// Package config provides configuration management for taskd.
// It uses koanf v2 to load configuration from a YAML file, overlays
// TASKD_-prefixed environment variables, and records a generated instance
// id back into the YAML file so it survives restarts.
//
// Configuration is loaded from /etc/taskd/config.yaml by default. The file
// may hold an NKey seed, so it is written with 0600 permissions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/doughall/taskd/internal/schedule"
)

// DefaultConfigPath is the default location for the daemon configuration file.
const DefaultConfigPath = "/etc/taskd/config.yaml"

// EnvPrefix prefixes environment overrides, e.g. TASKD_LOG_LEVEL.
const EnvPrefix = "TASKD_"

// Config holds the daemon configuration.
type Config struct {
	// Locale names the language used for month and day names in date strings.
	// Default: "en_gb". Fixed for the lifetime of the process.
	Locale string `koanf:"locale"`

	// Endianness is the date field order: "L" (day first), "M" (month first)
	// or "B" (year first). Default: "L". Fixed for the lifetime of the process.
	Endianness string `koanf:"endianness"`

	// Timezone is an IANA zone name used for date strings and calendar fields.
	// Default: "Local".
	Timezone string `koanf:"timezone"`

	// LogLevel controls logging verbosity: "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level"`

	// HTTPAddr is the listen address for /healthz, /metrics, /ws and
	// /api/commands. Empty disables the HTTP server.
	HTTPAddr string `koanf:"http_addr"`

	// HistoryPath is the bbolt file for activation history. Empty disables
	// history.
	HistoryPath  string `koanf:"history_path"`
	HistoryLimit int    `koanf:"history_limit"`

	// NATSServers is a comma-separated list of NATS server URLs.
	// Empty disables the NATS transport.
	NATSServers string `koanf:"nats_servers"`

	// NATSNKeySeed is an optional NKey seed for NATS authentication.
	NATSNKeySeed string `koanf:"nats_nkey_seed"`

	// NATSSubjectPrefix prefixes every NATS subject. Default: "taskd".
	NATSSubjectPrefix string `koanf:"nats_subject_prefix"`

	// InstanceID identifies this daemon on the bus. Generated when empty.
	InstanceID string `koanf:"instance_id"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	WebhookTimeout    time.Duration `koanf:"webhook_timeout"`
	WebhookRetryMax   int           `koanf:"webhook_retry_max"`
	ExecTimeout       time.Duration `koanf:"exec_timeout"`

	// CommandRate and CommandBurst limit commands per WebSocket connection.
	// A zero rate disables limiting.
	CommandRate  float64 `koanf:"command_rate"`
	CommandBurst int     `koanf:"command_burst"`

	instanceIDGenerated bool
}

// Validation errors returned by Load.
var (
	ErrInvalidLocale       = errors.New("locale is not a valid language tag")
	ErrInvalidEndianness   = errors.New(`endianness must be "L", "M" or "B"`)
	ErrInvalidTimezone     = errors.New("timezone is not a known IANA zone")
	ErrInvalidLogLevel     = errors.New(`log_level must be "debug", "info", "warn" or "error"`)
	ErrInvalidHistoryLimit = errors.New("history_limit must not be negative")
	ErrInvalidInterval     = errors.New("heartbeat_interval must be positive")
	ErrInvalidRate         = errors.New("command_rate and command_burst must not be negative")
)

// Load reads configuration from path, then applies environment overrides,
// defaults and validation. A missing file at path is not an error when
// path is DefaultConfigPath.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		if err != nil && !(path == DefaultConfigPath && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	// TASKD_NATS_SERVERS -> nats_servers
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields.
func (c *Config) applyDefaults() {
	if c.Locale == "" {
		c.Locale = "en_gb"
	}
	if c.Endianness == "" {
		c.Endianness = string(schedule.LittleEndian)
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = 1000
	}
	if c.NATSSubjectPrefix == "" {
		c.NATSSubjectPrefix = "taskd"
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
		c.instanceIDGenerated = true
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WebhookTimeout == 0 {
		c.WebhookTimeout = 30 * time.Second
	}
	if c.WebhookRetryMax == 0 {
		c.WebhookRetryMax = 3
	}
	if c.ExecTimeout == 0 {
		c.ExecTimeout = 5 * time.Minute
	}
	if c.CommandBurst == 0 {
		c.CommandBurst = 20
	}
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	if _, err := schedule.ResolveLocale(c.Locale); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLocale, c.Locale)
	}
	if _, err := schedule.Layouts(schedule.Endianness(c.Endianness)); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEndianness, c.Endianness)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.LogLevel)
	}
	if c.HistoryLimit < 0 {
		return ErrInvalidHistoryLimit
	}
	if c.HeartbeatInterval < 0 {
		return ErrInvalidInterval
	}
	if c.CommandRate < 0 || c.CommandBurst < 0 {
		return ErrInvalidRate
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// NATSEnabled returns true if NATS configuration is present.
func (c *Config) NATSEnabled() bool {
	return c.NATSServers != ""
}

// HistoryEnabled returns true if activation history is persisted.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryPath != ""
}

// InstanceIDGenerated reports whether InstanceID was generated by Load
// rather than read from the file or environment.
func (c *Config) InstanceIDGenerated() bool {
	return c.instanceIDGenerated
}

// SaveInstanceID records id as instance_id in the YAML file at path. Other
// keys are kept as written, so environment overrides never reach the file.
// A missing file is created with 0600 permissions.
func SaveInstanceID(path, id string) error {
	doc := map[string]any{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := goyaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	doc["instance_id"] = id

	out, err := goyaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}
