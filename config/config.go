// Package config loads and validates the giid configuration file
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/security"
)

var validate = validator.New()

// Duration is a time.Duration that reads and writes "300ms" style JSON strings
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete giid configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	WebSocket  WebSocketConfig  `json:"websocket"`
	Metrics    MetricsConfig    `json:"metrics"`
	Store      StoreConfig      `json:"store"`
	Units      UnitsConfig      `json:"units"`
	InfoServer InfoServerConfig `json:"infoserver"`
	Variables  DefinitionFile   `json:"variables"`
	Results    DefinitionFile   `json:"results"`
}

// ServerConfig configures the TCP protocol server
type ServerConfig struct {
	Address        string   `json:"address" validate:"required,hostname_port"`
	Tick           Duration `json:"tick" validate:"gt=0"`
	MaxConnections int      `json:"max_connections" validate:"gte=1,lte=4096"`
	QueueSize      int      `json:"queue_size" validate:"gte=1"`
	AcceptRate     float64  `json:"accept_rate" validate:"gt=0"`
	AcceptBurst    int      `json:"accept_burst" validate:"gte=1"`
	ReadWait       Duration `json:"read_wait" validate:"gt=0"`
	MaxPayload     int      `json:"max_payload" validate:"gte=128"`
	PingCount      int      `json:"ping_count" validate:"gte=0"`
	OutboxSize     int      `json:"outbox_size" validate:"gte=1"`

	TLS security.ServerTLSConfig `json:"tls"`
}

// WebSocketConfig configures the optional ws:// listener
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Path    string `json:"path" validate:"omitempty,startswith=/"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address" validate:"required_if=Enabled true"`
	Path    string `json:"path" validate:"omitempty,startswith=/"`
}

// StoreConfig selects the conversion table backend
type StoreConfig struct {
	Backend string `json:"backend" validate:"oneof=memory yaml nats badger"`
	Path    string `json:"path" validate:"required_if=Backend yaml,required_if=Backend badger"`
	NATSURL string `json:"nats_url" validate:"required_if=Backend nats"`
	Bucket  string `json:"bucket" validate:"required_if=Backend nats"`
	Watch   bool   `json:"watch"`
}

// UnitsConfig configures the unit conversion engine
type UnitsConfig struct {
	System   string `json:"system" validate:"oneof=PassThrough Metric Imperial"`
	EnableID string `json:"enable_id" validate:"omitempty,hexadecimal|numeric|startswith=0x"`
}

// InfoServerConfig configures the information server state variable
type InfoServerConfig struct {
	Name       string `json:"name" validate:"required"`
	Prefix     string `json:"prefix" validate:"required"`
	ID         uint64 `json:"id" validate:"required"`
	DeviceMask uint64 `json:"device_mask"`
	ServerMask uint64 `json:"server_mask"`
}

// DefinitionFile points at a file of definition lines. Variables loaded from it
// are attached to the information server under Class A, B or C when set.
type DefinitionFile struct {
	Path  string `json:"path"`
	Class string `json:"class,omitempty" validate:"omitempty,oneof=A B C"`
}

// Default returns a configuration that runs without a file
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "127.0.0.1:4711",
			Tick:           Duration(time.Second),
			MaxConnections: 32,
			QueueSize:      64,
			AcceptRate:     50,
			AcceptBurst:    10,
			ReadWait:       Duration(300 * time.Millisecond),
			MaxPayload:     1 << 20,
			PingCount:      3,
			OutboxSize:     1024,
		},
		WebSocket: WebSocketConfig{Path: "/gii"},
		Metrics:   MetricsConfig{Enabled: true, Address: ":9090", Path: "/metrics"},
		Store:     StoreConfig{Backend: "memory"},
		Units:     UnitsConfig{System: "PassThrough"},
		InfoServer: InfoServerConfig{
			Name:       "Main",
			Prefix:     "Info",
			ID:         0x01000000,
			DeviceMask: 0xFF000000,
			ServerMask: 0x01000000,
		},
	}
}

// Validate checks struct tags and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Config", "Validate", "struct validation")
	}
	if c.InfoServer.DeviceMask != 0 && c.InfoServer.ID&c.InfoServer.DeviceMask != c.InfoServer.ServerMask {
		return errors.WrapInvalid(
			fmt.Errorf("%w: infoserver id 0x%X does not match server mask 0x%X under device mask 0x%X",
				errors.ErrInvalidConfig, c.InfoServer.ID, c.InfoServer.ServerMask, c.InfoServer.DeviceMask),
			"Config", "Validate", "infoserver mask check")
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	copied := *c
	return &copied
}

// String renders the configuration as indented JSON
func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// SaveToFile writes the configuration as JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "write file")
	}
	return nil
}

// Load reads path over the defaults, applies GII_* environment overrides and validates.
// An empty path loads only the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrMissingConfig, err),
				"Config", "Load", "read file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
				"Config", "Load", "parse JSON")
		}
	}
	ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GII_* variables looked up with getenv
func ApplyEnv(cfg *Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, err := strconv.Atoi(getenv(key)); err == nil {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, err := strconv.ParseBool(getenv(key)); err == nil {
			*dst = v
		}
	}

	str("GII_LISTEN", &cfg.Server.Address)
	integer("GII_MAX_CONNECTIONS", &cfg.Server.MaxConnections)
	str("GII_WS_ADDR", &cfg.WebSocket.Address)
	boolean("GII_WS_ENABLED", &cfg.WebSocket.Enabled)
	str("GII_METRICS_ADDR", &cfg.Metrics.Address)
	boolean("GII_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("GII_STORE", &cfg.Store.Backend)
	str("GII_STORE_PATH", &cfg.Store.Path)
	str("GII_NATS_URL", &cfg.Store.NATSURL)
	str("GII_UNIT_SYSTEM", &cfg.Units.System)
	boolean("GII_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	str("GII_TLS_CERT", &cfg.Server.TLS.CertFile)
	str("GII_TLS_KEY", &cfg.Server.TLS.KeyFile)
	if v := getenv("GII_TICK"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			cfg.Server.Tick = Duration(d)
		}
	}
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
