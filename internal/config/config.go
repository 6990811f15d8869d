// Package config manages holtburger client configuration using koanf/v2.
//
// Supports YAML files and environment variables layered over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete client configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Login   LoginConfig   `koanf:"login"`
	Net     NetConfig     `koanf:"net"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig identifies the peer.
type ServerConfig struct {
	// Addr is the server's login endpoint (host:port). The activation
	// endpoint is derived as port + 1.
	Addr string `koanf:"addr"`
}

// LoginConfig holds the credential material.
type LoginConfig struct {
	// Account is the account name.
	Account string `koanf:"account"`

	// Password travels in the login-only string form on the wire.
	Password string `koanf:"password"`

	// ClientVersion is the version string presented in the handshake.
	ClientVersion string `koanf:"client_version"`
}

// NetConfig overrides the protocol timers. Zero values take the
// protocol defaults.
type NetConfig struct {
	// AckInterval is the acknowledgment coalescence window.
	AckInterval time.Duration `koanf:"ack_interval"`

	// KeepAliveInterval is the idle threshold before a keep-alive.
	KeepAliveInterval time.Duration `koanf:"keep_alive_interval"`

	// RetransmitThreshold ages inbound gaps into retransmit requests.
	RetransmitThreshold time.Duration `koanf:"retransmit_threshold"`

	// InactivityTimeout kills a silent session.
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`

	// HandshakeTimeout bounds the login handshake.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`

	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint; empty
	// disables it.
	Addr string `koanf:"addr"`

	// Path is the URL path for the metrics endpoint.
	Path string `koanf:"path"`
}

// ServerAddr parses the configured server address.
func (c *Config) ServerAddr() (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(c.Server.Addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse server addr %q: %w", c.Server.Addr, err)
	}
	return ap, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// protocol timers default to zero here and take the session layer's
// stock values.
func DefaultConfig() *Config {
	return &Config{
		Login: LoginConfig{
			ClientVersion: "1802",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for client configuration.
// Variables are named HOLTBURGER_<section>_<key>.
const envPrefix = "HOLTBURGER_"

// Load reads configuration from a YAML file at path (skipped when path
// is empty), overlays environment variable overrides, and merges on top
// of DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	HOLTBURGER_SERVER_ADDR    -> server.addr
//	HOLTBURGER_LOGIN_ACCOUNT  -> login.account
//	HOLTBURGER_LOGIN_PASSWORD -> login.password
//	HOLTBURGER_LOG_LEVEL      -> log.level
//	HOLTBURGER_METRICS_ADDR   -> metrics.addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms HOLTBURGER_SERVER_ADDR -> server.addr.
// Strips the prefix, lowercases, and replaces the first underscore with
// a dot; later underscores stay, matching keys like login.client_version.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"server.addr":          defaults.Server.Addr,
		"login.account":        defaults.Login.Account,
		"login.password":       defaults.Login.Password,
		"login.client_version": defaults.Login.ClientVersion,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrMissingServerAddr indicates no server endpoint is configured.
	ErrMissingServerAddr = errors.New("server.addr must not be empty")

	// ErrInvalidServerAddr indicates the server endpoint does not parse
	// as host:port.
	ErrInvalidServerAddr = errors.New("server.addr must be host:port")

	// ErrMissingAccount indicates no account name is configured.
	ErrMissingAccount = errors.New("login.account must not be empty")

	// ErrNegativeTimer indicates a negative protocol timer override.
	ErrNegativeTimer = errors.New("net timers must not be negative")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return ErrMissingServerAddr
	}
	if _, err := netip.ParseAddrPort(cfg.Server.Addr); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidServerAddr, err)
	}
	if cfg.Login.Account == "" {
		return ErrMissingAccount
	}
	for _, d := range []time.Duration{
		cfg.Net.AckInterval,
		cfg.Net.KeepAliveInterval,
		cfg.Net.RetransmitThreshold,
		cfg.Net.InactivityTimeout,
		cfg.Net.HandshakeTimeout,
	} {
		if d < 0 {
			return ErrNegativeTimer
		}
	}
	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the
// corresponding slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
