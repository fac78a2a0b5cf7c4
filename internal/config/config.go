// Package config provides YAML-based configuration loading for medqueue,
// with .env and environment overrides for the backend URLs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvBackendURL = "MEDQ_BACKEND_URL"
	EnvSocketURL  = "MEDQ_SOCKET_URL"
	// EnvLegacyURL sets both URLs when neither of the others is present.
	EnvLegacyURL = "NGROK_URL"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "medqueue.yaml"

// Config is the top-level medqueue configuration, loaded from medqueue.yaml.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Socket    SocketConfig    `yaml:"socket"`
	Commands  CommandsConfig  `yaml:"commands"`
	WaitTimer WaitTimerConfig `yaml:"wait_timer"`
	Notify    NotifyConfig    `yaml:"notify"`
	Store     StoreConfig     `yaml:"store"`
	Status    StatusConfig    `yaml:"status"`
}

// BackendConfig locates the queue backend.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	SocketURL      string        `yaml:"socket_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SocketConfig tunes the event-channel transport.
type SocketConfig struct {
	Path                 string        `yaml:"path"`
	Transports           []string      `yaml:"transports"`
	Timeout              time.Duration `yaml:"timeout"`
	Reconnection         *bool         `yaml:"reconnection"`
	ReconnectionAttempts int           `yaml:"reconnection_attempts"`
	ReconnectionDelay    time.Duration `yaml:"reconnection_delay"`
	ReconnectionDelayMax time.Duration `yaml:"reconnection_delay_max"`
	RandomizationFactor  float64       `yaml:"randomization_factor"`
}

// ReconnectionEnabled reports whether the transport reconnects on its own.
func (s SocketConfig) ReconnectionEnabled() bool {
	return s.Reconnection == nil || *s.Reconnection
}

// CommandsConfig bounds correlated commands.
type CommandsConfig struct {
	RemoveTimeout time.Duration `yaml:"remove_timeout"`
}

// WaitTimerConfig drives the wait countdown and its HTTP refresh.
type WaitTimerConfig struct {
	Tick            time.Duration `yaml:"tick"`
	RefreshSchedule string        `yaml:"refresh_schedule"`
}

// NotifyConfig selects where user-visible notices go besides the terminal.
type NotifyConfig struct {
	Command             string `yaml:"command"`
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// StoreConfig locates the booking journal.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// StatusConfig enables the local status server. Port 0 disables it.
type StatusConfig struct {
	Port int `yaml:"port"`
}

// LoadEnv loads .env files into the process environment. Missing files are
// skipped and variables already set are kept.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a YAML config file from path and returns a validated Config.
// A missing file at DefaultPath is not an error; the config then comes from
// the environment and defaults alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			return Parse(nil)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets the environment override the backend URLs.
func (c *Config) applyEnv() {
	base := os.Getenv(EnvBackendURL)
	sock := os.Getenv(EnvSocketURL)
	if legacy := os.Getenv(EnvLegacyURL); legacy != "" && base == "" && sock == "" {
		base, sock = legacy, legacy
	}
	if base != "" {
		c.Backend.BaseURL = base
	}
	if sock != "" {
		c.Backend.SocketURL = sock
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.SocketURL == "" {
		c.Backend.SocketURL = c.Backend.BaseURL
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = 10 * time.Second
	}

	s := &c.Socket
	if s.Path == "" {
		s.Path = "/socket.io/"
	}
	if len(s.Transports) == 0 {
		s.Transports = []string{"websocket", "polling"}
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.ReconnectionAttempts == 0 {
		s.ReconnectionAttempts = 3
	}
	if s.ReconnectionDelay == 0 {
		s.ReconnectionDelay = time.Second
	}
	if s.ReconnectionDelayMax == 0 {
		s.ReconnectionDelayMax = 5 * time.Second
	}
	if s.RandomizationFactor == 0 {
		s.RandomizationFactor = 0.5
	}

	if c.Commands.RemoveTimeout == 0 {
		c.Commands.RemoveTimeout = 15 * time.Second
	}
	if c.WaitTimer.Tick == 0 {
		c.WaitTimer.Tick = time.Minute
	}
	if c.WaitTimer.RefreshSchedule == "" {
		c.WaitTimer.RefreshSchedule = "*/5 * * * *"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "medqueue.db"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Backend.BaseURL == "" {
		errs = append(errs, fmt.Sprintf("backend.base_url is required (or set %s)", EnvBackendURL))
	}
	if c.Backend.RequestTimeout < 0 {
		errs = append(errs, "backend.request_timeout must be positive")
	}
	if c.Socket.ReconnectionAttempts < 0 {
		errs = append(errs, "socket.reconnection_attempts must not be negative")
	}
	if c.Socket.Timeout < 0 || c.Socket.ReconnectionDelay < 0 || c.Socket.ReconnectionDelayMax < 0 {
		errs = append(errs, "socket timeouts must be positive")
	}
	if c.Socket.ReconnectionDelayMax < c.Socket.ReconnectionDelay {
		errs = append(errs, "socket.reconnection_delay_max must not be below reconnection_delay")
	}
	if c.Socket.RandomizationFactor < 0 || c.Socket.RandomizationFactor > 1 {
		errs = append(errs, "socket.randomization_factor must be between 0 and 1")
	}
	if c.Commands.RemoveTimeout < 0 {
		errs = append(errs, "commands.remove_timeout must be positive")
	}
	if c.WaitTimer.Tick < 0 {
		errs = append(errs, "wait_timer.tick must be positive")
	}
	if _, err := cron.ParseStandard(c.WaitTimer.RefreshSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("wait_timer.refresh_schedule: %v", err))
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (sqlite, mysql)", c.Store.Driver))
	}
	if c.Store.DSN == "" {
		errs = append(errs, "store.dsn is required")
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, "status.port must be between 0 and 65535")
	}
	if (c.Notify.DiscordWebhookID == "") != (c.Notify.DiscordWebhookToken == "") {
		errs = append(errs, "notify.discord_webhook_id and discord_webhook_token go together")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
