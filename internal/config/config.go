package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the global ~/.crmsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile" yaml:"default_profile"`
}

// Profile is the per-profile settings file. Durations are written as strings
// such as "1s" or "250ms".
type Profile struct {
	Backend   Backend   `toml:"backend" yaml:"backend"`
	Identity  Identity  `toml:"identity" yaml:"identity"`
	Sync      Sync      `toml:"sync" yaml:"sync"`
	Reconnect Reconnect `toml:"reconnect" yaml:"reconnect"`
	API       API       `toml:"api" yaml:"api"`
}

// Backend locates the CRM REST API and its live event channel.
type Backend struct {
	BaseURL        string        `toml:"base_url" yaml:"base_url"`
	SocketURL      string        `toml:"socket_url" yaml:"socket_url"`
	RequestTimeout time.Duration `toml:"request_timeout" yaml:"request_timeout"`
}

// Identity is the already-authenticated user the daemon acts as.
type Identity struct {
	UserID    int64  `toml:"user_id" yaml:"user_id"`
	CompanyID int64  `toml:"company_id" yaml:"company_id"`
	Token     string `toml:"token" yaml:"token"`
}

// Valid reports whether the identity can be used to join a tenant room.
func (i Identity) Valid() bool {
	return i.CompanyID > 0 && i.Token != ""
}

// Sync tunes the chat store.
type Sync struct {
	CountersDelay  time.Duration `toml:"counters_delay" yaml:"counters_delay"`
	CountersWindow time.Duration `toml:"counters_window" yaml:"counters_window"`
	TicketPageSize int           `toml:"ticket_page_size" yaml:"ticket_page_size"`
}

// Reconnect is the daemon's policy for re-arming the live channel.
type Reconnect struct {
	InitialBackoff time.Duration `toml:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff     time.Duration `toml:"max_backoff" yaml:"max_backoff"`
}

// API configures the daemon's local control socket.
type API struct {
	SocketPath string `toml:"socket_path" yaml:"socket_path"`
}

// WithDefaults fills unset fields with the stock values.
func (p Profile) WithDefaults() Profile {
	if p.Backend.RequestTimeout <= 0 {
		p.Backend.RequestTimeout = 15 * time.Second
	}
	if p.Sync.CountersDelay <= 0 {
		p.Sync.CountersDelay = time.Second
	}
	if p.Sync.CountersWindow <= 0 {
		p.Sync.CountersWindow = 5 * time.Second
	}
	if p.Sync.TicketPageSize <= 0 {
		p.Sync.TicketPageSize = 30
	}
	if p.Reconnect.InitialBackoff <= 0 {
		p.Reconnect.InitialBackoff = time.Second
	}
	if p.Reconnect.MaxBackoff < p.Reconnect.InitialBackoff {
		p.Reconnect.MaxBackoff = 30 * time.Second
	}
	return p
}

// Validate checks the fields the daemon cannot start without.
func (p Profile) Validate() error {
	if p.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if p.Backend.SocketURL == "" {
		return fmt.Errorf("backend.socket_url is required")
	}
	return nil
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := decodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads a profile file and applies defaults.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if err := decodeFile(path, &p); err != nil {
		return nil, err
	}
	p = p.WithDefaults()
	return &p, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	var encErr error
	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		encErr = enc.Encode(v)
		if closeErr := enc.Close(); encErr == nil {
			encErr = closeErr
		}
	} else {
		encErr = toml.NewEncoder(f).Encode(v)
	}
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func decodeFile(path string, v any) error {
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}
	if _, err := toml.DecodeFile(path, v); err != nil {
		return err
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
