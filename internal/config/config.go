// ABOUTME: YAML configuration for the loopsync player
// ABOUTME: Provides defaults, file loading and validation
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/loopsync/loopsync-go/internal/sync"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Transports for reaching the time reference
const (
	TransportHTTP      = "http"
	TransportWebSocket = "ws"
)

// Config is the full player configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Player PlayerConfig `yaml:"player"`
	Sync   SyncConfig   `yaml:"sync"`
	Driver DriverConfig `yaml:"driver"`
}

// ServerConfig locates the time reference and backend
type ServerConfig struct {
	URL          string        `yaml:"url"` // empty means discover via mDNS
	Password     string        `yaml:"password"`
	Transport    string        `yaml:"transport"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// PlayerConfig identifies this player and its clip
type PlayerConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Clip     string `yaml:"clip"` // local path or http(s) url
	Volume   int    `yaml:"volume"`
	MediaDir string `yaml:"media_dir"`
}

// SyncConfig tunes clock synchronization
type SyncConfig struct {
	SampleCount     int    `yaml:"sample_count"`
	SyncWindowCapMs int64  `yaml:"sync_window_cap_ms"`
	Filter          string `yaml:"filter"`
}

// DriverConfig paces the playback loop
type DriverConfig struct {
	SafetyMargin time.Duration `yaml:"safety_margin"`
	PollInterval time.Duration `yaml:"poll_interval"`
	IdleInterval time.Duration `yaml:"idle_interval"`
	MaxSleep     time.Duration `yaml:"max_sleep"`
}

// Default returns the built-in configuration
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "loopsync-player"
	}

	return &Config{
		Server: ServerConfig{
			Transport:    TransportHTTP,
			ProbeTimeout: sync.DefaultProbeTimeout,
		},
		Player: PlayerConfig{
			Name:   hostname,
			Volume: 100,
		},
		Sync: SyncConfig{
			SampleCount:     sync.DefaultSampleCount,
			SyncWindowCapMs: 20000,
			Filter:          sync.FilterStdDev.String(),
		},
		Driver: DriverConfig{
			SafetyMargin: 10 * time.Millisecond,
			PollInterval: time.Millisecond,
			IdleInterval: 50 * time.Millisecond,
			MaxSleep:     time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file yields
// the defaults together with an error matching os.ErrNotExist.
func Load(path string) (*Config, error) {
	c := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportHTTP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: server.transport must be %q or %q, got %q",
			ErrInvalid, TransportHTTP, TransportWebSocket, c.Server.Transport)
	}
	if c.Server.ProbeTimeout <= 0 {
		return fmt.Errorf("%w: server.probe_timeout must be positive", ErrInvalid)
	}
	if c.Player.Volume < 0 || c.Player.Volume > 100 {
		return fmt.Errorf("%w: player.volume must be between 0 and 100, got %d", ErrInvalid, c.Player.Volume)
	}
	if c.Sync.SampleCount < 1 {
		return fmt.Errorf("%w: sync.sample_count must be at least 1, got %d", ErrInvalid, c.Sync.SampleCount)
	}
	if c.Sync.SyncWindowCapMs < 0 {
		return fmt.Errorf("%w: sync.sync_window_cap_ms must not be negative", ErrInvalid)
	}
	if _, err := sync.ParseFilterMode(c.Sync.Filter); err != nil {
		return fmt.Errorf("%w: sync.filter: %v", ErrInvalid, err)
	}
	if c.Driver.SafetyMargin < 0 || c.Driver.PollInterval < 0 {
		return fmt.Errorf("%w: driver intervals must not be negative", ErrInvalid)
	}
	if c.Driver.IdleInterval <= 0 || c.Driver.MaxSleep <= 0 {
		return fmt.Errorf("%w: driver.idle_interval and driver.max_sleep must be positive", ErrInvalid)
	}
	return nil
}

// FilterMode returns the parsed outlier filter.
func (c *Config) FilterMode() sync.FilterMode {
	mode, err := sync.ParseFilterMode(c.Sync.Filter)
	if err != nil {
		return sync.FilterStdDev
	}
	return mode
}
