package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"

	"simcal/internal/calendar"
	"simcal/internal/clock"
	"simcal/internal/model"
	"simcal/internal/moon"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ClockConfig controls how the shared clock advances on the leader.
type ClockConfig struct {
	// UpdateFrequency is the real-time interval between ticks.
	UpdateFrequency time.Duration `yaml:"update_frequency" json:"update_frequency"`
	// GameTimeRatio is in-world seconds per real second; negative runs
	// the clock backward.
	GameTimeRatio float64 `yaml:"game_time_ratio" json:"game_time_ratio"`
	// UnifyPause stops the clock while the host reports itself paused.
	UnifyPause bool `yaml:"unify_pause" json:"unify_pause"`
	// Autostart starts the clock when the process comes up; Resume makes
	// that start restore the persisted state.
	Autostart bool `yaml:"autostart" json:"autostart"`
	Resume    bool `yaml:"resume" json:"resume"`
	// Initial is the date a clock without saved state starts from.
	Initial model.Date `yaml:"initial" json:"initial"`
}

// SyncConfig describes how this process joins the shared session.
type SyncConfig struct {
	// HubURL, when set, makes this process a client of the hub at that
	// ws:// address. Empty means this process hosts the hub.
	HubURL string `yaml:"hub_url,omitempty" json:"hub_url,omitempty"`
	// Observer clients never claim leadership.
	Observer          bool          `yaml:"observer" json:"observer"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`
	ClaimTimeout      time.Duration `yaml:"claim_timeout" json:"claim_timeout"`
	FailoverMultiple  int           `yaml:"failover_multiple" json:"failover_multiple"`
	WarnAfter         time.Duration `yaml:"warn_after" json:"warn_after"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and the hub.
	Listen string `yaml:"listen" json:"listen"`
	// ClientID identifies this process in the session. Generated on first
	// run and persisted.
	ClientID string `yaml:"client_id" json:"client_id"`
	// DataDir holds notes and the persisted clock state.
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Calendar calendar.Definition `yaml:"calendar" json:"calendar"`
	Clock    ClockConfig         `yaml:"clock" json:"clock"`
	Sync     SyncConfig          `yaml:"sync" json:"sync"`
	Moons    []moon.Moon         `yaml:"moons" json:"moons"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	el := clock.DefaultElectionConfig()
	return &Config{
		Listen:   "127.0.0.1:8080",
		ClientID: model.NewID(),
		DataDir:  "./var/simcal",
		LogLevel: "info",
		Calendar: calendar.Gregorian(),
		Clock: ClockConfig{
			UpdateFrequency: time.Second,
			GameTimeRatio:   1,
			Autostart:       true,
			Resume:          true,
		},
		Sync: SyncConfig{
			HeartbeatInterval: el.HeartbeatInterval,
			ClaimTimeout:      el.ClaimTimeout,
			FailoverMultiple:  el.FailoverMultiple,
			WarnAfter:         el.WarnAfter,
		},
		Moons: []moon.Moon{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	// An absent calendar section means Gregorian; a broken one is left for
	// calendar.Load to reject and report.
	if c.Calendar.Name == "" && len(c.Calendar.Months) == 0 {
		c.Calendar = def.Calendar
	}
	if c.Clock.UpdateFrequency <= 0 {
		c.Clock.UpdateFrequency = def.Clock.UpdateFrequency
	}
	if c.Clock.GameTimeRatio == 0 {
		c.Clock.GameTimeRatio = def.Clock.GameTimeRatio
	}
	if c.Sync.HeartbeatInterval <= 0 {
		c.Sync.HeartbeatInterval = def.Sync.HeartbeatInterval
	}
	if c.Sync.ClaimTimeout <= 0 {
		c.Sync.ClaimTimeout = def.Sync.ClaimTimeout
	}
	if c.Sync.FailoverMultiple <= 0 {
		c.Sync.FailoverMultiple = def.Sync.FailoverMultiple
	}
	if c.Sync.WarnAfter <= 0 {
		c.Sync.WarnAfter = def.Sync.WarnAfter
	}
	if c.Moons == nil {
		c.Moons = []moon.Moon{}
	}
}

// Election maps the sync section onto the elector's settings.
func (s SyncConfig) Election() clock.ElectionConfig {
	return clock.ElectionConfig{
		Eligible:          !s.Observer,
		HeartbeatInterval: s.HeartbeatInterval,
		ClaimTimeout:      s.ClaimTimeout,
		FailoverMultiple:  s.FailoverMultiple,
		WarnAfter:         s.WarnAfter,
	}
}

// NotesDir and ClockFile are the storage locations under DataDir.
func (c *Config) NotesDir() string  { return filepath.Join(c.DataDir, "notes") }
func (c *Config) ClockFile() string { return filepath.Join(c.DataDir, "clock.yaml") }

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config (with a fresh client
//     id) is written with 0600 perms and returned.
//   - Otherwise the YAML is decoded and normalized. A config that had no
//     client id is written back so the generated id sticks.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	missingID := cfg.ClientID == ""
	cfg.Normalize()
	if missingID {
		if err := Save(path, &cfg); err != nil {
			return &cfg, err
		}
	}
	return &cfg, nil
}

// Save normalizes cfg and writes it atomically with 0600 permissions,
// creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
