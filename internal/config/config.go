package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownSchedule is returned by Find for ids not in the config.
var ErrUnknownSchedule = errors.New("config: unknown schedule")

// Supported action types.
const (
	ActionLog  = "log"
	ActionGPIO = "gpio"
)

// ActionConfig describes one step run when a schedule fires.
type ActionConfig struct {
	// Type is "log" or "gpio".
	Type string `yaml:"type" json:"type"`
	// Message is logged by "log" actions.
	Message string `yaml:"message,omitempty" json:"message,omitempty"`
	// Pin is the periph pin name driven by "gpio" actions (e.g. "GPIO17").
	Pin string `yaml:"pin,omitempty" json:"pin,omitempty"`
	// DurationMs is how long a "gpio" action holds the pin high.
	DurationMs int `yaml:"duration_ms,omitempty" json:"duration_ms,omitempty"`
}

// ScheduleConfig holds the initial inputs of one weekly schedule.
type ScheduleConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`

	Mon bool `yaml:"mon" json:"mon"`
	Tue bool `yaml:"tue" json:"tue"`
	Wed bool `yaml:"wed" json:"wed"`
	Thu bool `yaml:"thu" json:"thu"`
	Fri bool `yaml:"fri" json:"fri"`
	Sat bool `yaml:"sat" json:"sat"`
	Sun bool `yaml:"sun" json:"sun"`

	Disabled bool `yaml:"disabled" json:"disabled"`

	// DisabledPin, if set, mirrors a hardware switch into the disabled flag.
	DisabledPin string `yaml:"disabled_pin,omitempty" json:"disabled_pin,omitempty"`

	Actions []ActionConfig `yaml:"actions" json:"actions"`
}

// Days returns the weekday flags in Monday-first order.
func (s ScheduleConfig) Days() [7]bool {
	return [7]bool{s.Mon, s.Tue, s.Wed, s.Thu, s.Fri, s.Sat, s.Sun}
}

// LogConfig controls the application logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format" json:"format"`
}

// HistoryConfig controls the firing history database.
type HistoryConfig struct {
	// Path of the sqlite database. Empty disables history.
	Path string `yaml:"path" json:"path"`
	// RetentionDays bounds how long firings are kept.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone schedules are evaluated in.
	Timezone string `yaml:"timezone" json:"timezone"`

	Log     LogConfig     `yaml:"log" json:"log"`
	History HistoryConfig `yaml:"history" json:"history"`

	// ActionTimeoutSeconds bounds one firing of a schedule's actions.
	ActionTimeoutSeconds int `yaml:"action_timeout_seconds" json:"action_timeout_seconds"`

	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:               "127.0.0.1:8080",
		Timezone:             "UTC",
		Log:                  LogConfig{Level: "info", Format: "console"},
		History:              HistoryConfig{Path: "/var/lib/ontime/history.db", RetentionDays: 30},
		ActionTimeoutSeconds: 30,
		Schedules: []ScheduleConfig{
			{
				ID:     "wakeup",
				Name:   "Wake up",
				Hour:   7,
				Minute: 0,
				Mon:    true, Tue: true, Wed: true, Thu: true, Fri: true,
				Actions: []ActionConfig{{Type: ActionLog, Message: "good morning"}},
			},
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	switch strings.ToLower(c.Log.Format) {
	case "json":
		c.Log.Format = "json"
	default:
		c.Log.Format = "console"
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = 30
	}
	if c.ActionTimeoutSeconds <= 0 {
		c.ActionTimeoutSeconds = 30
	}
	if c.Schedules == nil {
		c.Schedules = []ScheduleConfig{}
	}
	for i := range c.Schedules {
		s := &c.Schedules[i]
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			s.ID = fmt.Sprintf("schedule-%d", i+1)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		for j := range s.Actions {
			a := &s.Actions[j]
			a.Type = strings.ToLower(strings.TrimSpace(a.Type))
			if a.Type == "" {
				a.Type = ActionLog
			}
			if a.Type == ActionGPIO && a.DurationMs <= 0 {
				a.DurationMs = 1000
			}
		}
	}
}

// Validate reports the first problem that would make the config unusable.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Schedules))
	for _, s := range c.Schedules {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("config: duplicate schedule id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.Hour < 0 || s.Hour > 23 {
			return fmt.Errorf("config: schedule %q: hour %d outside 0..23", s.ID, s.Hour)
		}
		if s.Minute < 0 || s.Minute > 59 {
			return fmt.Errorf("config: schedule %q: minute %d outside 0..59", s.ID, s.Minute)
		}
		for i, a := range s.Actions {
			switch a.Type {
			case ActionLog:
			case ActionGPIO:
				if a.Pin == "" {
					return fmt.Errorf("config: schedule %q: action %d: gpio action needs a pin", s.ID, i)
				}
			default:
				return fmt.Errorf("config: schedule %q: action %d: unknown type %q", s.ID, i, a.Type)
			}
		}
	}
	return nil
}

// Find returns the schedule with the given id.
func (c *Config) Find(id string) (ScheduleConfig, error) {
	for _, s := range c.Schedules {
		if s.ID == id {
			return s, nil
		}
	}
	return ScheduleConfig{}, fmt.Errorf("%w: %q", ErrUnknownSchedule, id)
}

// Parse decodes, normalizes and validates YAML config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML, normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	return Parse(data)
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".ontime-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
