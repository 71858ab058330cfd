package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"untiscal/internal/errs"
)

// Calendar backends.
const (
	BackendGoogle = "google"
	BackendICS    = "ics"
)

// Environment variables read by ApplyEnv.
const (
	EnvSchool     = "UNTIS_SCHOOL"
	EnvUsername   = "UNTIS_USERNAME"
	EnvPassword   = "UNTIS_PASSWORD"
	EnvWeeks      = "UNTIS_WEEKS"
	EnvHeadless   = "UNTIS_HEADLESS"
	EnvCalendarID = "UNTISCAL_CALENDAR_ID"
	EnvLogLevel   = "UNTISCAL_LOG_LEVEL"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// UntisConfig describes the timetable portal account.
type UntisConfig struct {
	BaseURL  string `yaml:"base_url" json:"base_url"`
	School   string `yaml:"school" json:"school"`
	Username string `yaml:"username" json:"username"`
	// Password only ever comes from the environment.
	Password string `yaml:"-" json:"-"`

	// Weeks is the number of weeks captured per run, current week first.
	Weeks int `yaml:"weeks" json:"weeks"`
	// ShowBrowser runs Chromium with a visible window.
	ShowBrowser bool   `yaml:"show_browser" json:"show_browser"`
	ChromePath  string `yaml:"chrome_path,omitempty" json:"chrome_path,omitempty"`

	TimeoutSec  int `yaml:"timeout_sec" json:"timeout_sec"`
	SettleSec   int `yaml:"settle_sec" json:"settle_sec"`
	CardWaitSec int `yaml:"card_wait_sec" json:"card_wait_sec"`
}

// DataConfig locates the week dumps and the lessons artifact.
type DataConfig struct {
	Dir     string `yaml:"dir" json:"dir"`
	Lessons string `yaml:"lessons" json:"lessons"`
}

// SyncConfig controls the sync window and the shape of created events.
type SyncConfig struct {
	LookbackDays    int    `yaml:"lookback_days" json:"lookback_days"`
	LookaheadDays   int    `yaml:"lookahead_days" json:"lookahead_days"`
	PageSize        int    `yaml:"page_size" json:"page_size"`
	ReminderMinutes int    `yaml:"reminder_minutes" json:"reminder_minutes"`
	ColorID         string `yaml:"color_id" json:"color_id"`
}

// CalendarConfig selects and configures the remote event store.
type CalendarConfig struct {
	// Backend is "google" or "ics".
	Backend     string `yaml:"backend" json:"backend"`
	CalendarID  string `yaml:"calendar_id" json:"calendar_id"`
	Credentials string `yaml:"credentials" json:"credentials"`
	Token       string `yaml:"token" json:"token"`
	// ICSPath is the event file used by the ics backend.
	ICSPath string `yaml:"ics_path" json:"ics_path"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone lessons are scheduled in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Schedule is the cron expression used by the daemon.
	Schedule string `yaml:"schedule" json:"schedule"`

	// Listen is the status server address.
	Listen string `yaml:"listen" json:"listen"`

	// History is the SQLite database of past runs.
	History string `yaml:"history_db" json:"history_db"`

	Untis    UntisConfig    `yaml:"untis" json:"untis"`
	Data     DataConfig     `yaml:"data" json:"data"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`
	Log      LogConfig      `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone: "Europe/Berlin",
		Schedule: "*/30 * * * *",
		Listen:   "127.0.0.1:8080",
		History:  "untiscal.db",
		Untis: UntisConfig{
			BaseURL:     "https://ajax.webuntis.com",
			Weeks:       4,
			TimeoutSec:  120,
			SettleSec:   8,
			CardWaitSec: 10,
		},
		Data: DataConfig{
			Dir:     "weekly_data",
			Lessons: "parsed_lessons_all_weeks.json",
		},
		Sync: SyncConfig{
			LookbackDays:    7,
			LookaheadDays:   90,
			PageSize:        2500,
			ReminderMinutes: 10,
			ColorID:         "6",
		},
		Calendar: CalendarConfig{
			Backend:     BackendGoogle,
			CalendarID:  "primary",
			Credentials: "credentials.json",
			Token:       "token.json",
			ICSPath:     "lessons.ics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	setString(&c.Timezone, d.Timezone)
	setString(&c.Schedule, d.Schedule)
	setString(&c.Listen, d.Listen)
	setString(&c.History, d.History)

	setString(&c.Untis.BaseURL, d.Untis.BaseURL)
	setInt(&c.Untis.Weeks, d.Untis.Weeks)
	setInt(&c.Untis.TimeoutSec, d.Untis.TimeoutSec)
	if c.Untis.SettleSec < 0 {
		c.Untis.SettleSec = 0
	}
	setInt(&c.Untis.CardWaitSec, d.Untis.CardWaitSec)

	setString(&c.Data.Dir, d.Data.Dir)
	setString(&c.Data.Lessons, d.Data.Lessons)

	setInt(&c.Sync.LookbackDays, d.Sync.LookbackDays)
	setInt(&c.Sync.LookaheadDays, d.Sync.LookaheadDays)
	setInt(&c.Sync.PageSize, d.Sync.PageSize)
	if c.Sync.ReminderMinutes < 0 {
		c.Sync.ReminderMinutes = 0
	}
	setString(&c.Sync.ColorID, d.Sync.ColorID)

	c.Calendar.Backend = strings.ToLower(strings.TrimSpace(c.Calendar.Backend))
	setString(&c.Calendar.Backend, d.Calendar.Backend)
	setString(&c.Calendar.CalendarID, d.Calendar.CalendarID)
	setString(&c.Calendar.Credentials, d.Calendar.Credentials)
	setString(&c.Calendar.Token, d.Calendar.Token)
	setString(&c.Calendar.ICSPath, d.Calendar.ICSPath)

	setString(&c.Log.Level, d.Log.Level)
	setString(&c.Log.Format, d.Log.Format)
	setInt(&c.Log.MaxSizeMB, d.Log.MaxSizeMB)
	setInt(&c.Log.MaxBackups, d.Log.MaxBackups)
	setInt(&c.Log.MaxAgeDays, d.Log.MaxAgeDays)
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Validate reports settings that cannot work, as CONFIG errors.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errs.Wrap(err, errs.CodeConfig, "timezone")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return errs.Wrap(err, errs.CodeConfig, "schedule")
	}
	switch c.Calendar.Backend {
	case BackendGoogle, BackendICS:
	default:
		return errs.New(errs.CodeConfig, fmt.Sprintf("unknown calendar backend %q", c.Calendar.Backend))
	}
	return nil
}

// Location returns the lesson time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "timezone")
	}
	return loc, nil
}

// Lookback and Lookahead return the sync window bounds relative to now.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Sync.LookbackDays) * 24 * time.Hour
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.Sync.LookaheadDays) * 24 * time.Hour
}

// LoadEnv reads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return errs.Wrap(err, errs.CodeConfig, "load "+f)
		}
	}
	return nil
}

// ApplyEnv overlays environment settings onto c. lookup is normally
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSchool); ok && v != "" {
		c.Untis.School = v
	}
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Untis.Username = v
	}
	if v, ok := lookup(EnvPassword); ok {
		c.Untis.Password = v
	}
	if v, ok := lookup(EnvWeeks); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return errs.New(errs.CodeConfig, fmt.Sprintf("%s must be a positive integer, got %q", EnvWeeks, v))
		}
		c.Untis.Weeks = n
	}
	if v, ok := lookup(EnvHeadless); ok && v != "" {
		headless, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errs.New(errs.CodeConfig, fmt.Sprintf("%s must be true or false, got %q", EnvHeadless, v))
		}
		c.Untis.ShowBrowser = !headless
	}
	if v, ok := lookup(EnvCalendarID); ok && v != "" {
		c.Calendar.CalendarID = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.Wrap(err, errs.CodeConfig, "decode "+path)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions. The portal
// password is never written.
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

	tmp, err := os.CreateTemp(dir, ".untiscal-config-*.tmp")
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

// Save is a convenience wrapper around the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
