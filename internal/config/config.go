// Package config loads sct settings from defaults, an optional config file,
// and SCT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: sync.interval -> SCT_SYNC_INTERVAL.
const EnvPrefix = "SCT"

// Remote kinds.
const (
	RemotePostgREST = "postgrest"
	RemotePostgres  = "postgres"
	RemoteMemory    = "memory"
)

// Config is the full sct configuration.
type Config struct {
	DB           DBConfig           `mapstructure:"db"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Dashboard    DashboardConfig    `mapstructure:"dashboard"`
	Import       ImportConfig       `mapstructure:"import"`
	Log          LogConfig          `mapstructure:"log"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type SyncConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	PageSize       int           `mapstructure:"page_size"`
	FailedAttempts int           `mapstructure:"failed_attempts"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	TablesFile     string        `mapstructure:"tables_file"`
}

type RemoteConfig struct {
	Kind        string        `mapstructure:"kind"`
	URL         string        `mapstructure:"url"`
	AnonKey     string        `mapstructure:"anon_key"`
	AccessToken string        `mapstructure:"access_token"`
	DSN         string        `mapstructure:"dsn"`
	UserID      string        `mapstructure:"user_id"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type ConnectivityConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ImportConfig configures the daemon's drop directory for JSONL imports.
type ImportConfig struct {
	Dir      string        `mapstructure:"dir"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Quiet      bool   `mapstructure:"quiet"`
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.RetryAttempts <= 0 {
		return fmt.Errorf("sync.retry_attempts must be positive, got %d", c.Sync.RetryAttempts)
	}

	switch c.Remote.Kind {
	case RemotePostgREST, RemotePostgres, RemoteMemory:
	default:
		return fmt.Errorf("unknown remote.kind %q (want %s, %s or %s)",
			c.Remote.Kind, RemotePostgREST, RemotePostgres, RemoteMemory)
	}
	return nil
}

// Validate checks that the selected remote has what it needs to connect.
func (r RemoteConfig) Validate() error {
	switch r.Kind {
	case RemotePostgREST:
		if r.URL == "" {
			return fmt.Errorf("remote.url is required for the %s remote", RemotePostgREST)
		}
	case RemotePostgres:
		if r.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the %s remote", RemotePostgres)
		}
	}
	return nil
}

// setDefaults registers every key so environment overrides apply on Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("db.path", filepath.Join(".sct", "local.db"))

	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.failed_attempts", 3)
	v.SetDefault("sync.retry_attempts", 3)
	v.SetDefault("sync.retry_backoff", "1s")
	v.SetDefault("sync.tables_file", "")

	v.SetDefault("remote.kind", RemotePostgREST)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.anon_key", "")
	v.SetDefault("remote.access_token", "")
	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.user_id", "")
	v.SetDefault("remote.timeout", "15s")

	v.SetDefault("connectivity.probe_interval", "15s")
	v.SetDefault("connectivity.probe_timeout", "5s")

	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8080)

	v.SetDefault("import.dir", "")
	v.SetDefault("import.debounce", "500ms")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.quiet", false)
}

// Loader owns the viper instance behind a Config.
type Loader struct {
	v *viper.Viper

	mu      sync.Mutex
	current *Config
}

// Load reads configuration. An explicit path must exist; without one the
// loader looks for config.{yaml,toml,json} in ./.sct and $XDG_CONFIG_HOME/sct
// and carries on with defaults if none is found.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".sct")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "sct"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// secretKeys are masked by Settings.
var secretKeys = []string{"remote.anon_key", "remote.access_token", "remote.dsn"}

// Settings returns the effective key/value tree with secrets masked, for
// display.
func (l *Loader) Settings() map[string]any {
	settings := l.v.AllSettings()
	for _, key := range secretKeys {
		section, name, _ := strings.Cut(key, ".")
		m, ok := settings[section].(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m[name].(string); ok && s != "" {
			m[name] = "********"
		}
	}
	return settings
}

// Set overrides a key, e.g. from a command-line flag, and re-decodes.
func (l *Loader) Set(key string, value any) error {
	l.v.Set(key, value)
	cfg, err := l.decode()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return nil
}

// Watch re-reads the config file whenever it changes and passes the new,
// validated configuration to fn. Invalid edits are reported through onErr and
// the previous configuration stays in effect. No-op without a config file.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.handleChange(e, fn, onErr)
	})
	l.v.WatchConfig()
}

func (l *Loader) handleChange(e fsnotify.Event, fn func(*Config), onErr func(error)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	cfg, err := l.decode()
	if err != nil {
		if onErr != nil {
			onErr(fmt.Errorf("ignoring config change in %s: %w", e.Name, err))
		}
		return
	}

	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	if fn != nil {
		fn(cfg)
	}
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
