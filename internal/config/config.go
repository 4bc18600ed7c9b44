package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

type Config struct {
	DataDir       string `json:"data_dir" mapstructure:"data_dir" env:"WECHATY_DATA_DIR"`
	LogLevel      string `json:"log_level" mapstructure:"log_level" env:"WECHATY_LOG_LEVEL"`
	MaxConcurrent int    `json:"max_concurrent" mapstructure:"max_concurrent" env:"WECHATY_MAX_CONCURRENT"`
	Profile       struct {
		Name   string `json:"name" mapstructure:"name" env:"WECHATY_PROFILE"`
		Driver string `json:"driver" mapstructure:"driver" env:"WECHATY_PROFILE_DRIVER"`
	} `json:"profile" mapstructure:"profile"`
	Bridge struct {
		URL string `json:"url" mapstructure:"url" env:"WECHATY_BRIDGE_URL"`
	} `json:"bridge" mapstructure:"bridge"`
	Watchdog struct {
		ConnectivityTimeout string `json:"connectivity_timeout" mapstructure:"connectivity_timeout" env:"WECHATY_CONNECTIVITY_TIMEOUT"`
		FirstLoginTimeout   string `json:"first_login_timeout" mapstructure:"first_login_timeout" env:"WECHATY_FIRST_LOGIN_TIMEOUT"`
		ScanTimeout         string `json:"scan_timeout" mapstructure:"scan_timeout" env:"WECHATY_SCAN_TIMEOUT"`
	} `json:"watchdog" mapstructure:"watchdog"`
	Session struct {
		PersistWindow  string `json:"persist_window" mapstructure:"persist_window" env:"WECHATY_PERSIST_WINDOW"`
		StableInterval string `json:"stable_interval" mapstructure:"stable_interval" env:"WECHATY_STABLE_INTERVAL"`
		StableTimeout  string `json:"stable_timeout" mapstructure:"stable_timeout" env:"WECHATY_STABLE_TIMEOUT"`
		Keepalive      string `json:"keepalive" mapstructure:"keepalive" env:"WECHATY_KEEPALIVE"`
	} `json:"session" mapstructure:"session"`
	HTTP struct {
		Enabled     bool     `json:"enabled" mapstructure:"enabled" env:"WECHATY_HTTP_ENABLED"`
		Listen      string   `json:"listen" mapstructure:"listen" env:"WECHATY_HTTP_LISTEN"`
		CORSOrigins []string `json:"cors_origins" mapstructure:"cors_origins" env:"WECHATY_HTTP_CORS_ORIGINS" envSeparator:","`
	} `json:"http" mapstructure:"http"`
	Telegram struct {
		Token  string `json:"token" mapstructure:"token" env:"TELEGRAM_BOT_TOKEN"`
		ChatID int64  `json:"chat_id" mapstructure:"chat_id" env:"WECHATY_TELEGRAM_CHAT_ID"`
	} `json:"telegram" mapstructure:"telegram"`
	OTel struct {
		Endpoint string `json:"endpoint" mapstructure:"endpoint" env:"WECHATY_OTEL_ENDPOINT"`
	} `json:"otel" mapstructure:"otel"`
}

// Timeouts holds the parsed duration settings.
type Timeouts struct {
	Connectivity   time.Duration
	FirstLogin     time.Duration
	Scan           time.Duration
	PersistWindow  time.Duration
	StableInterval time.Duration
	StableTimeout  time.Duration
}

// DefaultPath is the config file location used when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.json")
}

func defaultDataDir() string {
	return filepath.Join(os.Getenv("HOME"), ".wechaty")
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		DataDir:       defaultDataDir(),
		MaxConcurrent: 4,
	}
	cfg.LogLevel = "info"
	cfg.Profile.Name = "default"
	cfg.Profile.Driver = "toml"
	cfg.Bridge.URL = "ws://127.0.0.1:8788/rpc"
	cfg.Watchdog.ConnectivityTimeout = "1m"
	cfg.Watchdog.FirstLoginTimeout = "2m"
	cfg.Watchdog.ScanTimeout = "2m"
	cfg.Session.PersistWindow = "5m"
	cfg.Session.StableInterval = "1s"
	cfg.Session.StableTimeout = "1m"
	cfg.Session.Keepalive = "@every 5m"
	cfg.HTTP.Listen = "127.0.0.1:8789"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	// Override from env (highest precedence)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Timeouts(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

// Timeouts parses every duration setting.
func (c *Config) Timeouts() (Timeouts, error) {
	var t Timeouts
	fields := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"watchdog.connectivity_timeout", c.Watchdog.ConnectivityTimeout, &t.Connectivity},
		{"watchdog.first_login_timeout", c.Watchdog.FirstLoginTimeout, &t.FirstLogin},
		{"watchdog.scan_timeout", c.Watchdog.ScanTimeout, &t.Scan},
		{"session.persist_window", c.Session.PersistWindow, &t.PersistWindow},
		{"session.stable_interval", c.Session.StableInterval, &t.StableInterval},
		{"session.stable_timeout", c.Session.StableTimeout, &t.StableTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return Timeouts{}, fmt.Errorf("parse %s: %w", f.key, err)
		}
		if d <= 0 {
			return Timeouts{}, fmt.Errorf("parse %s: must be positive", f.key)
		}
		*f.dst = d
	}
	return t, nil
}

// PIDFile is where the running daemon records its process id.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "wechaty.pid")
}

// ProfileDir holds the TOML cookie jars.
func (c *Config) ProfileDir() string {
	return filepath.Join(c.DataDir, "profiles")
}

// ProfileDB is the SQLite cookie jar database.
func (c *Config) ProfileDB() string {
	return filepath.Join(c.DataDir, "profiles.db")
}

func writeFile(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
