// Package config loads daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	// DataDir holds per-namespace database snapshots.
	DataDir string `mapstructure:"dataDir" yaml:"dataDir"`

	// CacheDir holds the engine compilation cache.
	CacheDir string `mapstructure:"cacheDir" yaml:"cacheDir"`

	Server struct {
		// BaseURL of the sync server API.
		BaseURL string `mapstructure:"baseUrl" yaml:"baseUrl"`
		// Token is the session credential sent with every request.
		Token string `mapstructure:"token" yaml:"token"`
	} `mapstructure:"server" yaml:"server"`

	Sync struct {
		// Interval between periodic full syncs.
		Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	} `mapstructure:"sync" yaml:"sync"`

	Dashboard struct {
		Enabled bool `mapstructure:"enabled" yaml:"enabled"`
		Port    int  `mapstructure:"port" yaml:"port"`
	} `mapstructure:"dashboard" yaml:"dashboard"`

	Log struct {
		// File receives rotated logs; empty logs to stderr only.
		File       string `mapstructure:"file" yaml:"file"`
		MaxSizeMB  int    `mapstructure:"maxSizeMb" yaml:"maxSizeMb"`
		MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	} `mapstructure:"log" yaml:"log"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "daybook.yaml"
	}
	return filepath.Join(home, ".daybook", "daybook.yaml")
}

func setDefaults(v *viper.Viper, path string) {
	base := filepath.Dir(path)
	v.SetDefault("dataDir", filepath.Join(base, "data"))
	v.SetDefault("cacheDir", filepath.Join(base, "cache"))
	v.SetDefault("server.baseUrl", "")
	v.SetDefault("server.token", "")
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 7319)
	v.SetDefault("log.file", "")
	v.SetDefault("log.maxSizeMb", 10)
	v.SetDefault("log.maxBackups", 3)
}

// Load reads the config file at path, applying defaults and DAYBOOK_*
// environment overrides. A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	filename := filepath.Base(path)
	v.AddConfigPath(filepath.Dir(path))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	setDefaults(v, path)

	v.SetEnvPrefix("DAYBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.baseUrl", "DAYBOOK_SERVER_URL")
	_ = v.BindEnv("server.token", "DAYBOOK_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes a commented scaffold config to path, creating parent
// directories. Refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, path)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to build default config: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	header := "# Daybook sync daemon configuration.\n# Environment overrides: DAYBOOK_SERVER_URL, DAYBOOK_TOKEN.\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
