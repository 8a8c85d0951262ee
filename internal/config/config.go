// Package config loads the bot configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile  = "config.yaml"
	DefaultStorageFile = "perch.db"
	DefaultInterval    = 5 * time.Minute
)

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "10m", "1h", or "2d" (Go's parser has no day unit, cron schedules want
// one).
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ParseDuration handles both Go durations and "Nd" day notation.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return parsed, nil
}

type Config struct {
	Identity string            `yaml:"identity"`
	Storage  StorageConfig     `yaml:"storage"`
	API      APIConfig         `yaml:"api"`
	Feeds    map[string]string `yaml:"feeds"` // user -> RSS/Atom feed URL
	Watches  WatchesConfig     `yaml:"watches"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// APIConfig points at a JSON social API. The token is read from the
// environment variable named by token_env, never from the config file.
type APIConfig struct {
	BaseURL  string `yaml:"base_url"`
	TokenEnv string `yaml:"token_env"`
}

// Token resolves the API token from the configured environment variable.
func (a APIConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

type WatchesConfig struct {
	Timelines []TimelineWatch `yaml:"timelines"`
	Links     []LinkWatch     `yaml:"links"`
}

type TimelineWatch struct {
	Kind     string   `yaml:"kind"`
	User     string   `yaml:"user"`
	Interval Duration `yaml:"interval"`
}

// LinkWatch declares a link-set watch. Notify selects which deltas are
// announced: "added", "removed", or both when empty.
type LinkWatch struct {
	Direction string   `yaml:"direction"`
	User      string   `yaml:"user"`
	Interval  Duration `yaml:"interval"`
	Notify    []string `yaml:"notify"`
}

// Load reads config.yaml from dir and applies defaults. A missing identity
// is an error; everything else has a sensible default.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, errors.New("identity is required")
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dir, DefaultStorageFile)
	}
	cfg.Storage.Path, err = ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	for i := range cfg.Watches.Timelines {
		if cfg.Watches.Timelines[i].Interval.Duration == 0 {
			cfg.Watches.Timelines[i].Interval.Duration = DefaultInterval
		}
	}
	for i := range cfg.Watches.Links {
		if cfg.Watches.Links[i].Interval.Duration == 0 {
			cfg.Watches.Links[i].Interval.Duration = DefaultInterval
		}
	}

	return &cfg, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
