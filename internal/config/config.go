// Package config loads the daemon's own settings — socket/pid/log paths,
// the service directory, the reconciliation tick interval — as distinct
// from the per-service unit files the registry loads.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds persistent daemon configuration loaded from
// ~/.diakonos/config.yaml.
type Config struct {
	ServiceDir string   `yaml:"service_dir"`
	SocketPath string   `yaml:"socket_path"`
	PidFile    string   `yaml:"pid_file"`
	LogFile    string   `yaml:"log_file"`
	TickPeriod Duration `yaml:"tick_period"`
	LogLevel   string   `yaml:"log_level"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like
// "5s"; a zero tick period is replaced by 5 seconds in WithDefaults.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// DefaultHome returns ~/.diakonos.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".diakonos"
	}
	return filepath.Join(home, ".diakonos")
}

// DefaultPath returns the default config file path: ~/.diakonos/config.yaml.
func DefaultPath() string {
	return filepath.Join(DefaultHome(), "config.yaml")
}

// WithDefaults fills any zero-valued field with the standard default,
// rooted at ~/.diakonos, and "./services" for the service directory.
func (c *Config) WithDefaults() *Config {
	out := *c
	home := DefaultHome()
	if out.ServiceDir == "" {
		out.ServiceDir = "./services"
	}
	if out.SocketPath == "" {
		out.SocketPath = filepath.Join(home, "daemon.sock")
	}
	if out.PidFile == "" {
		out.PidFile = filepath.Join(home, "daemon.pid")
	}
	if out.LogFile == "" {
		out.LogFile = filepath.Join(home, "daemon.log")
	}
	if out.TickPeriod.Duration == 0 {
		out.TickPeriod.Duration = 5 * time.Second
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	return &out
}

// Load reads a YAML config file from path. If the file does not exist, it
// returns an empty Config and no error — callers apply WithDefaults after.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
