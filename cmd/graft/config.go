package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the graft configuration file (~/.config/graft/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	AdaptersDir string `yaml:"adapters_dir"`

	// Reference host
	Host   string `yaml:"host"`
	Layers *int64 `yaml:"layers"`
	Seed   *int64 `yaml:"seed"`

	// Saving
	DType string `yaml:"dtype"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// configPathOverride is a seam for tests.
var configPathOverride string

func configPath() string {
	if configPathOverride != "" {
		return configPathOverride
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "graft", "config.yaml")
}

// applyGlobalConfig applies config file defaults to the root flags when the
// corresponding flag was not explicitly set.
func applyGlobalConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyHostConfig applies config file defaults to the host and directory flags.
func applyHostConfig(c *cli.Command, cfg Config) {
	if cfg.AdaptersDir != "" && !c.IsSet("dir") {
		adaptersDir = cfg.AdaptersDir
	}
	if cfg.Host != "" && !c.IsSet("host") {
		hostPreset = cfg.Host
	}
	if cfg.Layers != nil && !c.IsSet("layers") {
		hostLayers = *cfg.Layers
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		hostSeed = *cfg.Seed
	}
}

func applyDTypeConfig(c *cli.Command, cfg Config, dtype *string) {
	if cfg.DType != "" && !c.IsSet("dtype") {
		*dtype = cfg.DType
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
