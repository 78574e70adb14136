package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/dit/internal/dit"
)

// Config represents the dit configuration file (~/.config/dit/config.yaml).
// Scalar fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Block overrides the built-in block defaults field by field.
	Block yaml.Node `yaml:"block"`

	Seed        *int64 `yaml:"seed"`
	WeightDType string `yaml:"weight_dtype"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "dit", "config.yaml")
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

// applyLogConfig applies config file defaults to the logging flags when they
// were not explicitly set.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the shared model flags.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
	if cfg.WeightDType != "" && !c.IsSet("weight-dtype") {
		weightDType = cfg.WeightDType
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// resolveBlockConfig layers the block configuration: built-in defaults, the
// config file's block section, the --config file, then explicit flags.
func resolveBlockConfig(fileCfg Config, path string, bf *blockFlags, isSet func(string) bool) (dit.BlockConfig, error) {
	cfg := dit.DefaultBlockConfig()
	if !fileCfg.Block.IsZero() {
		if err := fileCfg.Block.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("config file block section: %w", err)
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read block config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse block config %s: %w", path, err)
		}
	}
	bf.apply(&cfg, isSet)
	return cfg, cfg.Validate()
}
