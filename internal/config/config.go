// Package config loads orchestrator settings from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the orchestrator.
type Config struct {
	// DBPath is the sqlite database file backing all persisted state.
	DBPath string `yaml:"db_path"`

	// EvalCommand is the external flake evaluator executable.
	EvalCommand string `yaml:"eval_command"`

	// BuildCommand is the external builder executable.
	BuildCommand string `yaml:"build_command"`

	// BusCapacity bounds the event bus's pending-event buffer.
	BusCapacity int `yaml:"bus_capacity"`

	// LogLevel controls kernel log verbosity ("quiet", "info", "debug").
	LogLevel string `yaml:"log_level"`
}

// Load reads configuration from path, falling back to .typhon.yaml in
// the working directory and then ~/.typhon/config.yaml. A missing file
// yields defaults; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, cfg.Validate()
}

func findConfigFile() string {
	if _, err := os.Stat(".typhon.yaml"); err == nil {
		return ".typhon.yaml"
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(homeDir, ".typhon", "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}
