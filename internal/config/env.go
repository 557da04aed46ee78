package config

import "os"

// envOverrides maps environment variables to config field setters.
var envOverrides = []struct {
	envVar string
	apply  func(*Config, string)
}{
	{
		envVar: "TYPHON_DB_PATH",
		apply: func(c *Config, v string) {
			c.DBPath = v
		},
	},
	{
		envVar: "TYPHON_EVAL_CMD",
		apply: func(c *Config, v string) {
			c.EvalCommand = v
		},
	},
	{
		envVar: "TYPHON_BUILD_CMD",
		apply: func(c *Config, v string) {
			c.BuildCommand = v
		},
	},
	{
		envVar: "TYPHON_LOG_LEVEL",
		apply: func(c *Config, v string) {
			c.LogLevel = v
		},
	},
}

// applyEnvOverrides modifies config in place with environment variable values.
func applyEnvOverrides(cfg *Config) {
	for _, override := range envOverrides {
		if val := os.Getenv(override.envVar); val != "" {
			override.apply(cfg, val)
		}
	}
}
