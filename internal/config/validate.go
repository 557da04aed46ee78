package config

import "fmt"

var validLogLevels = map[string]bool{
	"quiet": true,
	"info":  true,
	"debug": true,
}

// Validate checks the configuration for values the kernel cannot run
// with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.EvalCommand == "" {
		return fmt.Errorf("eval_command must not be empty")
	}
	if c.BuildCommand == "" {
		return fmt.Errorf("build_command must not be empty")
	}
	if c.BusCapacity <= 0 {
		return fmt.Errorf("bus_capacity must be positive, got %d", c.BusCapacity)
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q (want quiet, info, or debug)", c.LogLevel)
	}
	return nil
}
