package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDBPath, cfg.DBPath)
	assert.Equal(t, DefaultEvalCommand, cfg.EvalCommand)
	assert.Equal(t, DefaultBuildCommand, cfg.BuildCommand)
	assert.Equal(t, DefaultBusCapacity, cfg.BusCapacity)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typhon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/typhon/typhon.db
eval_command: my-eval
bus_capacity: 16
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/typhon/typhon.db", cfg.DBPath)
	assert.Equal(t, "my-eval", cfg.EvalCommand)
	assert.Equal(t, 16, cfg.BusCapacity)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultBuildCommand, cfg.BuildCommand)
}

func TestLoad_MalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typhon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: [nope"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typhon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: from-file.db\n"), 0o644))
	t.Setenv("TYPHON_DB_PATH", "from-env.db")
	t.Setenv("TYPHON_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: true},
		{name: "empty eval command", mutate: func(c *Config) { c.EvalCommand = "" }, wantErr: true},
		{name: "empty build command", mutate: func(c *Config) { c.BuildCommand = "" }, wantErr: true},
		{name: "zero bus capacity", mutate: func(c *Config) { c.BusCapacity = 0 }, wantErr: true},
		{name: "bogus log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
