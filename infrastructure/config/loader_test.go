package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ironscout/harvester/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name     string        `env:"SAMPLE_NAME"     yaml:"name"`
	Interval time.Duration `env:"SAMPLE_INTERVAL" yaml:"interval"`
	Enabled  bool          `env:"SAMPLE_ENABLED"  yaml:"enabled"`
	Tags     []string      `env:"SAMPLE_TAGS"     yaml:"tags"`
	Nested   struct {
		Limit int `env:"SAMPLE_LIMIT" yaml:"limit"`
	} `yaml:"nested"`
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithDefaults_EnvWinsOverDefaults(t *testing.T) {
	path := writeFile(t, "name: from-file\nnested:\n  limit: 3\n")
	t.Setenv("SAMPLE_INTERVAL", "90s")
	t.Setenv("SAMPLE_ENABLED", "yes")
	t.Setenv("SAMPLE_TAGS", "a, b")

	cfg, err := config.LoadWithDefaults(path, func(c *sample) {
		if c.Interval == 0 {
			c.Interval = time.Minute
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 90*time.Second, cfg.Interval)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
	assert.Equal(t, 3, cfg.Nested.Limit)
}

func TestLoad_MissingFileUsesZeroValue(t *testing.T) {
	t.Setenv("SAMPLE_LIMIT", "7")

	cfg, err := config.Load[sample](filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Nested.Limit)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeFile(t, "name: [unterminated")

	_, err := config.Load[sample](path)
	assert.Error(t, err)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, "")
	assert.Equal(t, "config.yml", config.GetConfigPath("config.yml"))

	t.Setenv(config.ConfigPathEnv, "/etc/harvester.yml")
	assert.Equal(t, "/etc/harvester.yml", config.GetConfigPath("config.yml"))
}

func TestDatabaseConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := config.DatabaseConfig{User: "harvester", Database: "harvester"}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	cfg.User = ""
	var vErr *config.ValidationError
	require.True(t, errors.As(cfg.Validate(), &vErr))
	assert.Equal(t, "database.user", vErr.Field)
}
