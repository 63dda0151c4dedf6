package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "mysql", cfg.Database.Provider)
	assert.Equal(t, "DATABASE_URL", cfg.Database.URLEnv)
	assert.Equal(t, "h", cfg.Import.ErrorFormat)
	assert.Equal(t, "surveyid", cfg.Import.SubmissionColumn)
	assert.Equal(t, "ODKTOOLS", cfg.Import.OriginTag)
	assert.Equal(t, "rowuuid", cfg.Import.RowIDColumn)
	assert.Equal(t, "1900-01-01", cfg.Import.PlaceholderDate)
	assert.Equal(t, "sql", cfg.Dedup.Backend)
	assert.Equal(t, 3, cfg.Dedup.Retries)
	assert.Equal(t, 200*time.Millisecond, cfg.Dedup.Backoff)
	assert.Equal(t, "odkimport", cfg.Metrics.Job)
	assert.False(t, cfg.Metrics.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), FileName)
	content := `{
  "database": {"provider": "sqlite", "url_env": "ODK_DB"},
  "import": {"error_format": "m", "map_dir": "out/maps"},
  "dedup": {"backend": "file", "retries": 5, "backoff": "50ms"}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Provider)
	assert.Equal(t, "ODK_DB", cfg.Database.URLEnv)
	assert.Equal(t, "m", cfg.Import.ErrorFormat)
	assert.Equal(t, "out/maps", cfg.Import.MapDir)
	assert.Equal(t, "errors.log", cfg.Import.ErrorLog)
	assert.Equal(t, "file", cfg.Dedup.Backend)
	assert.Equal(t, 5, cfg.Dedup.Retries)
	assert.Equal(t, 50*time.Millisecond, cfg.Dedup.Backoff)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"provider", func(c *Config) { c.Database.Provider = "oracle" }},
		{"backend", func(c *Config) { c.Dedup.Backend = "memcached" }},
		{"format", func(c *Config) { c.Import.ErrorFormat = "json" }},
		{"row id", func(c *Config) { c.Import.RowIDColumn = "" }},
		{"retries", func(c *Config) { c.Dedup.Retries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	cfg := Default()
	cfg.Database.URLEnv = "ODK_TEST_DATABASE_URL"

	_, err := cfg.GetDatabaseURL()
	assert.Error(t, err)

	t.Setenv("ODK_TEST_DATABASE_URL", "sqlite://test.db")
	url, err := cfg.GetDatabaseURL()
	require.NoError(t, err)
	assert.Equal(t, "sqlite://test.db", url)
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)

	require.NoError(t, Default().Write(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	assert.Error(t, Default().Write(path), "second write must refuse to overwrite")
}
