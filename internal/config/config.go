package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/viper"
)

const FileName = "odkimport.config.json"

type Config struct {
	Database Database `json:"database" mapstructure:"database"`
	Import   Import   `json:"import" mapstructure:"import"`
	Dedup    Dedup    `json:"dedup" mapstructure:"dedup"`
	Metrics  Metrics  `json:"metrics" mapstructure:"metrics"`
}

type Database struct {
	Provider string `json:"provider" mapstructure:"provider"`
	URLEnv   string `json:"url_env" mapstructure:"url_env"`
}

type Import struct {
	Manifest       string `json:"manifest" mapstructure:"manifest"`
	MapDir         string `json:"map_dir" mapstructure:"map_dir"`
	ErrorLog       string `json:"error_log" mapstructure:"error_log"`
	ErrorFormat    string `json:"error_format" mapstructure:"error_format"` // h = tab separated, m = XML
	OverwriteLog   bool   `json:"overwrite_log,omitempty" mapstructure:"overwrite_log"`
	SQLOut         string `json:"sql_out,omitempty" mapstructure:"sql_out"`
	HookScript     string `json:"hook_script,omitempty" mapstructure:"hook_script"`
	AttachmentsDir string `json:"attachments_dir,omitempty" mapstructure:"attachments_dir"`
	InsertedLog    string `json:"inserted_log,omitempty" mapstructure:"inserted_log"`

	SubmissionColumn string `json:"submission_column" mapstructure:"submission_column"`
	OriginColumn     string `json:"origin_column" mapstructure:"origin_column"`
	OriginTag        string `json:"origin_tag" mapstructure:"origin_tag"`
	RowIDColumn      string `json:"row_id_column" mapstructure:"row_id_column"`
	PlaceholderDate  string `json:"placeholder_date" mapstructure:"placeholder_date"`
	ConstraintTable  string `json:"constraint_table" mapstructure:"constraint_table"`
	LatColumn        string `json:"osm_lat_column" mapstructure:"osm_lat_column"`
	LonColumn        string `json:"osm_lon_column" mapstructure:"osm_lon_column"`
}

type Dedup struct {
	Backend     string        `json:"backend" mapstructure:"backend"` // sql, file or redis
	Table       string        `json:"table" mapstructure:"table"`
	File        string        `json:"file" mapstructure:"file"`
	RedisURLEnv string        `json:"redis_url_env" mapstructure:"redis_url_env"`
	RedisKey    string        `json:"redis_key" mapstructure:"redis_key"`
	Retries     int           `json:"retries" mapstructure:"retries"`
	Backoff     time.Duration `json:"backoff" mapstructure:"backoff"`
}

type Metrics struct {
	PushgatewayURL string `json:"pushgateway_url,omitempty" mapstructure:"pushgateway_url"`
	Job            string `json:"job" mapstructure:"job"`
	Textfile       string `json:"textfile,omitempty" mapstructure:"textfile"`
}

// Enabled reports whether any metrics output is configured.
func (m Metrics) Enabled() bool {
	return m.PushgatewayURL != "" || m.Textfile != ""
}

var (
	supportedProviders = []string{"postgresql", "postgres", "mysql", "sqlite", "sqlite3"}
	supportedBackends  = []string{"sql", "file", "redis"}
	supportedFormats   = []string{"h", "m"}
)

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func Load() (*Config, error) {
	var cfg Config

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Database.Provider, "mysql")
	setDefault(&c.Database.URLEnv, "DATABASE_URL")

	setDefault(&c.Import.MapDir, "maps")
	setDefault(&c.Import.ErrorLog, "errors.log")
	setDefault(&c.Import.ErrorFormat, "h")
	setDefault(&c.Import.SubmissionColumn, "surveyid")
	setDefault(&c.Import.OriginColumn, "originid")
	setDefault(&c.Import.OriginTag, "ODKTOOLS")
	setDefault(&c.Import.RowIDColumn, "rowuuid")
	setDefault(&c.Import.PlaceholderDate, "1900-01-01")
	setDefault(&c.Import.ConstraintTable, "dict_relinfo")
	setDefault(&c.Import.LatColumn, "geopoint_lat")
	setDefault(&c.Import.LonColumn, "geopoint_lon")

	setDefault(&c.Dedup.Backend, "sql")
	setDefault(&c.Dedup.Table, "_odk_imported")
	setDefault(&c.Dedup.File, "processed.txt")
	setDefault(&c.Dedup.RedisURLEnv, "REDIS_URL")
	setDefault(&c.Dedup.RedisKey, "odkimport:imported")
	if c.Dedup.Retries == 0 {
		c.Dedup.Retries = 3
	}
	if c.Dedup.Backoff == 0 {
		c.Dedup.Backoff = 200 * time.Millisecond
	}

	setDefault(&c.Metrics.Job, "odkimport")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func (c *Config) GetDatabaseURL() (string, error) {
	dbURL := os.Getenv(c.Database.URLEnv)
	if dbURL == "" {
		return "", fmt.Errorf("database URL not found in environment variable %s", c.Database.URLEnv)
	}
	return dbURL, nil
}

func (c *Config) GetRedisURL() (string, error) {
	redisURL := os.Getenv(c.Dedup.RedisURLEnv)
	if redisURL == "" {
		return "", fmt.Errorf("redis URL not found in environment variable %s", c.Dedup.RedisURLEnv)
	}
	return redisURL, nil
}

func (c *Config) Validate() error {
	if !slices.Contains(supportedProviders, c.Database.Provider) {
		return fmt.Errorf("unsupported database provider: %s. Supported providers: %v", c.Database.Provider, supportedProviders)
	}

	if !slices.Contains(supportedBackends, c.Dedup.Backend) {
		return fmt.Errorf("unsupported dedup backend: %s. Supported backends: %v", c.Dedup.Backend, supportedBackends)
	}

	if !slices.Contains(supportedFormats, c.Import.ErrorFormat) {
		return fmt.Errorf("unsupported error format: %s. Use h (tab separated) or m (XML)", c.Import.ErrorFormat)
	}

	if c.Import.RowIDColumn == "" {
		return fmt.Errorf("row_id_column cannot be empty")
	}

	if c.Dedup.Retries < 1 {
		return fmt.Errorf("dedup retries must be at least 1, got %d", c.Dedup.Retries)
	}

	return nil
}

// Write stores the configuration as indented JSON, refusing to replace an
// existing file.
func (c *Config) Write(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
