package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// ProductionEnv is the only environment value that allows webhook dispatch.
const ProductionEnv = "prod"

// DefaultTimeFilter is the URL marker that signals an updated-since filter.
const DefaultTimeFilter = "updated_since="

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
	File   string `yaml:"file"`
}

type ProjectConfig struct {
	DataDir       string `yaml:"data_dir"`
	ArchiveDir    string `yaml:"archive_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a template; every occurrence of {schema} is replaced with the
	// schema name when a connection is opened.
	DSN          string   `yaml:"dsn"`
	BootstrapDSN string   `yaml:"bootstrap_dsn"`
	Schemas      []string `yaml:"schemas"`
}

type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type ArchiveConfig struct {
	Type string   `yaml:"type"` // local | s3
	S3   S3Config `yaml:"s3"`
}

// Endpoint describes one resource kind exposed by a source API.
type Endpoint struct {
	Type       string `yaml:"type"`
	URL        string `yaml:"url"`
	TimeFilter string `yaml:"time_filter"`
	Table      string `yaml:"table"`
}

type SourceConfig struct {
	Name           string     `yaml:"name"`
	Schema         string     `yaml:"schema"`
	APIKey         string     `yaml:"api_key"`
	Password       string     `yaml:"password"`
	IntervalDays   int        `yaml:"interval_days"`
	MaxPages       int        `yaml:"max_pages"`
	TimeoutSeconds int        `yaml:"timeout_seconds"`
	RateLimit      float64    `yaml:"rate_limit"`
	Endpoints      []Endpoint `yaml:"endpoints"`
}

type ScriptConfig struct {
	Script string `yaml:"script"`
	Schema string `yaml:"schema"`
}

type WebhookConfig struct {
	Type          string `yaml:"type"`
	URL           string `yaml:"url"`
	Schema        string `yaml:"schema"`
	Query         string `yaml:"query"`
	NumOfPayloads int    `yaml:"num_of_payloads"`
	// Time is the earliest UTC dispatch time as HHMM; 0 means always.
	Time       int `yaml:"time"`
	IntervalMS int `yaml:"interval_ms"`
}

type Config struct {
	Env        string          `yaml:"env"`
	Log        LogConfig       `yaml:"log"`
	Project    ProjectConfig   `yaml:"project"`
	Database   DatabaseConfig  `yaml:"database"`
	Retry      RetryConfig     `yaml:"retry"`
	Archive    ArchiveConfig   `yaml:"archive"`
	Sources    []SourceConfig  `yaml:"sources"`
	SQLDir     string          `yaml:"sql_dir"`
	SQLScripts []ScriptConfig  `yaml:"sql_scripts"`
	Webhooks   []WebhookConfig `yaml:"webhooks"`
}

// Load reads and unmarshals the configuration file located at the given path,
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// Parse builds a Config from raw YAML. Relative paths are left untouched.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets secrets and the environment flag come from the process
// environment instead of the YAML file.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := getenv("DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := getenv("DB_BOOTSTRAP_DSN"); v != "" {
		c.Database.BootstrapDSN = v
	}
	for i := range c.Sources {
		prefix := envPrefix(c.Sources[i].Name)
		if v := getenv(prefix + "_API_KEY"); v != "" {
			c.Sources[i].APIKey = v
		}
		if v := getenv(prefix + "_PASSWORD"); v != "" {
			c.Sources[i].Password = v
		}
	}
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(name))
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = "stg"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Project.DataDir == "" {
		c.Project.DataDir = "data"
	}
	if c.Project.ArchiveDir == "" {
		c.Project.ArchiveDir = filepath.Join(c.Project.DataDir, "archive")
	}
	if c.Project.RetentionDays == 0 {
		c.Project.RetentionDays = 30
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.DelayMS == 0 {
		c.Retry.DelayMS = 1500
	}
	if c.Archive.Type == "" {
		c.Archive.Type = "local"
	}
	if c.SQLDir == "" {
		c.SQLDir = "sql"
	}

	for i := range c.Sources {
		s := &c.Sources[i]
		if s.MaxPages == 0 {
			s.MaxPages = 1_000
		}
		if s.TimeoutSeconds == 0 {
			s.TimeoutSeconds = 60
		}
		for j := range s.Endpoints {
			ep := &s.Endpoints[j]
			if ep.TimeFilter == "" {
				ep.TimeFilter = DefaultTimeFilter
			}
			if ep.Table == "" {
				ep.Table = ep.Type
			}
		}
	}

	for i := range c.Webhooks {
		if c.Webhooks[i].NumOfPayloads < 1 {
			c.Webhooks[i].NumOfPayloads = 1
		}
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "pgx", "sqlite3":
	case "":
		return fmt.Errorf("database.driver is required")
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.Archive.Type {
	case "local":
	case "s3":
		if c.Archive.S3.Endpoint == "" || c.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.endpoint and archive.s3.bucket are required when archive type is s3")
		}
	default:
		return fmt.Errorf("unsupported archive type: %s", c.Archive.Type)
	}

	if c.Project.RetentionDays < 0 {
		return fmt.Errorf("project.retention_days must not be negative")
	}

	schemas := make(map[string]struct{}, len(c.Database.Schemas))
	for _, s := range c.Database.Schemas {
		schemas[s] = struct{}{}
	}
	knownSchema := func(name string) bool {
		_, ok := schemas[name]
		return ok
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source at index %d is missing name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("source '%s' is defined more than once", s.Name)
		}
		seen[s.Name] = struct{}{}

		if !knownSchema(s.Schema) {
			return fmt.Errorf("source '%s' references unknown schema '%s'", s.Name, s.Schema)
		}
		if s.IntervalDays < 0 {
			return fmt.Errorf("source '%s' has negative interval_days", s.Name)
		}
		for j, ep := range s.Endpoints {
			if ep.Type == "" {
				return fmt.Errorf("source '%s' endpoint at index %d is missing type", s.Name, j)
			}
			if ep.URL == "" {
				return fmt.Errorf("source '%s' endpoint '%s' is missing url", s.Name, ep.Type)
			}
		}
	}

	for i, sc := range c.SQLScripts {
		if sc.Script == "" {
			return fmt.Errorf("sql script at index %d is missing script", i)
		}
		if !knownSchema(sc.Schema) {
			return fmt.Errorf("sql script '%s' references unknown schema '%s'", sc.Script, sc.Schema)
		}
	}

	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook at index %d is missing url", i)
		}
		if wh.Query == "" {
			return fmt.Errorf("webhook '%s' is missing query", wh.Type)
		}
		if !knownSchema(wh.Schema) {
			return fmt.Errorf("webhook '%s' references unknown schema '%s'", wh.Type, wh.Schema)
		}
		if wh.Time < 0 || wh.Time > 2359 || wh.Time%100 > 59 {
			return fmt.Errorf("webhook '%s' has invalid time %d (expected HHMM)", wh.Type, wh.Time)
		}
	}

	return nil
}

// resolvePaths makes directory and script paths absolute relative to the
// directory containing the config file.
func (c *Config) resolvePaths(baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	c.Project.DataDir = abs(c.Project.DataDir)
	c.Project.ArchiveDir = abs(c.Project.ArchiveDir)
	c.SQLDir = abs(c.SQLDir)
	if c.Log.File != "" {
		c.Log.File = abs(c.Log.File)
	}
	for i := range c.SQLScripts {
		if !filepath.IsAbs(c.SQLScripts[i].Script) {
			c.SQLScripts[i].Script = filepath.Join(c.SQLDir, c.SQLScripts[i].Script)
		}
	}
}
