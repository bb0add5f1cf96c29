package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/vat-batch/internal/export"
	"github.com/hochfrequenz/vat-batch/internal/store"
)

// Config holds all application configuration
type Config struct {
	MetadataStore StoreConfig  `toml:"metadata_store" yaml:"metadata_store"`
	BusinessStore StoreConfig  `toml:"business_store" yaml:"business_store"`
	Batch         BatchConfig  `toml:"batch" yaml:"batch"`
	Web           WebConfig    `toml:"web" yaml:"web"`
	Log           LogConfig    `toml:"log" yaml:"log"`
	Export        ExportConfig `toml:"export" yaml:"export"`
	Notify        NotifyConfig `toml:"notify" yaml:"notify"`
}

// StoreConfig describes one datastore connection
type StoreConfig struct {
	Driver       string   `toml:"driver" yaml:"driver"`
	DSN          string   `toml:"dsn" yaml:"dsn"`
	MaxOpenConns int      `toml:"max_open_conns" yaml:"max_open_conns"`
	PingTimeout  Duration `toml:"ping_timeout" yaml:"ping_timeout"`
}

// Store converts the file settings into a store.Config
func (c StoreConfig) Store() store.Config {
	return store.Config{
		Driver:       c.Driver,
		DSN:          c.DSN,
		MaxOpenConns: c.MaxOpenConns,
		PingTimeout:  c.PingTimeout.Duration,
	}
}

// BatchConfig holds job launch settings
type BatchConfig struct {
	AutoRun          bool   `toml:"auto_run" yaml:"auto_run"`
	ExitOnCompletion bool   `toml:"exit_on_completion" yaml:"exit_on_completion"`
	ChunkSize        int    `toml:"chunk_size" yaml:"chunk_size"`
	InputFile        string `toml:"input_file" yaml:"input_file"`
	OutputDir        string `toml:"output_dir" yaml:"output_dir"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Port            int      `toml:"port" yaml:"port"`
	Host            string   `toml:"host" yaml:"host"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (c WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// ExportConfig holds export job settings
type ExportConfig struct {
	ObjectStore export.ObjectStoreConfig `toml:"object_store" yaml:"object_store"`
}

// NotifyConfig holds job completion notification settings
type NotifyConfig struct {
	SlackWebhook string `toml:"slack_webhook" yaml:"slack_webhook"`
	FailuresOnly bool   `toml:"failures_only" yaml:"failures_only"`
}

// Duration is a time.Duration written as a string such as "10s" in config files
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		MetadataStore: StoreConfig{
			Driver:      store.DriverSQLite,
			DSN:         filepath.Join("data", "batch-metadata.db"),
			PingTimeout: Duration{2 * time.Second},
		},
		BusinessStore: StoreConfig{
			Driver:      store.DriverSQLite,
			DSN:         filepath.Join("data", "business.db"),
			PingTimeout: Duration{2 * time.Second},
		},
		Batch: BatchConfig{
			AutoRun:          false,
			ExitOnCompletion: true,
			ChunkSize:        10,
			InputFile:        "input-data.csv",
			OutputDir:        filepath.Join("data", "exports"),
		},
		Web: WebConfig{
			Port:            8080,
			Host:            "127.0.0.1",
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a TOML or YAML file, falling back to defaults
// when the file does not exist. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.Batch.InputFile = ExpandPath(cfg.Batch.InputFile)
	cfg.Batch.OutputDir = ExpandPath(cfg.Batch.OutputDir)
	for _, sc := range []*StoreConfig{&cfg.MetadataStore, &cfg.BusinessStore} {
		if sc.Driver == store.DriverSQLite {
			sc.DSN = ExpandPath(sc.DSN)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// Validate checks the configuration for values that cannot work
func (c *Config) Validate() error {
	var errs []error
	if err := c.MetadataStore.Store().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("metadata_store: %w", err))
	}
	if err := c.BusinessStore.Store().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("business_store: %w", err))
	}
	if c.Batch.ChunkSize <= 0 {
		errs = append(errs, errors.New("batch.chunk_size must be positive"))
	}
	if strings.TrimSpace(c.Batch.OutputDir) == "" {
		errs = append(errs, errors.New("batch.output_dir is required"))
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if err := c.Export.ObjectStore.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}
	return errors.Join(errs...)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "vat-batch", "config.toml")
}

// LocalConfigName is the project-local config file searched for by FindLocalConfig
const LocalConfigName = ".vat-batch.toml"

// FindLocalConfig walks up from the working directory looking for LocalConfigName.
// Returns "" when none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads path when given, otherwise a local config if one
// exists, otherwise DefaultConfigPath
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}
