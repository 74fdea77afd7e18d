// Package config loads process configuration from defaults, an optional YAML
// file, an optional .env file and PLASTICATLAS_ environment variables, in that
// order of increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"plasticatlas/internal/blob"
	"plasticatlas/internal/infra/persistence"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "PLASTICATLAS_"

// DefaultEnvFile is read when Load is given no explicit env file and it exists.
const DefaultEnvFile = ".env"

// Config is the full process configuration.
type Config struct {
	Storage    persistence.Config `yaml:"storage" envPrefix:"STORAGE_"`
	HTTP       HTTPConfig         `yaml:"http" envPrefix:"HTTP_"`
	Blob       blob.Config        `yaml:"blob" envPrefix:"BLOB_"`
	Reports    ReportsConfig      `yaml:"reports" envPrefix:"REPORTS_"`
	Structures StructuresConfig   `yaml:"structures" envPrefix:"STRUCTURES_"`
	Log        LogConfig          `yaml:"log" envPrefix:"LOG_"`
	Metrics    MetricsConfig      `yaml:"metrics" envPrefix:"METRICS_"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// ReportsConfig sizes the export worker.
type ReportsConfig struct {
	Workers       int           `yaml:"workers" env:"WORKERS"`
	QueueSize     int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	PresignExpiry time.Duration `yaml:"presign_expiry" env:"PRESIGN_EXPIRY"`
}

// StructuresConfig controls pdb_url links on structure lookups. A non-empty
// BaseURL wins; otherwise files under Prefix in the blob store are presigned.
type StructuresConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Prefix  string `yaml:"prefix" env:"PREFIX"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// MetricsConfig toggles the Prometheus recorder and /metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Storage: persistence.Config{
			Driver:     persistence.DriverSQLite,
			SQLitePath: "plasticatlas.db",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Blob: blob.Config{
			Driver: blob.DriverFilesystem,
			FSRoot: "./blobdata",
		},
		Reports: ReportsConfig{
			Workers:       2,
			QueueSize:     64,
			PresignExpiry: 15 * time.Minute,
		},
		Structures: StructuresConfig{Prefix: "pdb_structs"},
		Log:        LogConfig{Level: "info", Format: "text"},
		Metrics:    MetricsConfig{Enabled: true, Namespace: "plasticatlas"},
	}
}

// Load layers configPath (optional YAML), envFile and the process
// environment over Default. An empty envFile reads DefaultEnvFile when it
// exists; a named envFile must exist. Variables already present in the
// process environment win over values from the env file.
func Load(configPath, envFile string) (Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}

	environ := map[string]string{}
	fileVars, err := readEnvFile(envFile)
	if err != nil {
		return Config{}, err
	}
	for k, v := range fileVars {
		environ[k] = v
	}
	for k, v := range env.ToMap(os.Environ()) {
		environ[k] = v
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil, nil
		}
		path = DefaultEnvFile
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case persistence.DriverMemory, persistence.DriverSQLite:
	case persistence.DriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == persistence.DriverSQLite && c.Storage.SQLitePath == "" {
		return errors.New("storage.sqlite_path is required for the sqlite driver")
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return errors.New("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Reports.Workers < 1 {
		return fmt.Errorf("reports.workers must be positive, got %d", c.Reports.Workers)
	}
	if c.Reports.QueueSize < 1 {
		return fmt.Errorf("reports.queue_size must be positive, got %d", c.Reports.QueueSize)
	}
	if c.Structures.BaseURL != "" {
		u, err := url.Parse(c.Structures.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("structures.base_url must be an absolute URL, got %q", c.Structures.BaseURL)
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ParseLevel maps debug/info/warn/error (case-insensitive) to a slog level.
// An empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds a text or JSON slog logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
