// Package config loads the filestore configuration from YAML with
// environment overrides and builds the logger and the storage backend from it.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/franksops/filestore/provider"
	"github.com/franksops/filestore/serializer"
	"github.com/franksops/filestore/storage"
)

// Config is the full runtime configuration.
type Config struct {
	// Backend is a location URI understood by provider.Open.
	Backend    string `yaml:"backend"`
	Serializer string `yaml:"serializer"`

	S3    S3Config    `yaml:"s3"`
	GCS   GCSConfig   `yaml:"gcs"`
	Azure AzureConfig `yaml:"azure"`

	Retry   RetryConfig   `yaml:"retry"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
	Mirror  MirrorConfig  `yaml:"mirror"`
}

// S3Config fills in S3 settings the backend URI leaves out.
type S3Config struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type AzureConfig struct {
	ConnectionString string `yaml:"connection_string"`
	AccountName      string `yaml:"account_name"`
	AccountKey       string `yaml:"account_key"`
	ServiceURL       string `yaml:"service_url"`
}

// RetryConfig enables the retrying decorator.
type RetryConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Policy  provider.RetryPolicy `yaml:",inline"`
}

// MetricsConfig enables the Prometheus decorator.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

// MirrorConfig holds defaults for the mirror command.
type MirrorConfig struct {
	StatePath string `yaml:"state_path"`
	Workers   int    `yaml:"workers"`
	PageSize  int    `yaml:"page_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend:    "file://./data",
		Serializer: "json",
		Retry: RetryConfig{
			Policy: provider.DefaultRetryPolicy(),
		},
		Metrics: MetricsConfig{Namespace: "filestore"},
		Log:     LogConfig{Level: "info", Format: "text"},
		Mirror: MirrorConfig{
			StatePath: ".filestore/state.db",
			Workers:   8,
			PageSize:  500,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Backend = getEnv("FILESTORE_BACKEND", c.Backend)
	c.Serializer = getEnv("FILESTORE_SERIALIZER", c.Serializer)

	c.S3.Region = getEnv("FILESTORE_S3_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("FILESTORE_S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("FILESTORE_S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("FILESTORE_S3_SECRET_KEY", c.S3.SecretKey)

	c.GCS.CredentialsFile = getEnv("FILESTORE_GCS_CREDENTIALS", c.GCS.CredentialsFile)
	c.GCS.Endpoint = getEnv("FILESTORE_GCS_ENDPOINT", c.GCS.Endpoint)

	c.Azure.ConnectionString = getEnv("FILESTORE_AZURE_CONNECTION_STRING", c.Azure.ConnectionString)
	c.Azure.ServiceURL = getEnv("FILESTORE_AZURE_SERVICE_URL", c.Azure.ServiceURL)

	c.Retry.Enabled = getEnvBool("FILESTORE_RETRY", c.Retry.Enabled)
	c.Retry.Policy.MaxRetries = uint64(getEnvInt("FILESTORE_RETRY_MAX", int(c.Retry.Policy.MaxRetries)))
	c.Retry.Policy.InitialInterval = getEnvDuration("FILESTORE_RETRY_INITIAL_INTERVAL", c.Retry.Policy.InitialInterval)

	c.Metrics.Enabled = getEnvBool("FILESTORE_METRICS", c.Metrics.Enabled)
	c.Metrics.Namespace = getEnv("FILESTORE_METRICS_NAMESPACE", c.Metrics.Namespace)
	c.Metrics.Addr = getEnv("FILESTORE_METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = getEnv("FILESTORE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("FILESTORE_LOG_FORMAT", c.Log.Format)

	c.Mirror.StatePath = getEnv("FILESTORE_STATE_PATH", c.Mirror.StatePath)
	c.Mirror.Workers = getEnvInt("FILESTORE_WORKERS", c.Mirror.Workers)
}

// Validate checks the settings that do not need I/O.
func (c *Config) Validate() error {
	var errs []error
	if c.Backend == "" {
		errs = append(errs, errors.New("backend is required"))
	} else if _, err := url.Parse(c.Backend); err != nil {
		errs = append(errs, fmt.Errorf("backend: %w", err))
	}
	if _, err := serializer.ByName(c.Serializer); err != nil {
		errs = append(errs, err)
	}
	if c.Mirror.Workers < 0 {
		errs = append(errs, fmt.Errorf("mirror.workers must not be negative, got %d", c.Mirror.Workers))
	}
	if c.Mirror.PageSize < 0 {
		errs = append(errs, fmt.Errorf("mirror.page_size must not be negative, got %d", c.Mirror.PageSize))
	}
	return errors.Join(errs...)
}

// Location returns Backend with the per-backend sections merged into its
// query and credentials. Values already present in the URI win.
func (c *Config) Location() (string, error) {
	return c.location(c.Backend)
}

func (c *Config) location(backend string) (string, error) {
	u, err := url.Parse(backend)
	if err != nil {
		return "", fmt.Errorf("%w: backend %q: %v", provider.ErrInvalidArgument, backend, err)
	}
	q := u.Query()
	setDefault := func(key, value string) {
		if value != "" && q.Get(key) == "" {
			q.Set(key, value)
		}
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		setDefault("region", c.S3.Region)
		setDefault("endpoint", c.S3.Endpoint)
		if u.User == nil && c.S3.AccessKey != "" {
			u.User = url.UserPassword(c.S3.AccessKey, c.S3.SecretKey)
		}
	case "gs", "gcs":
		setDefault("credentials", c.GCS.CredentialsFile)
		setDefault("endpoint", c.GCS.Endpoint)
	case "azblob", "azure":
		setDefault("service", c.Azure.ServiceURL)
		if u.User == nil {
			if c.Azure.AccountName != "" {
				u.User = url.UserPassword(c.Azure.AccountName, c.Azure.AccountKey)
			} else {
				setDefault("connection_string", c.Azure.ConnectionString)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OpenProvider opens the configured backend and applies the enabled
// decorators. Retries wrap metrics so every attempt is counted and
// seekable bodies stay visible to the retry layer. A nil reg falls back to
// the default Prometheus registerer.
func (c *Config) OpenProvider(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (provider.Provider, error) {
	return c.OpenBackend(ctx, c.Backend, log, reg)
}

// OpenBackend is OpenProvider for an explicit location, such as a mirror
// destination, using this configuration's credentials and decorators.
func (c *Config) OpenBackend(ctx context.Context, backend string, log *slog.Logger, reg prometheus.Registerer) (provider.Provider, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	location, err := c.location(backend)
	if err != nil {
		return nil, err
	}

	p, err := provider.Open(ctx, location, provider.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("open backend: %w", err)
	}

	if c.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		mp, err := provider.WithMetrics(p, reg, c.Metrics.Namespace)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		p = mp
	}
	if c.Retry.Enabled {
		p = provider.WithRetry(p, c.Retry.Policy, log)
	}
	return p, nil
}

// OpenStorage opens the backend and wraps it in a storage.Storage with the
// configured serializer.
func (c *Config) OpenStorage(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*storage.Storage, error) {
	ser, err := serializer.ByName(c.Serializer)
	if err != nil {
		return nil, err
	}
	p, err := c.OpenProvider(ctx, log, reg)
	if err != nil {
		return nil, err
	}
	return storage.New(p, storage.WithSerializer(ser), storage.WithLogger(log)), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
