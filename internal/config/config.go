// Package config provides configuration loading and structs for the kbsearch server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/normalize"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Normalize NormalizeConfig `yaml:"normalize"`
	Search    SearchConfig    `yaml:"search"`
	Upload    UploadConfig    `yaml:"upload"`
	Watch     WatchConfig     `yaml:"watch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the document store and index locations.
type StorageConfig struct {
	Driver         string `yaml:"driver"` // sqlite or postgres
	DatabasePath   string `yaml:"database_path"`
	PostgresDSN    string `yaml:"postgres_dsn"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider          string        `yaml:"provider"` // openai, onnx or hash
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Dimensions        int           `yaml:"dimensions"`
	MaxTokens         int           `yaml:"max_tokens"`
	ModelPath         string        `yaml:"model_path"`
	LibraryPath       string        `yaml:"library_path"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// Namespace identifies the embedding space; cached vectors are only shared within one.
func (e EmbeddingConfig) Namespace() string {
	model := e.Model
	if e.Provider == ProviderHash {
		model = fmt.Sprintf("%d", e.Dimensions)
	}
	return e.Provider + ":" + model
}

// CacheConfig selects where embeddings are cached beyond the in-process LRU.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory, store or redis
	Capacity      int    `yaml:"capacity"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

// NormalizeConfig holds the text normalization policy. Unset flags default to true.
type NormalizeConfig struct {
	CaseFold    *bool `yaml:"case_fold"`
	StripMarkup *bool `yaml:"strip_markup"`
}

// Options returns the normalizer policy.
func (n NormalizeConfig) Options() normalize.Options {
	opts := normalize.DefaultOptions()
	if n.CaseFold != nil {
		opts.CaseFold = *n.CaseFold
	}
	if n.StripMarkup != nil {
		opts.StripMarkup = *n.StripMarkup
	}
	return opts
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	DefaultK int    `yaml:"default_k"`
	MaxK     int    `yaml:"max_k"`
	Metric   string `yaml:"metric"`
}

// UploadConfig limits uploads.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// WatchDirectory is an inbox directory whose files are ingested as Kind.
type WatchDirectory struct {
	Path string `yaml:"path"`
	Kind string `yaml:"kind"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []WatchDirectory `yaml:"directories"`
	Extensions  []string         `yaml:"extensions"`
	Recursive   *bool            `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// EnabledOrDefault returns whether metrics are served; defaults to true when unset.
func (m MetricsConfig) EnabledOrDefault() bool {
	return m.Enabled == nil || *m.Enabled
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references with environment values.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(m)[1])))
	})
}

// Load reads and parses the config file at path, expands ${ENV} references and paths,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i].Path = expandPath(cfg.Watch.Directories[i].Path, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path. An API key taken from OPENAI_API_KEY is written back
// as a reference, not as the secret.
func Save(path string, cfg *Config) error {
	out := *cfg
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && out.Embedding.APIKey == key {
		out.Embedding.APIKey = "${OPENAI_API_KEY}"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks enumerated settings and provider requirements.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q (sqlite, postgres)", c.Storage.Driver)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" {
			return fmt.Errorf("config: embedding.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	case ProviderONNX:
		if c.Embedding.ModelPath == "" {
			return fmt.Errorf("config: embedding.model_path is required for the onnx provider")
		}
	case ProviderHash:
	default:
		return fmt.Errorf("config: unknown embedding.provider %q (openai, onnx, hash)", c.Embedding.Provider)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheStore:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("config: cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cache.backend %q (memory, store, redis)", c.Cache.Backend)
	}

	if _, err := vector.ParseMetric(c.Search.Metric); err != nil {
		return fmt.Errorf("config: search.metric: %w", err)
	}
	for _, d := range c.Watch.Directories {
		if _, err := models.ParseKind(d.Kind); err != nil {
			return fmt.Errorf("config: watch directory %s: %w", d.Path, err)
		}
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

// Summary returns the non-secret settings reported by the status endpoint and command.
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"storage_driver":       c.Storage.Driver,
		"embedding_provider":   c.Embedding.Provider,
		"embedding_model":      c.Embedding.Model,
		"embedding_dimensions": c.Embedding.Dimensions,
		"cache_backend":        c.Cache.Backend,
		"metric":               c.Search.Metric,
		"max_upload_bytes":     c.Upload.MaxBytes,
	}
}
