package config

import (
	"os"
	"time"

	"github.com/hyperjump/kbsearch/internal/embedding"
	"github.com/hyperjump/kbsearch/internal/models"
	"github.com/hyperjump/kbsearch/internal/vector"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderONNX   = "onnx"
	ProviderHash   = "hash"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheStore  = "store"
	CacheRedis  = "redis"
)

// DefaultMaxUploadBytes is the upload limit when none is configured (200 MiB).
const DefaultMaxUploadBytes = 200 << 20

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverSQLite
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kbsearch/data/db/kbsearch.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kbsearch/data/indices/bleve"
	}

	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = ProviderOpenAI
	}
	if e.Provider == ProviderOpenAI {
		if e.Model == "" {
			e.Model = "text-embedding-3-small"
		}
		if e.APIKey == "" {
			e.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if e.Provider == ProviderONNX && e.Model == "" {
		e.Model = "all-MiniLM-L6-v2"
	}
	if e.Dimensions == 0 && e.Provider != ProviderOpenAI {
		e.Dimensions = embedding.DefaultHashDimensions
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 5
	}
	if e.Burst == 0 {
		e.Burst = 1
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheStore
	}
	if cfg.Cache.RedisPrefix == "" {
		cfg.Cache.RedisPrefix = "kbsearch:embedding:"
	}

	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = models.DefaultK
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = models.MaxK
	}
	if cfg.Search.Metric == "" {
		cfg.Search.Metric = string(vector.DefaultMetric)
	}

	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = DefaultMaxUploadBytes
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".html", ".htm", ".pdf", ".docx", ".odt", ".rtf", ".csv", ".xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}
