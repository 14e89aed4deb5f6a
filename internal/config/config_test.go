package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
embedding:
  provider: hash
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("hash dimensions: got %d", cfg.Embedding.Dimensions)
	}
}

func TestLoad_debugTrue(t *testing.T) {
	path := writeConfig(t, `
debug: true
embedding:
  provider: hash
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/db/documents.db"
  bleve_index_path: "./data/bleve"
embedding:
  provider: hash
watch:
  directories:
    - path: "./inbox/articles"
      kind: article
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantDB := filepath.Join(dir, "data", "db", "documents.db")
	if cfg.Storage.DatabasePath != wantDB {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, wantDB)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	wantWatch := filepath.Join(dir, "inbox", "articles")
	if cfg.Watch.Directories[0].Path != wantWatch {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0].Path, wantWatch)
	}
}

func TestLoad_expandsEnvReferences(t *testing.T) {
	t.Setenv("KBSEARCH_TEST_KEY", "sk-test")
	path := writeConfig(t, `
embedding:
  provider: openai
  api_key: "${KBSEARCH_TEST_KEY}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", cfg.Embedding.APIKey)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("default openai model: got %s", cfg.Embedding.Model)
	}
	if cfg.Embedding.Namespace() != "openai:text-embedding-3-small" {
		t.Errorf("namespace: got %s", cfg.Embedding.Namespace())
	}
}

func TestLoad_durations(t *testing.T) {
	path := writeConfig(t, `
server:
  request_timeout: 5s
embedding:
  provider: hash
  timeout: 1m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout: got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Embedding.Timeout != time.Minute {
		t.Errorf("embedding timeout: got %v", cfg.Embedding.Timeout)
	}
}

func TestLoad_invalid(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cases := map[string]string{
		"unknown driver":   "storage:\n  driver: mysql\nembedding:\n  provider: hash\n",
		"postgres no dsn":  "storage:\n  driver: postgres\nembedding:\n  provider: hash\n",
		"unknown provider": "embedding:\n  provider: word2vec\n",
		"openai no key":    "embedding:\n  provider: openai\n",
		"onnx no model":    "embedding:\n  provider: onnx\n",
		"unknown backend":  "embedding:\n  provider: hash\ncache:\n  backend: memcached\n",
		"redis no addr":    "embedding:\n  provider: hash\ncache:\n  backend: redis\n",
		"bad metric":       "embedding:\n  provider: hash\nsearch:\n  metric: manhattan\n",
		"bad watch kind":   "embedding:\n  provider: hash\nwatch:\n  directories:\n    - path: /tmp/x\n      kind: memo\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("default driver: got %s", cfg.Storage.Driver)
	}
	if cfg.Cache.Backend != CacheStore || cfg.Cache.Capacity != 0 {
		t.Errorf("default cache: got %+v", cfg.Cache)
	}
	if cfg.Search.DefaultK != 5 || cfg.Search.MaxK != 100 {
		t.Errorf("default k: got %d/%d", cfg.Search.DefaultK, cfg.Search.MaxK)
	}
	if cfg.Search.Metric != "cosine" {
		t.Errorf("default metric: got %s", cfg.Search.Metric)
	}
	if cfg.Upload.MaxBytes != 200*1024*1024 {
		t.Errorf("default upload limit: got %d", cfg.Upload.MaxBytes)
	}
	if len(cfg.Watch.Extensions) == 0 || cfg.Watch.Extensions[0] != ".txt" {
		t.Errorf("watch extensions: got %v", cfg.Watch.Extensions)
	}
	if !cfg.Metrics.EnabledOrDefault() || cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics defaults: got %+v", cfg.Metrics)
	}
	opts := cfg.Normalize.Options()
	if !opts.CaseFold || !opts.StripMarkup {
		t.Errorf("normalize defaults: got %+v", opts)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []WatchDirectory{{Path: "/tmp/docs", Kind: "article"}}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestNormalizeConfig_Options(t *testing.T) {
	f := false
	opts := NormalizeConfig{CaseFold: &f}.Options()
	if opts.CaseFold {
		t.Error("case_fold should be false when set")
	}
	if !opts.StripMarkup {
		t.Error("strip_markup should default to true")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:    ServerConfig{Host: "localhost", Port: 9090, RequestTimeout: 15 * time.Second},
		Storage:   StorageConfig{DatabasePath: "/tmp/db"},
		Embedding: EmbeddingConfig{Provider: ProviderHash},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.Server.RequestTimeout != 15*time.Second {
		t.Errorf("loaded request_timeout: got %v", loaded.Server.RequestTimeout)
	}
}

func TestSave_keepsEnvKeyReference(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{Embedding: EmbeddingConfig{Provider: ProviderOpenAI, APIKey: "sk-secret"}}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "sk-secret") {
		t.Errorf("saved config contains the API key:\n%s", data)
	}
	if cfg.Embedding.APIKey != "sk-secret" {
		t.Errorf("Save modified the in-memory config")
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Embedding.APIKey != "sk-secret" {
		t.Errorf("api key after reload: got %q", loaded.Embedding.APIKey)
	}
}
