// Package config loads and validates KBVault configuration.
//
// Sources, lowest to highest precedence: built-in defaults, an optional
// kbvault.yaml in the working directory, a .env file, and finally the
// process environment. The backend URL is the only required value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kbvault/kbvault/internal/errors"
)

// ConfigFileName is the optional YAML config file looked up in the
// working directory.
const ConfigFileName = "kbvault.yaml"

// Config is the complete KBVault configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Backup    BackupConfig    `yaml:"backup"`
	Server    ServerConfig    `yaml:"server"`
	Verify    VerifyConfig    `yaml:"verify"`
}

// BackendConfig configures the vector store connection.
type BackendConfig struct {
	// URL of the Qdrant gRPC endpoint, e.g. "http://localhost:6334".
	URL string `yaml:"url"`
	// APIKey authenticates against a secured backend. Optional.
	APIKey string `yaml:"api_key"`
	// Collection is the logical collection name base. The service derives
	// "{collection}_docs" and "{collection}_code" from it.
	Collection string `yaml:"collection"`
	// Timeout applies per backend call.
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding model client.
type EmbeddingConfig struct {
	// Model is the embedder model identifier.
	Model string `yaml:"model"`
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Dimensions of the produced vectors. 0 = auto-detect on first call.
	Dimensions int `yaml:"dimensions"`
	// Timeout applies per embedder call.
	Timeout time.Duration `yaml:"timeout"`
	// CacheSize is the number of embeddings kept in the LRU cache.
	CacheSize int `yaml:"cache_size"`
}

// ChunkingConfig holds the default chunking parameters. Tool calls may
// override them within the allowed ranges.
type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// BackupConfig configures backup storage.
type BackupConfig struct {
	// Path is the directory that holds backup subdirectories.
	Path string `yaml:"path"`
}

// ServerConfig configures the tool protocol server.
type ServerConfig struct {
	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// IngestWorkers bounds concurrent file ingestion for directory adds.
	IngestWorkers int `yaml:"ingest_workers"`
	// SimilarityWarnings enables the embedding-space near-duplicate
	// check on writes that match no fingerprint.
	SimilarityWarnings bool `yaml:"similarity_warnings"`
	// SimilarityThreshold is the warn threshold when enabled.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// VerifyConfig configures document quality checks.
type VerifyConfig struct {
	// MinLength is the minimum normalized content length in bytes.
	MinLength int `yaml:"min_length"`
	// PassThreshold is the minimum quality score considered passing.
	PassThreshold float64 `yaml:"pass_threshold"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Collection: "kbvault",
			Timeout:    30 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:     "nomic-embed-text",
			Host:      "http://localhost:11434",
			Timeout:   60 * time.Second,
			CacheSize: 1000,
		},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 64,
		},
		Backup: BackupConfig{
			Path: defaultBackupPath(),
		},
		Server: ServerConfig{
			LogLevel:            "info",
			IngestWorkers:       4,
			SimilarityThreshold: 0.85,
		},
		Verify: VerifyConfig{
			MinLength:     10,
			PassThreshold: 1.0,
		},
	}
}

// Load builds the effective configuration for the given working directory.
// A missing kbvault.yaml or .env is not an error; a malformed one is.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(filepath.Join(dir, ConfigFileName)); err != nil {
		return nil, err
	}

	// .env populates the process environment without clobbering values
	// set by the caller.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.KindInvalidInput, "failed to load .env", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// loadYAML merges an optional YAML file into the config.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(errors.KindInvalidInput, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.KindInvalidInput, fmt.Sprintf("malformed %s", ConfigFileName), err)
	}
	return nil
}

// applyEnvOverrides applies environment variables on top of file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Backend.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("KBVAULT_COLLECTION"); v != "" {
		c.Backend.Collection = v
	}
	if v := os.Getenv("KBVAULT_EMBED_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.Embedding.Host = v
	}
	if v := os.Getenv("KBVAULT_BACKUP_PATH"); v != "" {
		c.Backup.Path = v
	}
	if v := os.Getenv("KBVAULT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("KBVAULT_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.IngestWorkers = n
		}
	}
	if v := os.Getenv("KBVAULT_SIMILARITY_WARN"); v != "" {
		c.Server.SimilarityWarnings = v == "true" || v == "1"
	}
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.InvalidInput("backend URL is required (set QDRANT_URL)")
	}
	if c.Backend.Collection == "" {
		return errors.InvalidInput("collection name must not be empty")
	}
	if c.Embedding.Model == "" {
		return errors.InvalidInput("embedding model must not be empty")
	}
	if c.Chunking.Size < 128 || c.Chunking.Size > 2048 {
		return errors.InvalidInputf("chunk size %d outside [128, 2048]", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap > 256 {
		return errors.InvalidInputf("chunk overlap %d outside [0, 256]", c.Chunking.Overlap)
	}
	if c.Verify.PassThreshold < 0 || c.Verify.PassThreshold > 1 {
		return errors.InvalidInputf("pass threshold %.2f outside [0, 1]", c.Verify.PassThreshold)
	}
	return nil
}

// DocsCollection returns the documents collection name.
func (c *Config) DocsCollection() string {
	return c.Backend.Collection + "_docs"
}

// CodeCollection returns the code collection name.
func (c *Config) CodeCollection() string {
	return c.Backend.Collection + "_code"
}

func defaultBackupPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".kbvault", "backups")
	}
	return filepath.Join(home, ".kbvault", "backups")
}
