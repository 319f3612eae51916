// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config loads application configuration from a YAML file, a .env
// file and TRANSCRIPTLENS_* environment variables.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// YAML file, the environment. Command line flags are applied by the caller
// on top of the returned Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/ingestion"
	"github.com/poiesic/transcriptlens/query"
	"github.com/poiesic/transcriptlens/storage"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "transcriptlens.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRANSCRIPTLENS_"

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config is the root application configuration.
type Config struct {
	APIToken   string           `yaml:"api_token,omitempty"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Store      StoreConfig      `yaml:"store"`
	Query      QueryConfig      `yaml:"query"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Server     ServerConfig     `yaml:"server"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Host       string `yaml:"host"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
}

// GenerationConfig selects the generation model.
type GenerationConfig struct {
	Host        string  `yaml:"host"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// StoreConfig selects and configures the vector store.
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
	// MinSimilarity drops search results below the threshold. Defaults to
	// storage.DefaultMinSimilarity; -1 keeps every result.
	MinSimilarity *float32 `yaml:"min_similarity,omitempty"`
}

// QueryConfig configures the query pipeline.
type QueryConfig struct {
	TopK        int `yaml:"top_k"`
	MaxAttempts int `yaml:"max_attempts"`
}

// IngestionConfig configures the ingestion pipeline. An unset Delay means
// ingestion.DefaultRateLimitDelay; an explicit 0 disables the pause.
type IngestionConfig struct {
	ChunkSize    int            `yaml:"chunk_size"`
	ChunkOverlap int            `yaml:"chunk_overlap"`
	BatchSize    int            `yaml:"batch_size"`
	Delay        *time.Duration `yaml:"delay,omitempty"`
	PoolSize     int            `yaml:"pool_size"`
	MaxAttempts  int            `yaml:"max_attempts"`
	RetryDelay   time.Duration  `yaml:"retry_delay"`
}

// ServerConfig configures the HTTP handler.
type ServerConfig struct {
	Host    string        `yaml:"host"`
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
	// SnippetLength truncates source snippets in responses to this many
	// characters. Zero returns them whole.
	SnippetLength *int  `yaml:"snippet_length,omitempty"`
	MaxBodyBytes  int64 `yaml:"max_body_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with the built-in defaults.
func ApplyDefaults(cfg *Config) {
	aiDefaults := ai.DefaultConfig()

	if cfg.Embedding.Host == "" {
		cfg.Embedding.Host = aiDefaults.EmbeddingHost
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = aiDefaults.EmbeddingModel
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = aiDefaults.Dimensions
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = aiDefaults.EmbeddingBatchSize
	}
	if cfg.Generation.Host == "" {
		cfg.Generation.Host = aiDefaults.GenerationHost
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = aiDefaults.GenerationModel
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = aiDefaults.Temperature
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendBadger
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/transcripts.db"
	}
	if cfg.Store.BatchSize == 0 {
		cfg.Store.BatchSize = ingestion.DefaultBatchSize
	}
	if cfg.Store.MinSimilarity == nil {
		floor := storage.DefaultMinSimilarity
		cfg.Store.MinSimilarity = &floor
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = query.DefaultTopK
	}
	if cfg.Query.MaxAttempts == 0 {
		cfg.Query.MaxAttempts = query.DefaultMaxAttempts
	}

	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = ingestion.DefaultChunkSize
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = ingestion.DefaultChunkOverlap
	}
	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = ingestion.DefaultBatchSize
	}
	if cfg.Ingestion.Delay == nil {
		d := ingestion.DefaultRateLimitDelay
		cfg.Ingestion.Delay = &d
	}
	if cfg.Ingestion.MaxAttempts == 0 {
		cfg.Ingestion.MaxAttempts = ingestion.DefaultMaxAttempts
	}
	if cfg.Ingestion.RetryDelay == 0 {
		cfg.Ingestion.RetryDelay = ingestion.DefaultRetryDelay
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 2 * time.Minute
	}
	if cfg.Server.SnippetLength == nil {
		n := 200
		cfg.Server.SnippetLength = &n
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
}

// Load builds a Config from the YAML file at path and the environment. A
// missing file is not an error when path is DefaultPath or empty. Variables
// from a .env file in the working directory are added to the environment
// first without replacing variables that are already set.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML file at path and applies defaults. Relative store
// paths are resolved against the file's directory.
func LoadFile(path string) (*Config, error) {
	optional := path == "" || path == DefaultPath
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("%w: failed to read config: %w", core.ErrConfiguration, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config %s: %w", core.ErrConfiguration, path, err)
	}
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(filepath.Dir(path), cfg.Store.Path)
	}
	ApplyDefaults(&cfg)

	return &cfg, nil
}

// Save writes cfg to path as YAML, creating directories as needed. The API
// token is never written.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	out := *cfg
	out.APIToken = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables named EnvPrefix plus
// the upper-cased YAML path, e.g. TRANSCRIPTLENS_STORE_BACKEND. The API token
// falls back to OPENAI_API_KEY.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.str("API_TOKEN", &c.APIToken)
	if c.APIToken == "" {
		if token, ok := lookup("OPENAI_API_KEY"); ok {
			c.APIToken = token
		}
	}

	env.str("EMBEDDING_HOST", &c.Embedding.Host)
	env.str("EMBEDDING_MODEL", &c.Embedding.Model)
	env.int("EMBEDDING_DIMENSIONS", &c.Embedding.Dimensions)
	env.int("EMBEDDING_BATCH_SIZE", &c.Embedding.BatchSize)
	env.str("GENERATION_HOST", &c.Generation.Host)
	env.str("GENERATION_MODEL", &c.Generation.Model)
	env.float("GENERATION_TEMPERATURE", &c.Generation.Temperature)

	env.str("STORE_BACKEND", &c.Store.Backend)
	env.str("STORE_PATH", &c.Store.Path)
	env.int("STORE_BATCH_SIZE", &c.Store.BatchSize)
	if raw, ok := env.get("STORE_MIN_SIMILARITY"); ok {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			env.fail("STORE_MIN_SIMILARITY", err)
		} else {
			floor := float32(v)
			c.Store.MinSimilarity = &floor
		}
	}

	env.int("QUERY_TOP_K", &c.Query.TopK)
	env.int("QUERY_MAX_ATTEMPTS", &c.Query.MaxAttempts)

	env.int("INGESTION_CHUNK_SIZE", &c.Ingestion.ChunkSize)
	env.int("INGESTION_CHUNK_OVERLAP", &c.Ingestion.ChunkOverlap)
	env.int("INGESTION_BATCH_SIZE", &c.Ingestion.BatchSize)
	env.durationPtr("INGESTION_DELAY", &c.Ingestion.Delay)
	env.int("INGESTION_POOL_SIZE", &c.Ingestion.PoolSize)

	env.str("SERVER_HOST", &c.Server.Host)
	env.int("SERVER_PORT", &c.Server.Port)
	env.duration("SERVER_TIMEOUT", &c.Server.Timeout)
	if raw, ok := env.get("SERVER_SNIPPET_LENGTH"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			env.fail("SERVER_SNIPPET_LENGTH", err)
		} else {
			c.Server.SnippetLength = &n
		}
	}

	return errors.Join(env.errs...)
}

// Validate checks that the configuration is usable. Every failure wraps
// core.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.AI().Validate(); err != nil {
		return err
	}

	switch c.Store.Backend {
	case BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown store backend %q", core.ErrConfiguration, c.Store.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store path is required", core.ErrConfiguration)
	}
	if c.Store.BatchSize < 1 {
		return fmt.Errorf("%w: store batch size must be positive", core.ErrConfiguration)
	}
	if m := c.Store.MinSimilarity; m != nil && (*m < -1 || *m > 1) {
		return fmt.Errorf("%w: min similarity must be in [-1, 1], got %v", core.ErrConfiguration, *m)
	}

	if c.Query.TopK < 1 {
		return fmt.Errorf("%w: top k must be positive", core.ErrConfiguration)
	}
	if c.Query.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be positive", core.ErrConfiguration)
	}

	if c.Ingestion.ChunkSize < 1 || c.Ingestion.ChunkOverlap < 0 || c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		return fmt.Errorf("%w: %w: size %d, overlap %d", core.ErrConfiguration, core.ErrInvalidChunkParams,
			c.Ingestion.ChunkSize, c.Ingestion.ChunkOverlap)
	}
	if c.Ingestion.BatchSize < 1 {
		return fmt.Errorf("%w: ingestion batch size must be positive", core.ErrConfiguration)
	}
	if d := c.Ingestion.Delay; d != nil && *d < 0 {
		return fmt.Errorf("%w: ingestion delay must not be negative", core.ErrConfiguration)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port out of range: %d", core.ErrConfiguration, c.Server.Port)
	}
	if c.Server.SnippetLength != nil && *c.Server.SnippetLength < 0 {
		return fmt.Errorf("%w: snippet length must not be negative", core.ErrConfiguration)
	}
	return nil
}

// AI returns the AI service configuration.
func (c *Config) AI() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithDimensions(c.Embedding.Dimensions),
		ai.WithGenerationHost(c.Generation.Host),
		ai.WithGenerationModel(c.Generation.Model),
		ai.WithTemperature(c.Generation.Temperature),
		ai.WithAPIToken(c.APIToken),
		func(cfg *ai.Config) { cfg.EmbeddingBatchSize = c.Embedding.BatchSize },
	)
}

// IngestionOptions returns the ingestion pipeline options for this config.
func (c *Config) IngestionOptions() []ingestion.Option {
	opts := []ingestion.Option{
		ingestion.WithChunking(c.Ingestion.ChunkSize, c.Ingestion.ChunkOverlap),
		ingestion.WithBatchSize(c.Ingestion.BatchSize),
		ingestion.WithRateLimitDelay(c.ingestionDelay()),
		ingestion.WithRetry(c.Ingestion.MaxAttempts, c.Ingestion.RetryDelay),
	}
	if c.Ingestion.PoolSize > 0 {
		opts = append(opts, ingestion.WithPoolSize(c.Ingestion.PoolSize))
	}
	return opts
}

func (c *Config) ingestionDelay() time.Duration {
	if c.Ingestion.Delay == nil {
		return ingestion.DefaultRateLimitDelay
	}
	return *c.Ingestion.Delay
}

// QueryOptions returns the query pipeline options for this config.
func (c *Config) QueryOptions() []query.Option {
	return []query.Option{
		query.WithTopK(c.Query.TopK),
		query.WithMaxAttempts(c.Query.MaxAttempts),
	}
}

// Address returns the host:port the server listens on.
func (c *Config) Address() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: invalid %s%s: %w", core.ErrConfiguration, EnvPrefix, key, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) durationPtr(key string, dst **time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, err)
			return
		}
		*dst = &d
	}
}
