package config

import (
	"time"
)

// Config represents the global engine configuration
type Config struct {
	// Indexer configuration
	Indexer IndexerConfig `yaml:"indexer"`

	// Chunking configuration
	Chunking ChunkingConfig `yaml:"chunking"`

	// Languages maps a language tag to its extensions and chunking strategy
	Languages map[string]LanguageConfig `yaml:"languages"`

	// Embedding configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Query configuration
	Query QueryConfig `yaml:"query"`

	// Projects is the initial project registry: name -> root path
	Projects map[string]string `yaml:"projects"`
}

// IndexerConfig contains watcher and pipeline settings
type IndexerConfig struct {
	// PollingInterval is the delay between the periodic reconciliation scans
	// that run alongside native filesystem events; there is no polling-only
	// mode when native events are unavailable
	PollingInterval time.Duration `yaml:"polling_interval"`

	// MaxWorkers is the size of the indexing worker pool
	MaxWorkers int `yaml:"max_workers"`

	// QueueSize bounds the per-project task queue; producers block when full
	QueueSize int `yaml:"queue_size"`

	// HashAlgorithm selects the hash cache digest: md5, sha1, sha256
	HashAlgorithm string `yaml:"hash_algorithm"`

	// DebounceWindow coalesces repeated events for the same path
	DebounceWindow time.Duration `yaml:"debounce_window"`

	// IgnorePatterns are gitignore-syntax patterns applied to every project
	// in addition to the engine defaults and the per-project ignore file
	IgnorePatterns []string `yaml:"ignore_patterns"`

	// BinaryExtensions are always ignored regardless of ignore patterns
	BinaryExtensions []string `yaml:"binary_extensions"`
}

// ChunkingConfig contains byte-level chunking limits
type ChunkingConfig struct {
	MaxChunkSize int `yaml:"max_chunk_size"`
	MinChunkSize int `yaml:"min_chunk_size"`

	// ChunkOverlap is applied in bytes, both to sliding windows and to
	// oversized AST nodes split by the window splitter
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// LanguageConfig maps file extensions to a chunking strategy
type LanguageConfig struct {
	Extensions []string `yaml:"extensions"`

	// ChunkingStrategy is one of: ast, sliding_window, json_object,
	// yaml_document, markdown_section
	ChunkingStrategy string `yaml:"chunking_strategy"`
}

// EmbeddingConfig contains embedding endpoint settings
type EmbeddingConfig struct {
	// Provider type: "http" (OpenAI-style endpoint) or "ollama"
	Provider string `yaml:"provider"`

	BaseURL        string        `yaml:"base_url"`
	Model          string        `yaml:"model"`
	BatchSize      int           `yaml:"batch_size"`
	MaxInFlight    int           `yaml:"max_in_flight"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Retry RetryConfig `yaml:"retry"`

	// CacheSize bounds the content-hash embedding cache (0 disables it)
	CacheSize int `yaml:"cache_size"`
}

// RetryConfig contains retry/backoff settings for the embedder client
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// StorageConfig selects the vector store backend
type StorageConfig struct {
	// VectorBackend is "sqlite" (local, per-project file) or "qdrant"
	VectorBackend string `yaml:"vector_backend"`

	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains settings for the remote vector store backend
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// QueryConfig contains query planner settings
type QueryConfig struct {
	// DefaultK is the result count used when the caller passes none
	DefaultK int `yaml:"default_k"`

	// ContextBudget caps the assembled context string, in bytes
	ContextBudget int `yaml:"context_budget"`

	// CacheSize bounds the query result cache (0 disables it)
	CacheSize int `yaml:"cache_size"`
}
