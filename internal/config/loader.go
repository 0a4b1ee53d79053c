package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	// A missing file keeps the defaults; env overrides still apply
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Indexer: IndexerConfig{
			PollingInterval: 30 * time.Second,
			MaxWorkers:      4,
			QueueSize:       256,
			HashAlgorithm:   "md5",
			DebounceWindow:  250 * time.Millisecond,
			IgnorePatterns: []string{
				".git/",
				".augmentorium/",
				"node_modules/",
				"vendor/",
				"dist/",
				"build/",
				"__pycache__/",
				"*.pyc",
			},
			BinaryExtensions: []string{
				".png", ".jpg", ".jpeg", ".gif", ".ico", ".pdf",
				".zip", ".tar", ".gz", ".exe", ".so", ".dylib",
				".bin", ".dat", ".sqlite", ".db", ".woff", ".woff2",
			},
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: 1024,
			MinChunkSize: 64,
			ChunkOverlap: 128,
		},
		Languages: map[string]LanguageConfig{
			"python": {
				Extensions:       []string{".py"},
				ChunkingStrategy: "ast",
			},
			"javascript": {
				Extensions:       []string{".js", ".jsx"},
				ChunkingStrategy: "ast",
			},
			"typescript": {
				Extensions:       []string{".ts", ".tsx"},
				ChunkingStrategy: "ast",
			},
			"go": {
				Extensions:       []string{".go"},
				ChunkingStrategy: "ast",
			},
			"php": {
				Extensions:       []string{".php"},
				ChunkingStrategy: "ast",
			},
			"json": {
				Extensions:       []string{".json"},
				ChunkingStrategy: "json_object",
			},
			"yaml": {
				Extensions:       []string{".yaml", ".yml"},
				ChunkingStrategy: "yaml_document",
			},
			"markdown": {
				Extensions:       []string{".md", ".markdown"},
				ChunkingStrategy: "markdown_section",
			},
			"html": {
				Extensions:       []string{".html", ".htm"},
				ChunkingStrategy: "sliding_window",
			},
			"css": {
				Extensions:       []string{".css", ".scss", ".sass", ".less"},
				ChunkingStrategy: "sliding_window",
			},
			"text": {
				Extensions:       []string{".txt"},
				ChunkingStrategy: "sliding_window",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:       "http",
			BaseURL:        "http://localhost:11434",
			Model:          "nomic-embed-text",
			BatchSize:      10,
			MaxInFlight:    4,
			RequestTimeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
			CacheSize: 4096,
		},
		Storage: StorageConfig{
			VectorBackend: "sqlite",
			Qdrant: QdrantConfig{
				URL:              "http://localhost:6333",
				CollectionPrefix: "augmentorium",
			},
		},
		Query: QueryConfig{
			DefaultK:      10,
			ContextBudget: 16 * 1024,
			CacheSize:     100,
		},
		Projects: map[string]string{},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if baseURL := os.Getenv("AUGMENTORIUM_EMBEDDING_URL"); baseURL != "" {
		cfg.Embedding.BaseURL = baseURL
	}
	if model := os.Getenv("AUGMENTORIUM_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if provider := os.Getenv("AUGMENTORIUM_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if backend := os.Getenv("AUGMENTORIUM_VECTOR_BACKEND"); backend != "" {
		cfg.Storage.VectorBackend = backend
	}
	if url := os.Getenv("QDRANT_URL"); url != "" {
		cfg.Storage.Qdrant.URL = url
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		cfg.Storage.Qdrant.APIKey = apiKey
	}
	if workers := os.Getenv("AUGMENTORIUM_MAX_WORKERS"); workers != "" {
		if v, err := strconv.Atoi(workers); err == nil && v > 0 {
			cfg.Indexer.MaxWorkers = v
		}
	}
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "", "http", "ollama":
	default:
		return fmt.Errorf("embedding.provider must be 'http' or 'ollama'")
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "http"
	}

	switch cfg.Storage.VectorBackend {
	case "", "sqlite", "qdrant":
	default:
		return fmt.Errorf("storage.vector_backend must be 'sqlite' or 'qdrant'")
	}
	if cfg.Storage.VectorBackend == "" {
		cfg.Storage.VectorBackend = "sqlite"
	}

	switch cfg.Indexer.HashAlgorithm {
	case "", "md5", "sha1", "sha256":
	default:
		return fmt.Errorf("indexer.hash_algorithm must be md5, sha1 or sha256")
	}
	if cfg.Indexer.HashAlgorithm == "" {
		cfg.Indexer.HashAlgorithm = "md5"
	}

	if cfg.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("chunking.max_chunk_size must be positive")
	}
	if cfg.Chunking.MinChunkSize < 0 || cfg.Chunking.MinChunkSize > cfg.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.min_chunk_size must be between 0 and max_chunk_size")
	}
	if cfg.Chunking.ChunkOverlap < 0 || cfg.Chunking.ChunkOverlap >= cfg.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking.chunk_overlap must be smaller than max_chunk_size")
	}

	for lang, lc := range cfg.Languages {
		switch lc.ChunkingStrategy {
		case "ast", "sliding_window", "json_object", "yaml_document", "markdown_section":
		default:
			return fmt.Errorf("languages.%s.chunking_strategy %q is not recognized", lang, lc.ChunkingStrategy)
		}
	}

	if cfg.Indexer.MaxWorkers <= 0 {
		cfg.Indexer.MaxWorkers = 4
	}
	if cfg.Indexer.QueueSize <= 0 {
		cfg.Indexer.QueueSize = 256
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 10
	}
	if cfg.Embedding.MaxInFlight <= 0 {
		cfg.Embedding.MaxInFlight = 4
	}

	return nil
}

// ExtensionLanguage returns the language tag configured for an extension,
// or "" when no language claims it.
func (c *Config) ExtensionLanguage(ext string) string {
	for lang, lc := range c.Languages {
		for _, e := range lc.Extensions {
			if e == ext {
				return lang
			}
		}
	}
	return ""
}
