package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/wangdangel/augmentorium/internal/config"
)

// Common errors
var (
	// ErrBatchRejected marks a permanent upstream failure (HTTP 4xx or an
	// input the endpoint cannot embed). The task is not retried until the
	// file's content changes.
	ErrBatchRejected = errors.New("embedding batch rejected")

	// ErrEmptyInput is returned for a request with no texts.
	ErrEmptyInput = errors.New("no texts to embed")
)

// Embedder generates embedding vectors for a list of texts. Output order
// matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
	Close() error
}

// NewSemaphore creates the process-wide in-flight bound for embedding
// batches. It is injected as a handle so tests can substitute their own.
func NewSemaphore(maxInFlight int) *semaphore.Weighted {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return semaphore.NewWeighted(int64(maxInFlight))
}

// NewEmbedder builds the configured provider, wrapped in the content-hash
// cache when one is configured.
func NewEmbedder(cfg config.EmbeddingConfig, sem *semaphore.Weighted, onTransient func()) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)
	switch cfg.Provider {
	case "", "http":
		embedder = NewHTTPClient(cfg, sem, onTransient)
	case "ollama":
		embedder, err = NewOllamaEmbedder(cfg, sem, onTransient)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}
	return embedder, nil
}
