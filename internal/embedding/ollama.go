package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms/ollama"
	"golang.org/x/sync/semaphore"

	"github.com/wangdangel/augmentorium/internal/config"
)

// OllamaEmbedder generates embeddings through a local Ollama server using
// the langchaingo client, as an alternative to the raw HTTP provider.
type OllamaEmbedder struct {
	llm         *ollama.LLM
	model       string
	sem         *semaphore.Weighted
	batch       int
	onTransient func()
}

// NewOllamaEmbedder creates the Ollama-backed embedder. onTransient is
// invoked once per failed endpoint call, mirroring the HTTP provider's hook.
func NewOllamaEmbedder(cfg config.EmbeddingConfig, sem *semaphore.Weighted, onTransient func()) (*OllamaEmbedder, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding.model is required for the ollama provider")
	}

	llm, err := ollama.New(
		ollama.WithServerURL(baseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 10
	}
	return &OllamaEmbedder{llm: llm, model: cfg.Model, sem: sem, batch: batch, onTransient: onTransient}, nil
}

// ModelID returns the configured model identifier.
func (e *OllamaEmbedder) ModelID() string {
	return e.model
}

// Close releases client resources.
func (e *OllamaEmbedder) Close() error {
	return nil
}

// Embed returns one vector per input text, in input order.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		end := start + e.batch
		if end > len(texts) {
			end = len(texts)
		}

		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		out, err := e.llm.CreateEmbedding(ctx, texts[start:end])
		e.sem.Release(1)
		if err != nil {
			if e.onTransient != nil && !errors.Is(err, context.Canceled) {
				e.onTransient()
			}
			return nil, fmt.Errorf("ollama embedding failed: %w", err)
		}
		if len(out) != end-start {
			return nil, fmt.Errorf("ollama returned %d vectors for %d inputs", len(out), end-start)
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}
