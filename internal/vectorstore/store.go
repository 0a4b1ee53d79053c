package vectorstore

import (
	"context"

	"github.com/wangdangel/augmentorium/internal/chunker"
)

// EmbeddedChunk pairs a chunk with its embedding vector and the model that
// produced it.
type EmbeddedChunk struct {
	Chunk   chunker.Chunk
	Vector  []float32
	ModelID string
}

// Filter restricts a k-NN search by chunk metadata.
type Filter struct {
	Language   string
	Kind       string
	PathPrefix string
	Name       string
}

// Hit is a scored search result.
type Hit struct {
	Chunk chunker.Chunk
	Score float64
}

// Store is a per-project vector collection keyed by chunk id.
type Store interface {
	UpsertMany(ctx context.Context, chunks []EmbeddedChunk) error
	DeleteMany(ctx context.Context, chunkIDs []string) error
	DeleteByPath(ctx context.Context, relPath string) error
	ListByPath(ctx context.Context, relPath string) ([]string, error)

	// KNN returns the k nearest chunks by cosine similarity, best first.
	KNN(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error)

	Count(ctx context.Context) (int, error)
	Close() error
}
