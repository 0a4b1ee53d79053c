package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wangdangel/augmentorium/internal/embedding"
	"github.com/wangdangel/augmentorium/internal/graph"
	"github.com/wangdangel/augmentorium/internal/hashcache"
	"github.com/wangdangel/augmentorium/internal/pipeline"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
	"github.com/wangdangel/augmentorium/internal/watcher"
)

// DataDirName is the hidden per-project directory under the project root.
const DataDirName = ".augmentorium"

// Project bundles one project's exclusive resources: hash cache, vector
// store, graph store, pipeline, and watcher.
type Project struct {
	Name    string
	Root    string
	DataDir string

	hashes   *hashcache.Cache
	vectors  vectorstore.Store
	graph    *graph.Store
	embedder embedding.Embedder
	pipe     *pipeline.Pipeline
	watch    *watcher.Watcher

	// disabled holds the open-time failure that took the project out of
	// service until reinitialization
	disabled error
}

func (e *Engine) openProject(name, root string) (*Project, error) {
	dataDir := filepath.Join(root, DataDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	p := &Project{
		Name:    name,
		Root:    root,
		DataDir: dataDir,
	}

	// A changed embedding model invalidates every stored vector
	if e.modelChanged(dataDir) {
		if err := eraseDataDir(dataDir); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := e.recordModel(dataDir); err != nil {
		return nil, err
	}

	hashes, err := hashcache.Open(filepath.Join(dataDir, "hash_cache.json"), e.cfg.Indexer.HashAlgorithm)
	if err != nil {
		p.disabled = err
		return p, nil
	}

	vectors, err := e.openVectorStore(name, dataDir)
	if err != nil {
		p.disabled = err
		return p, nil
	}

	graphStore, err := graph.OpenStore(filepath.Join(dataDir, "graph.db"))
	if err != nil {
		vectors.Close()
		p.disabled = err
		return p, nil
	}

	// The embedder's transient retries count into this project's status
	status := &pipeline.Status{}
	embedder, err := embedding.NewEmbedder(e.cfg.Embedding, e.sem, status.CountTransient)
	if err != nil {
		vectors.Close()
		graphStore.Close()
		return nil, err
	}

	p.hashes = hashes
	p.vectors = vectors
	p.graph = graphStore
	p.embedder = embedder

	pipe := pipeline.New(pipeline.Resources{
		Project:       name,
		Root:          root,
		Chunker:       e.chunker,
		Extractor:     e.extractor,
		Vectors:       vectors,
		Graph:         graphStore,
		Hashes:        hashes,
		HashAlgorithm: e.cfg.Indexer.HashAlgorithm,
	}, embedder, e.pool, e.cfg.Indexer.QueueSize, status)
	p.pipe = pipe

	watch, err := watcher.New(name, root, dataDir, e.cfg, pipe, hashes)
	if err != nil {
		p.closeResources()
		return nil, err
	}
	p.watch = watch

	if err := watch.Start(); err != nil {
		p.closeResources()
		return nil, err
	}
	return p, nil
}

func (e *Engine) openVectorStore(project, dataDir string) (vectorstore.Store, error) {
	if e.cfg.Storage.VectorBackend == "qdrant" {
		prefix := e.cfg.Storage.Qdrant.CollectionPrefix
		if prefix == "" {
			prefix = "augmentorium"
		}
		return vectorstore.OpenQdrant(context.Background(), vectorstore.QdrantConfig{
			URL:        e.cfg.Storage.Qdrant.URL,
			APIKey:     e.cfg.Storage.Qdrant.APIKey,
			Collection: prefix + "-" + project,
			Dimension:  e.probeDimension(),
		})
	}
	return vectorstore.OpenSQLite(filepath.Join(dataDir, "vector"))
}

// modelChanged reports whether the recorded embedding model differs from the
// configured one.
func (e *Engine) modelChanged(dataDir string) bool {
	data, err := os.ReadFile(filepath.Join(dataDir, "embedding_model"))
	if err != nil {
		return false
	}
	recorded := strings.TrimSpace(string(data))
	return recorded != "" && recorded != e.cfg.Embedding.Model
}

func (e *Engine) recordModel(dataDir string) error {
	return os.WriteFile(filepath.Join(dataDir, "embedding_model"), []byte(e.cfg.Embedding.Model+"\n"), 0o644)
}

// probeDimension asks the embedder for a vector to size remote collections.
func (e *Engine) probeDimension() int {
	embedder, err := embedding.NewEmbedder(e.cfg.Embedding, e.sem, nil)
	if err != nil {
		return 0
	}
	defer embedder.Close()
	vecs, err := embedder.Embed(context.Background(), []string{"dimension probe"})
	if err != nil || len(vecs) == 0 {
		return 0
	}
	return len(vecs[0])
}

func eraseDataDir(dataDir string) error {
	if err := os.RemoveAll(dataDir); err != nil {
		return fmt.Errorf("failed to erase data dir: %w", err)
	}
	return nil
}

func (p *Project) closeResources() {
	if p.watch != nil {
		p.watch.Stop()
		p.watch = nil
	}
	if p.pipe != nil {
		p.pipe.Close()
		p.pipe = nil
	}
	if p.embedder != nil {
		p.embedder.Close()
		p.embedder = nil
	}
	if p.vectors != nil {
		p.vectors.Close()
		p.vectors = nil
	}
	if p.graph != nil {
		p.graph.Close()
		p.graph = nil
	}
}
