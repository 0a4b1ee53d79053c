package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangdangel/augmentorium/internal/chunker"
	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/graph"
	"github.com/wangdangel/augmentorium/internal/hashcache"
	"github.com/wangdangel/augmentorium/internal/parser"
	"github.com/wangdangel/augmentorium/internal/pipeline"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
)

type nullEmbedder struct{}

func (nullEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}
func (nullEmbedder) ModelID() string { return "null" }
func (nullEmbedder) Close() error    { return nil }

func newWatcherFixture(t *testing.T) (*Watcher, *pipeline.Pipeline, string, *hashcache.Cache) {
	t.Helper()
	root := t.TempDir()
	dataDir := filepath.Join(root, ".augmentorium")

	cfg := config.DefaultConfig()
	cfg.Chunking.MinChunkSize = 8
	cfg.Indexer.DebounceWindow = 20 * time.Millisecond
	cfg.Indexer.PollingInterval = time.Hour

	pool := parser.NewPool()
	vectors, err := vectorstore.OpenSQLite(filepath.Join(dataDir, "vector"))
	require.NoError(t, err)
	graphStore, err := graph.OpenStore(filepath.Join(dataDir, "graph.db"))
	require.NoError(t, err)
	hashes, err := hashcache.Open(filepath.Join(dataDir, "hash_cache.json"), "md5")
	require.NoError(t, err)

	pipe := pipeline.New(pipeline.Resources{
		Project:       "test",
		Root:          root,
		Chunker:       chunker.New(cfg, pool),
		Extractor:     graph.NewExtractor(pool),
		Vectors:       vectors,
		Graph:         graphStore,
		Hashes:        hashes,
		HashAlgorithm: "md5",
	}, nullEmbedder{}, pipeline.NewPool(2), 32, nil)

	w, err := New("test", root, dataDir, cfg, pipe, hashes)
	require.NoError(t, err)

	t.Cleanup(func() {
		w.Stop()
		pipe.Close()
		vectors.Close()
		graphStore.Close()
	})
	return w, pipe, root, hashes
}

func waitIdle(t *testing.T, pipe *pipeline.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pipe.WaitIdle(ctx))
}

func TestReconcileIndexesExistingFiles(t *testing.T) {
	w, pipe, root, hashes := newWatcherFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(): return 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.pyc"), []byte("binary"), 0o644))

	require.NoError(t, w.Start())
	waitIdle(t, pipe)

	_, tracked := hashes.Get("a.py")
	assert.True(t, tracked)
	_, tracked = hashes.Get("skip.pyc")
	assert.False(t, tracked, "default ignore patterns cover *.pyc")
}

func TestReconcileEmitsDeletesForOrphans(t *testing.T) {
	w, pipe, root, hashes := newWatcherFixture(t)
	path := filepath.Join(root, "gone.py")
	require.NoError(t, os.WriteFile(path, []byte("def f(): return 1\n"), 0o644))

	require.NoError(t, w.Start())
	waitIdle(t, pipe)
	_, tracked := hashes.Get("gone.py")
	require.True(t, tracked)

	// Remove the file behind the watcher's back, then reconcile again
	require.NoError(t, os.Remove(path))
	time.Sleep(100 * time.Millisecond)
	waitIdle(t, pipe)
	w.Reconcile()
	waitIdle(t, pipe)

	_, tracked = hashes.Get("gone.py")
	assert.False(t, tracked)
}

func TestEventDrivenIndexing(t *testing.T) {
	w, pipe, root, hashes := newWatcherFixture(t)
	require.NoError(t, w.Start())
	waitIdle(t, pipe)

	require.NoError(t, os.WriteFile(filepath.Join(root, "new.py"), []byte("def n(): return 1\n"), 0o644))
	time.Sleep(150 * time.Millisecond)
	waitIdle(t, pipe)

	_, tracked := hashes.Get("new.py")
	assert.True(t, tracked)
}

func TestUnchangedContentEmitsNoTask(t *testing.T) {
	w, pipe, root, _ := newWatcherFixture(t)
	path := filepath.Join(root, "a.py")
	content := []byte("def f(): return 1\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	require.NoError(t, w.Start())
	waitIdle(t, pipe)
	before := pipe.Status().Snapshot().LastCommitTS

	// Rewrite identical bytes: the hash cache suppresses the task
	require.NoError(t, os.WriteFile(path, content, 0o644))
	time.Sleep(150 * time.Millisecond)
	waitIdle(t, pipe)

	assert.Equal(t, before, pipe.Status().Snapshot().LastCommitTS)
}

func TestForceRescanReindexesEverything(t *testing.T) {
	w, pipe, root, _ := newWatcherFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(): return 1\n"), 0o644))

	require.NoError(t, w.Start())
	waitIdle(t, pipe)
	first := pipe.Status().Snapshot().LastCommitTS
	require.Greater(t, first, int64(0))

	time.Sleep(1100 * time.Millisecond)
	w.ForceRescan()
	waitIdle(t, pipe)

	assert.GreaterOrEqual(t, pipe.Status().Snapshot().LastCommitTS, first+1,
		"a forced rescan recommits unchanged files")
}
