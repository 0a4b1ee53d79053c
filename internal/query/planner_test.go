package query

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangdangel/augmentorium/internal/chunker"
	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
)

// freqEmbedder maps text to a 36-dim alphanumeric frequency vector, so
// lexical overlap translates to cosine similarity without a real endpoint.
type freqEmbedder struct{}

func freqVector(text string) []float32 {
	vec := make([]float32, 36)
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			vec[r-'a']++
		case r >= '0' && r <= '9':
			vec[26+r-'0']++
		}
	}
	return vec
}

func (freqEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = freqVector(text)
	}
	return out, nil
}

func (freqEmbedder) ModelID() string { return "freq-test" }
func (freqEmbedder) Close() error    { return nil }

func seedStore(t *testing.T) *vectorstore.SQLiteStore {
	t.Helper()
	store, err := vectorstore.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chunks := []struct {
		id, path, kind, name, text string
		line                       int
	}{
		{"c1", "a.py", chunker.KindFunction, "f", "def f(): return 42", 1},
		{"c2", "a.py", chunker.KindFunction, "g", "def g(): return 2", 3},
		{"c3", "b.py", chunker.KindFunction, "handler", "def handler(request): pass", 1},
	}
	var embedded []vectorstore.EmbeddedChunk
	for _, c := range chunks {
		embedded = append(embedded, vectorstore.EmbeddedChunk{
			Chunk: chunker.Chunk{
				ID: c.id, RelPath: c.path, Language: "python", Kind: c.kind,
				Name: c.name, StartLine: c.line, EndLine: c.line, Text: c.text,
			},
			Vector:  freqVector(c.text),
			ModelID: "freq-test",
		})
	}
	require.NoError(t, store.UpsertMany(context.Background(), embedded))
	return store
}

func testPlanner() *Planner {
	cfg := config.QueryConfig{DefaultK: 10, ContextBudget: 4096, CacheSize: 16}
	return NewPlanner(cfg, freqEmbedder{})
}

func TestQueryRanksLexicalOverlapFirst(t *testing.T) {
	store := seedStore(t)
	planner := testPlanner()

	result, err := planner.Query(context.Background(), store, nil, "return 42", Options{K: 3}, "epoch1")
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, "c1", result.Results[0].Chunk.ID)
	assert.Contains(t, result.Context, "a.py:1-1")
	assert.Contains(t, result.Context, "def f(): return 42")
}

func TestQueryMinScoreFilters(t *testing.T) {
	store := seedStore(t)
	planner := testPlanner()

	result, err := planner.Query(context.Background(), store, nil, "return 42", Options{K: 3, MinScore: 0.999}, "epoch1")
	require.NoError(t, err)
	for _, hit := range result.Results {
		assert.GreaterOrEqual(t, hit.Score, 0.999)
	}
}

func TestQueryEmptyText(t *testing.T) {
	store := seedStore(t)
	planner := testPlanner()
	_, err := planner.Query(context.Background(), store, nil, "   ", Options{}, "e")
	assert.Error(t, err)
}

func TestQueryResultCaching(t *testing.T) {
	store := seedStore(t)
	planner := testPlanner()
	ctx := context.Background()

	first, err := planner.Query(ctx, store, nil, "handler request", Options{K: 2}, "epoch1")
	require.NoError(t, err)
	second, err := planner.Query(ctx, store, nil, "handler request", Options{K: 2}, "epoch1")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A new epoch (any commit) misses the cache
	third, err := planner.Query(ctx, store, nil, "handler request", Options{K: 2}, "epoch2")
	require.NoError(t, err)
	assert.NotSame(t, first, third)
}

func TestExpandQuery(t *testing.T) {
	candidates := ExpandQuery("getUserName")
	assert.Contains(t, candidates, "getusername")
	assert.Contains(t, candidates, "get user name")
	assert.Contains(t, candidates, "getUserName")

	candidates = ExpandQuery("hash_cache reload")
	assert.Contains(t, candidates, "hash cache reload")

	// Fences are stripped, content kept
	candidates = ExpandQuery("```python\nreturn 42\n```")
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.NotContains(t, c, "```")
	}
}

func TestRerankTieBreakAndDemotion(t *testing.T) {
	hits := []Hit{
		{Chunk: chunker.Chunk{ID: "b", RelPath: "b.py", StartLine: 5, Text: "zzz"}, Score: 0.9},
		{Chunk: chunker.Chunk{ID: "a", RelPath: "a.py", StartLine: 1, Text: "whole body with fragment inside"}, Score: 0.9},
		{Chunk: chunker.Chunk{ID: "frag", RelPath: "a.py", StartLine: 2, Text: "fragment"}, Score: 0.8},
		{Chunk: chunker.Chunk{ID: "other", RelPath: "c.py", StartLine: 1, Text: "unrelated"}, Score: 0.7},
	}
	rerank(hits)

	// Equal scores tie-break on path; the strict substring from the same
	// file is demoted behind every non-demoted hit
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.Equal(t, "b", hits[1].Chunk.ID)
	assert.Equal(t, "other", hits[2].Chunk.ID)
	assert.Equal(t, "frag", hits[3].Chunk.ID)
}

func TestAverageVectors(t *testing.T) {
	avg := averageVectors([][]float32{{1, 0}, {0, 1}})
	assert.Equal(t, []float32{0.5, 0.5}, avg)

	single := averageVectors([][]float32{{2, 4}})
	assert.Equal(t, []float32{2, 4}, single)

	assert.Nil(t, averageVectors(nil))
}

func TestContextBudget(t *testing.T) {
	cfg := config.QueryConfig{DefaultK: 10, ContextBudget: 40}
	planner := NewPlanner(cfg, freqEmbedder{})

	hits := []Hit{
		{Chunk: chunker.Chunk{RelPath: "a.py", StartLine: 1, EndLine: 1, Text: "short text"}},
		{Chunk: chunker.Chunk{RelPath: "b.py", StartLine: 1, EndLine: 9, Text: strings.Repeat("x", 100)}},
	}
	out := planner.assembleContext(hits)
	assert.Contains(t, out, "a.py:1-1")
	assert.NotContains(t, out, "b.py")
	assert.LessOrEqual(t, len(out), 40)
}
