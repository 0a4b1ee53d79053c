package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangdangel/augmentorium/internal/chunker"
)

func testSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func embedded(id, relPath, kind, name, text string, vector []float32) EmbeddedChunk {
	return EmbeddedChunk{
		Chunk: chunker.Chunk{
			ID:        id,
			RelPath:   relPath,
			Language:  "python",
			Kind:      kind,
			Name:      name,
			StartLine: 1,
			EndLine:   1,
			Text:      text,
			Metadata:  map[string]string{},
		},
		Vector:  vector,
		ModelID: "test-model",
	}
}

func TestUpsertAndKNNOrdering(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "a.py", "function", "f", "def f(): ...", []float32{1, 0, 0}),
		embedded("c2", "a.py", "function", "g", "def g(): ...", []float32{0, 1, 0}),
		embedded("c3", "b.py", "function", "h", "def h(): ...", []float32{0.9, 0.1, 0}),
	}))

	hits, err := store.KNN(ctx, []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].Chunk.ID)
	assert.Equal(t, "c3", hits[1].Chunk.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestKNNFilters(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "src/a.py", "function", "f", "x", []float32{1, 0}),
		embedded("c2", "src/b.py", "class", "C", "y", []float32{1, 0}),
		embedded("c3", "docs/readme.md", "section", "Intro", "z", []float32{1, 0}),
	}))

	hits, err := store.KNN(ctx, []float32{1, 0}, 10, &Filter{Kind: "function"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c1", hits[0].Chunk.ID)

	hits, err = store.KNN(ctx, []float32{1, 0}, 10, &Filter{PathPrefix: "src/"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.KNN(ctx, []float32{1, 0}, 10, &Filter{Name: "C"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "c2", hits[0].Chunk.ID)
}

func TestUpsertReplacesExisting(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "a.py", "function", "f", "old text", []float32{1, 0}),
	}))
	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "a.py", "function", "f", "new text", []float32{0, 1}),
	}))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := store.KNN(ctx, []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new text", hits[0].Chunk.Text)
}

func TestDeleteByPathAndListByPath(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "a.py", "function", "f", "x", []float32{1, 0}),
		embedded("c2", "a.py", "function", "g", "y", []float32{0, 1}),
		embedded("c3", "b.py", "function", "h", "z", []float32{1, 1}),
	}))

	ids, err := store.ListByPath(ctx, "a.py")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)

	require.NoError(t, store.DeleteByPath(ctx, "a.py"))

	ids, err = store.ListByPath(ctx, "a.py")
	require.NoError(t, err)
	assert.Empty(t, ids)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeleteMany(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{
		embedded("c1", "a.py", "function", "f", "x", []float32{1, 0}),
		embedded("c2", "a.py", "function", "g", "y", []float32{0, 1}),
	}))
	require.NoError(t, store.DeleteMany(ctx, []string{"c1"}))

	ids, err := store.ListByPath(ctx, "a.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, ids)
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.14159, 0}
	assert.Equal(t, vec, deserializeVector(serializeVector(vec)))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{0, 0}))
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}))
}

func TestMetadataRoundTrip(t *testing.T) {
	store := testSQLite(t)
	ctx := context.Background()

	ec := embedded("c1", "a.py", "function", "f", "x", []float32{1})
	ec.Chunk.Metadata = map[string]string{"class": "Greeter"}
	require.NoError(t, store.UpsertMany(ctx, []EmbeddedChunk{ec}))

	hits, err := store.KNN(ctx, []float32{1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Greeter", hits[0].Chunk.Metadata["class"])
}
