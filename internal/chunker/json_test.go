package chunker

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONTopLevelProperties(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := []byte(`{
  "name": "augmentorium",
  "version": "1.0.0",
  "scripts": {
    "build": "make"
  }
}`)

	chunks := c.ChunkFile("proj", "package.json", content)
	require.Len(t, chunks, 3)

	assert.Equal(t, "name", chunks[0].Name)
	assert.Equal(t, "version", chunks[1].Name)
	assert.Equal(t, "scripts", chunks[2].Name)
	for _, ch := range chunks {
		assert.Equal(t, KindBlock, ch.Kind)
		assert.Equal(t, "json", ch.Language)
	}

	assert.Equal(t, "$.scripts", chunks[2].Metadata["json_path"])
	assert.Equal(t, 2, chunks[0].StartLine)
}

func TestJSONTopLevelArray(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := []byte(`[{"a": 1}, {"b": 2}, 3]`)

	chunks := c.ChunkFile("proj", "list.json", content)
	require.Len(t, chunks, 3)
	assert.Equal(t, "[0]", chunks[0].Name)
	assert.Equal(t, "[1]", chunks[1].Name)
	assert.Equal(t, "[2]", chunks[2].Name)
	assert.Equal(t, "$[1]", chunks[1].Metadata["json_path"])
}

func TestJSONOversizedObjectSplitsPerKey(t *testing.T) {
	c := testChunker(64, 0, 0)

	inner := map[string]string{}
	for i := 0; i < 8; i++ {
		inner[fmt.Sprintf("key_%d", i)] = "some moderately long value text"
	}
	doc := map[string]any{"settings": inner}
	content, err := json.MarshalIndent(doc, "", "  ")
	require.NoError(t, err)

	chunks := c.ChunkFile("proj", "big.json", content)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "settings", chunks[0].Name)
	require.Greater(t, len(chunks), 1, "oversized property must split per key")
	for _, child := range chunks[1:] {
		assert.Equal(t, chunks[0].ID, child.ParentID)
	}
}

func TestJSONInvalidFallsBackToWindows(t *testing.T) {
	c := testChunker(4096, 0, 0)
	chunks := c.ChunkFile("proj", "broken.json", []byte("{not valid json"))
	require.NotEmpty(t, chunks)
	assert.Equal(t, KindWindow, chunks[0].Kind)
}
