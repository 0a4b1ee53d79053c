package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLDocuments(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := []byte(`name: first
value: 1
---
name: second
value: 2
---
name: third
`)

	chunks := c.ChunkFile("proj", "stack.yaml", content)
	require.Len(t, chunks, 3)

	assert.Equal(t, "document_0", chunks[0].Name)
	assert.Equal(t, "document_1", chunks[1].Name)
	assert.Equal(t, "document_2", chunks[2].Name)
	for _, ch := range chunks {
		assert.Equal(t, KindDocument, ch.Kind)
	}
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)
	assert.Equal(t, "name,value", chunks[0].Metadata["keys"])
}

func TestYAMLSingleDocument(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := []byte("key: value\nlist:\n  - a\n  - b\n")

	chunks := c.ChunkFile("proj", "single.yml", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, "key,list", chunks[0].Metadata["keys"])
}

func TestYAMLEmptyDocumentsSkipped(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := []byte("---\n---\nonly: document\n")

	chunks := c.ChunkFile("proj", "sparse.yaml", content)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only: document\n", chunks[0].Text)
}
