package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPythonTopLevelFunctions(t *testing.T) {
	c := testChunker(1024, 8, 0)
	content := []byte("def f(): return 1\n\ndef g(): return 2\n")

	chunks := c.ChunkFile("proj", "a.py", content)
	require.Len(t, chunks, 2)

	assert.Equal(t, KindFunction, chunks[0].Kind)
	assert.Equal(t, "f", chunks[0].Name)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1, chunks[0].EndLine)
	assert.Equal(t, "def f(): return 1", chunks[0].Text)

	assert.Equal(t, KindFunction, chunks[1].Kind)
	assert.Equal(t, "g", chunks[1].Name)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 3, chunks[1].EndLine)
}

func TestPythonChunkIDStableAcrossEdits(t *testing.T) {
	c := testChunker(1024, 8, 0)

	before := c.ChunkFile("proj", "a.py", []byte("def f(): return 1\n\ndef g(): return 2\n"))
	after := c.ChunkFile("proj", "a.py", []byte("def f(): return 42\n\ndef g(): return 2\n"))
	require.Len(t, before, 2)
	require.Len(t, after, 2)

	// Same name and line range: the id survives the edit, the text doesn't
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.NotEqual(t, before[0].Text, after[0].Text)
	assert.Equal(t, before[1].ID, after[1].ID)
}

func TestPythonClassRecursesIntoMethods(t *testing.T) {
	c := testChunker(1024, 8, 0)
	content := []byte(`class Greeter:
    def hello(self):
        return "hello"

    def bye(self):
        return "bye"
`)

	chunks := c.ChunkFile("proj", "greeter.py", content)
	require.Len(t, chunks, 3)

	assert.Equal(t, KindClass, chunks[0].Kind)
	assert.Equal(t, "Greeter", chunks[0].Name)

	assert.Equal(t, KindFunction, chunks[1].Kind)
	assert.Equal(t, "hello", chunks[1].Name)
	assert.Equal(t, chunks[0].ID, chunks[1].ParentID)
	assert.Equal(t, "Greeter", chunks[1].Metadata["class"])

	assert.Equal(t, "bye", chunks[2].Name)
	assert.Equal(t, chunks[0].ID, chunks[2].ParentID)
}

func TestPythonHeaderContentBecomesModuleChunk(t *testing.T) {
	c := testChunker(1024, 8, 0)
	content := []byte("import os\nimport sys\n\nVERSION = \"1.0\"\n\ndef main():\n    return os.getcwd()\n")

	chunks := c.ChunkFile("proj", "tool.py", content)
	require.NotEmpty(t, chunks)

	assert.Equal(t, KindModule, chunks[0].Kind)
	assert.Contains(t, chunks[0].Text, "import os")

	last := chunks[len(chunks)-1]
	assert.Equal(t, KindFunction, last.Kind)
	assert.Equal(t, "main", last.Name)
}

func TestParseFailureFallsBackToWindows(t *testing.T) {
	c := testChunker(1024, 8, 128)
	content := []byte("def (\n")

	chunks := c.ChunkFile("proj", "broken.py", content)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Equal(t, KindWindow, ch.Kind)
	}
	// Retrieval still sees the literal content
	assert.Contains(t, chunks[0].Text, "def (")
}

func TestOversizedFunctionSplitsKeepingScope(t *testing.T) {
	c := testChunker(128, 8, 16)

	var b strings.Builder
	b.WriteString("def enormous():\n")
	for i := 0; i < 30; i++ {
		b.WriteString("    value = value + 1\n")
	}
	chunks := c.ChunkFile("proj", "big.py", []byte(b.String()))
	require.Greater(t, len(chunks), 1)

	for _, ch := range chunks {
		assert.Equal(t, KindWindow, ch.Kind)
		assert.Equal(t, "enormous", ch.Name)
		assert.Equal(t, KindFunction, ch.Metadata["scope"])
	}
}

func TestSmallDeclarationsMergeUpward(t *testing.T) {
	c := testChunker(1024, 64, 0)
	content := []byte("def a(): pass\n\ndef b(): pass\n\ndef c(): pass\n\ndef d(): pass\n\ndef e(): pass\n")

	chunks := c.ChunkFile("proj", "tiny.py", content)
	require.NotEmpty(t, chunks)
	// 13-byte functions are below min_chunk_size and merge into blocks
	for _, ch := range chunks {
		assert.NotEqual(t, KindFunction, ch.Kind)
	}
	assert.Equal(t, KindBlock, chunks[0].Kind)
}

func TestEmptyPythonFileProducesNoChunks(t *testing.T) {
	c := testChunker(1024, 8, 0)
	assert.Empty(t, c.ChunkFile("proj", "empty.py", []byte{}))
}
