package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePHP = `<?php

namespace App;

function helper($x) {
    return $x + 1;
}

class Controller
{
    public function index()
    {
        return helper(1);
    }

    public function show($id)
    {
        return $id;
    }
}
`

func TestPHPChunking(t *testing.T) {
	c := testChunker(4096, 8, 0)
	chunks := c.ChunkFile("proj", "controller.php", []byte(samplePHP))
	require.NotEmpty(t, chunks)

	byName := map[string]Chunk{}
	for _, ch := range chunks {
		byName[ch.Name] = ch
	}

	helper, ok := byName["helper"]
	require.True(t, ok)
	assert.Equal(t, KindFunction, helper.Kind)
	assert.Equal(t, 5, helper.StartLine)
	assert.Equal(t, 7, helper.EndLine)

	controller, ok := byName["Controller"]
	require.True(t, ok)
	assert.Equal(t, KindClass, controller.Kind)

	index, ok := byName["index"]
	require.True(t, ok)
	assert.Equal(t, KindFunction, index.Kind)
	assert.Equal(t, controller.ID, index.ParentID)
	assert.Equal(t, "Controller", index.Metadata["class"])

	_, ok = byName["show"]
	assert.True(t, ok)

	for _, ch := range chunks {
		assert.Equal(t, "php", ch.Language)
	}
}

func TestPHPUnparseableFallsBackToWindows(t *testing.T) {
	c := testChunker(4096, 8, 128)
	chunks := c.ChunkFile("proj", "broken.php", []byte("<?php class {{{\n"))
	require.NotEmpty(t, chunks)
	// Either the parser recovers with no named symbols (windows) or the
	// collector finds nothing; both paths end in window chunks
	assert.Equal(t, KindWindow, chunks[0].Kind)
}

func TestPHPDeterministicIDs(t *testing.T) {
	c := testChunker(4096, 8, 0)
	first := c.ChunkFile("proj", "controller.php", []byte(samplePHP))
	second := c.ChunkFile("proj", "controller.php", []byte(samplePHP))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}
