package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkdown = `intro text before any heading

# Title

opening paragraph

## Install

run the installer

### Linux

apt install it

## Usage

call it
`

func TestMarkdownSections(t *testing.T) {
	c := testChunker(4096, 0, 0)
	chunks := c.ChunkFile("proj", "README.md", []byte(sampleMarkdown))
	require.Len(t, chunks, 5)

	// Preamble
	assert.Equal(t, KindSection, chunks[0].Kind)
	assert.Equal(t, "", chunks[0].Name)
	assert.Equal(t, 1, chunks[0].StartLine)

	byName := map[string]Chunk{}
	for _, ch := range chunks {
		byName[ch.Name] = ch
	}

	title := byName["Title"]
	install := byName["Install"]
	linux := byName["Linux"]
	usage := byName["Usage"]

	assert.Equal(t, "", title.ParentID)
	assert.Equal(t, title.ID, install.ParentID)
	assert.Equal(t, install.ID, linux.ParentID)
	assert.Equal(t, title.ID, usage.ParentID)

	assert.Equal(t, "1", title.Metadata["header_level"])
	assert.Equal(t, "2", install.Metadata["header_level"])
	assert.Equal(t, "3", linux.Metadata["header_level"])
}

func TestMarkdownWithoutHeadings(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := "just prose\nwith two lines\n"
	chunks := c.ChunkFile("proj", "notes.md", []byte(content))
	require.Len(t, chunks, 1)
	assert.Equal(t, KindSection, chunks[0].Kind)
	assert.Equal(t, content, chunks[0].Text)
}

func TestMarkdownFencedHashIsNotAHeading(t *testing.T) {
	c := testChunker(4096, 0, 0)
	content := "# Real\n\n```sh\n# a comment, not a heading\necho hi\n```\n"
	chunks := c.ChunkFile("proj", "fence.md", []byte(content))
	require.Len(t, chunks, 1)
	assert.Equal(t, "Real", chunks[0].Name)
}

func TestMarkdownDeterministicIDs(t *testing.T) {
	c := testChunker(4096, 0, 0)
	first := c.ChunkFile("proj", "README.md", []byte(sampleMarkdown))
	second := c.ChunkFile("proj", "README.md", []byte(sampleMarkdown))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}
