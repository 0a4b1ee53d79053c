package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherBasicPatterns(t *testing.T) {
	m := NewMatcher([]string{"*.pyc", "node_modules/", "/build"}, nil)

	assert.True(t, m.IsIgnored("cache.pyc", false))
	assert.True(t, m.IsIgnored("pkg/deep/cache.pyc", false))
	assert.False(t, m.IsIgnored("cache.py", false))

	assert.True(t, m.IsIgnored("node_modules", true))
	assert.True(t, m.IsIgnored("node_modules/lodash/index.js", false))
	assert.True(t, m.IsIgnored("web/node_modules/left-pad/index.js", false))

	assert.True(t, m.IsIgnored("build", true))
	assert.True(t, m.IsIgnored("build/out.js", false))
	assert.False(t, m.IsIgnored("src/build.go", false))
}

func TestMatcherLastMatchWins(t *testing.T) {
	m := NewMatcher([]string{"*.log", "!keep.log"}, nil)

	assert.True(t, m.IsIgnored("debug.log", false))
	assert.False(t, m.IsIgnored("keep.log", false))

	// Re-ignoring after a negation flips it back
	m = NewMatcher([]string{"*.log", "!keep.log", "keep.log"}, nil)
	assert.True(t, m.IsIgnored("keep.log", false))
}

func TestMatcherAnchoredAndGlobstar(t *testing.T) {
	m := NewMatcher([]string{"docs/**/*.tmp", "/top.txt"}, nil)

	assert.True(t, m.IsIgnored("docs/a/b/x.tmp", false))
	assert.True(t, m.IsIgnored("docs/x.tmp", false))
	assert.False(t, m.IsIgnored("other/docs.tmp", false))

	assert.True(t, m.IsIgnored("top.txt", false))
	assert.False(t, m.IsIgnored("sub/top.txt", false))
}

func TestMatcherBinaryExtensions(t *testing.T) {
	m := NewMatcher(nil, []string{".png", ".zip"})

	assert.True(t, m.IsIgnored("logo.png", false))
	assert.True(t, m.IsIgnored("assets/logo.PNG", false))
	assert.True(t, m.IsIgnored("dist/app.zip", false))
	assert.False(t, m.IsIgnored("readme.md", false))
}

func TestMatcherDirOnlyDoesNotMatchFile(t *testing.T) {
	m := NewMatcher([]string{"tmp/"}, nil)

	assert.True(t, m.IsIgnored("tmp", true))
	assert.True(t, m.IsIgnored("tmp/scratch.txt", false))
	// A plain file named like the directory is not covered
	assert.False(t, m.IsIgnored("tmp", false))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ignore")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n\n*.bak\n!important.bak\n"), 0o644))

	patterns, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"*.bak", "!important.bak"}, patterns)

	missing, err := LoadFile(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}
