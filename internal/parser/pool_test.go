package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireParseRelease(t *testing.T) {
	pool := NewPool()

	lease, err := pool.Acquire("python")
	require.NoError(t, err)

	tree, err := lease.Parse([]byte("def f():\n    return 1\n"))
	require.NoError(t, err)
	assert.Equal(t, "module", tree.RootNode().Kind())
	tree.Close()
	lease.Release()

	// Released parsers are reused
	again, err := pool.Acquire("python")
	require.NoError(t, err)
	assert.Same(t, lease.parser, again.parser)
	again.Release()
}

func TestUnsupportedLanguage(t *testing.T) {
	pool := NewPool()
	_, err := pool.Acquire("cobol")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	assert.False(t, pool.Supports("cobol"))
	assert.True(t, pool.Supports("go"))
	assert.True(t, pool.Supports("typescript"))
}

func TestParseOnReleasedLease(t *testing.T) {
	pool := NewPool()
	lease, err := pool.Acquire("javascript")
	require.NoError(t, err)
	lease.Release()

	_, err = lease.Parse([]byte("function f() {}"))
	assert.Error(t, err)
}

func TestGarbageParseIsNonFatal(t *testing.T) {
	pool := NewPool()
	lease, err := pool.Acquire("python")
	require.NoError(t, err)
	defer lease.Release()

	tree, err := lease.Parse([]byte("def (\n"))
	if err == nil {
		// Error recovery may still produce a tree; the chunker treats a
		// nameless result the same as a failure
		tree.Close()
	}
}

func TestLeasesAreExclusive(t *testing.T) {
	pool := NewPool()

	a, err := pool.Acquire("go")
	require.NoError(t, err)
	b, err := pool.Acquire("go")
	require.NoError(t, err)
	assert.NotSame(t, a.parser, b.parser)
	a.Release()
	b.Release()
}
