package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangdangel/augmentorium/internal/parser"
)

func findNode(nodes []Node, kind, name string) (Node, bool) {
	for _, n := range nodes {
		if n.Kind == kind && n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

func hasEdge(edges []Edge, source, target, relation string) bool {
	for _, e := range edges {
		if e.SourceID == source && e.TargetID == target && e.Relation == relation {
			return true
		}
	}
	return false
}

func TestExtractPythonModuleAndFunctions(t *testing.T) {
	ex := NewExtractor(parser.NewPool())
	content := []byte("def f(): return 1\n\ndef g(): return 2\n")

	nodes, edges := ex.ExtractFile("a.py", "python", content)

	module, ok := findNode(nodes, NodeModule, "a.py")
	require.True(t, ok)

	f, ok := findNode(nodes, NodeFunction, "f")
	require.True(t, ok)
	assert.Equal(t, 1, f.StartLine)
	assert.Equal(t, 1, f.EndLine)

	g, ok := findNode(nodes, NodeFunction, "g")
	require.True(t, ok)
	assert.Equal(t, 3, g.StartLine)

	assert.True(t, hasEdge(edges, module.ID, f.ID, RelContains))
	assert.True(t, hasEdge(edges, module.ID, g.ID, RelContains))
}

func TestExtractPythonImportsAndCalls(t *testing.T) {
	ex := NewExtractor(parser.NewPool())
	content := []byte(`import os
from json import loads

def helper():
    return 1

def main():
    unknown_symbol()
    return helper()
`)

	nodes, edges := ex.ExtractFile("tool.py", "python", content)

	module, ok := findNode(nodes, NodeModule, "tool.py")
	require.True(t, ok)

	osNode, ok := findNode(nodes, NodeModule, "os")
	require.True(t, ok)
	assert.True(t, hasEdge(edges, module.ID, osNode.ID, RelImports))

	jsonNode, ok := findNode(nodes, NodeModule, "json")
	require.True(t, ok)
	assert.True(t, hasEdge(edges, module.ID, jsonNode.ID, RelImports))

	helper, ok := findNode(nodes, NodeFunction, "helper")
	require.True(t, ok)
	mainFn, ok := findNode(nodes, NodeFunction, "main")
	require.True(t, ok)

	// Intra-file call resolves; the unresolved callee is dropped
	assert.True(t, hasEdge(edges, mainFn.ID, helper.ID, RelCalls))
	for _, e := range edges {
		if e.Relation == RelCalls {
			assert.Equal(t, mainFn.ID, e.SourceID)
		}
	}
}

func TestExtractPythonClassAndModuleVariable(t *testing.T) {
	ex := NewExtractor(parser.NewPool())
	content := []byte(`LIMIT = 10

class Worker:
    def run(self):
        return LIMIT
`)

	nodes, edges := ex.ExtractFile("worker.py", "python", content)

	limit, ok := findNode(nodes, NodeVariable, "LIMIT")
	require.True(t, ok)

	worker, ok := findNode(nodes, NodeClass, "Worker")
	require.True(t, ok)

	run, ok := findNode(nodes, NodeFunction, "run")
	require.True(t, ok)

	module, _ := findNode(nodes, NodeModule, "worker.py")
	assert.True(t, hasEdge(edges, module.ID, limit.ID, RelContains))
	assert.True(t, hasEdge(edges, module.ID, worker.ID, RelContains))
	assert.True(t, hasEdge(edges, worker.ID, run.ID, RelContains))
}

func TestExtractUnsupportedLanguageEmitsModuleOnly(t *testing.T) {
	ex := NewExtractor(parser.NewPool())
	nodes, edges := ex.ExtractFile("style.css", "css", []byte("body { color: red }\n"))

	require.Len(t, nodes, 1)
	assert.Equal(t, NodeModule, nodes[0].Kind)
	assert.Empty(t, edges)
}

func TestExtractEmptyFileEmitsModuleOnly(t *testing.T) {
	ex := NewExtractor(parser.NewPool())
	nodes, _ := ex.ExtractFile("empty.py", "python", []byte{})

	require.NotEmpty(t, nodes)
	assert.Equal(t, NodeModule, nodes[0].Kind)
}

func TestNodeIDStability(t *testing.T) {
	a := NodeID("a.py", NodeFunction, "f", 1, 1)
	b := NodeID("a.py", NodeFunction, "f", 1, 1)
	c := NodeID("a.py", NodeFunction, "g", 3, 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	// Named nodes key on the name, not the line range
	moved := NodeID("a.py", NodeFunction, "f", 5, 5)
	assert.Equal(t, a, moved)
}
