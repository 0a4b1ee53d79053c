package graph

import (
	"strings"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/conf"
	perrors "github.com/VKCOM/php-parser/pkg/errors"
	phpparser "github.com/VKCOM/php-parser/pkg/parser"
	"github.com/VKCOM/php-parser/pkg/version"
	"github.com/VKCOM/php-parser/pkg/visitor"
	"github.com/VKCOM/php-parser/pkg/visitor/traverser"
)

// extractPHP emits nodes and edges for a PHP file using the php-parser AST.
// Returns nil nodes when the file does not parse; the caller then keeps only
// the module node.
func extractPHP(relPath string, content []byte, module Node) ([]Node, []Edge) {
	root, err := phpparser.Parse(content, conf.Config{
		Version:          &version.Version{Major: 8, Minor: 0},
		ErrorHandlerFunc: func(*perrors.Error) {},
	})
	if err != nil || root == nil {
		return nil, nil
	}

	c := &phpGraphCollector{
		relPath: relPath,
		module:  module,
		nodes:   []Node{module},
	}
	traverser.NewTraverser(c).Traverse(root)
	return c.nodes, c.edges
}

type phpGraphCollector struct {
	visitor.Null
	relPath string
	module  Node
	nodes   []Node
	edges   []Edge

	currentClassID string
}

func (c *phpGraphCollector) add(kind, name string, startLine, endLine int, parentID string) string {
	id := NodeID(c.relPath, kind, name, startLine, endLine)
	c.nodes = append(c.nodes, Node{
		ID:        id,
		Kind:      kind,
		Name:      name,
		FilePath:  c.relPath,
		StartLine: startLine,
		EndLine:   endLine,
	})
	c.edges = append(c.edges, Edge{SourceID: parentID, TargetID: id, Relation: RelContains})
	return id
}

// StmtUse records use statements as module imports
func (c *phpGraphCollector) StmtUse(n *ast.StmtUseList) {
	for _, use := range n.Uses {
		stmtUse, ok := use.(*ast.StmtUse)
		if !ok {
			continue
		}
		target := phpName(stmtUse.Use)
		if target == "" {
			continue
		}
		id := ExternalModuleID(target)
		c.nodes = append(c.nodes, Node{ID: id, Kind: NodeModule, Name: target})
		c.edges = append(c.edges, Edge{SourceID: c.module.ID, TargetID: id, Relation: RelImports})
	}
}

// StmtClass records the class node and a references edge to its parent class
func (c *phpGraphCollector) StmtClass(n *ast.StmtClass) {
	name := phpIdent(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	c.currentClassID = c.add(NodeClass, name, n.Position.StartLine, n.Position.EndLine, c.module.ID)

	if n.Extends != nil {
		if parent := phpName(n.Extends); parent != "" {
			id := ExternalModuleID(parent)
			c.nodes = append(c.nodes, Node{ID: id, Kind: NodeClass, Name: parent})
			c.edges = append(c.edges, Edge{SourceID: c.currentClassID, TargetID: id, Relation: RelReferences})
		}
	}
}

// StmtInterface records interfaces as class nodes
func (c *phpGraphCollector) StmtInterface(n *ast.StmtInterface) {
	name := phpIdent(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	c.currentClassID = c.add(NodeClass, name, n.Position.StartLine, n.Position.EndLine, c.module.ID)
}

// StmtClassMethod records methods under the enclosing class
func (c *phpGraphCollector) StmtClassMethod(n *ast.StmtClassMethod) {
	name := phpIdent(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	parent := c.currentClassID
	if parent == "" {
		parent = c.module.ID
	}
	c.add(NodeFunction, name, n.Position.StartLine, n.Position.EndLine, parent)
}

// StmtFunction records global functions
func (c *phpGraphCollector) StmtFunction(n *ast.StmtFunction) {
	name := phpIdent(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	c.add(NodeFunction, name, n.Position.StartLine, n.Position.EndLine, c.module.ID)
}

func phpIdent(node ast.Vertex) string {
	if ident, ok := node.(*ast.Identifier); ok {
		return string(ident.Value)
	}
	return ""
}

func phpName(node ast.Vertex) string {
	switch n := node.(type) {
	case *ast.Name:
		return phpNameParts(n.Parts)
	case *ast.NameFullyQualified:
		return phpNameParts(n.Parts)
	case *ast.NameRelative:
		return phpNameParts(n.Parts)
	case *ast.Identifier:
		return string(n.Value)
	}
	return ""
}

func phpNameParts(parts []ast.Vertex) string {
	var segs []string
	for _, part := range parts {
		if p, ok := part.(*ast.NamePart); ok {
			segs = append(segs, string(p.Value))
		}
	}
	return strings.Join(segs, "\\")
}
