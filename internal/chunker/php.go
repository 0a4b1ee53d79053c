package chunker

import (
	"fmt"
	"strings"

	"github.com/VKCOM/php-parser/pkg/ast"
	"github.com/VKCOM/php-parser/pkg/conf"
	perrors "github.com/VKCOM/php-parser/pkg/errors"
	phpparser "github.com/VKCOM/php-parser/pkg/parser"
	"github.com/VKCOM/php-parser/pkg/version"
	"github.com/VKCOM/php-parser/pkg/visitor"
	"github.com/VKCOM/php-parser/pkg/visitor/traverser"
)

// chunkPHP implements the AST strategy for PHP using the php-parser AST:
// one chunk per top-level function/class, methods nested under their class.
func (c *Chunker) chunkPHP(relPath string, content []byte) ([]Chunk, error) {
	root, err := parsePHP(content)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(content), "\n")
	collector := &phpChunkCollector{
		chunker: c,
		relPath: relPath,
		lines:   lines,
	}
	traverser.NewTraverser(collector).Traverse(root)

	if len(collector.chunks) == 0 {
		return nil, nil
	}
	return collector.chunks, nil
}

func parsePHP(content []byte) (ast.Vertex, error) {
	var parseErrors []*perrors.Error
	root, err := phpparser.Parse(content, conf.Config{
		Version: &version.Version{Major: 8, Minor: 0},
		ErrorHandlerFunc: func(e *perrors.Error) {
			parseErrors = append(parseErrors, e)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("php parse: %w", err)
	}
	if root == nil {
		return nil, fmt.Errorf("php parse produced no tree")
	}
	return root, nil
}

type phpChunkCollector struct {
	visitor.Null
	chunker *Chunker
	relPath string
	lines   []string
	chunks  []Chunk

	currentClass   string
	currentClassID string
}

func (v *phpChunkCollector) extractLines(startLine, endLine int) string {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(v.lines) {
		endLine = len(v.lines)
	}
	if startLine > endLine {
		return ""
	}
	return strings.Join(v.lines[startLine-1:endLine], "\n")
}

func (v *phpChunkCollector) emit(kind, name, parentID string, startLine, endLine int, meta map[string]string) Chunk {
	text := v.extractLines(startLine, endLine)
	ch := Chunk{
		RelPath:   v.relPath,
		Language:  "php",
		Kind:      kind,
		Name:      name,
		StartLine: startLine,
		EndLine:   endLine,
		Text:      text,
		ParentID:  parentID,
		Metadata:  meta,
	}
	ch.finalize()

	if len(text) > v.chunker.cfg.Chunking.MaxChunkSize {
		pieces := v.chunker.splitOversized(v.relPath, "php", kind, name, parentID, startLine, []byte(text))
		v.chunks = append(v.chunks, pieces...)
		// The id of the logical declaration still anchors nested chunks
		return ch
	}
	v.chunks = append(v.chunks, ch)
	return ch
}

// StmtFunction handles global function declarations
func (v *phpChunkCollector) StmtFunction(n *ast.StmtFunction) {
	name := phpIdentifier(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	v.emit(KindFunction, name, "", n.Position.StartLine, n.Position.EndLine, nil)
}

// StmtClass handles class declarations; methods are collected by the
// traverser visiting nested statements afterwards
func (v *phpChunkCollector) StmtClass(n *ast.StmtClass) {
	name := phpIdentifier(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	ch := v.emit(KindClass, name, "", n.Position.StartLine, n.Position.EndLine, nil)
	v.currentClass = name
	v.currentClassID = ch.ID
}

// StmtInterface handles interface declarations
func (v *phpChunkCollector) StmtInterface(n *ast.StmtInterface) {
	name := phpIdentifier(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	ch := v.emit(KindClass, name, "", n.Position.StartLine, n.Position.EndLine, nil)
	v.currentClass = name
	v.currentClassID = ch.ID
}

// StmtTrait handles trait declarations
func (v *phpChunkCollector) StmtTrait(n *ast.StmtTrait) {
	name := phpIdentifier(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	ch := v.emit(KindClass, name, "", n.Position.StartLine, n.Position.EndLine, nil)
	v.currentClass = name
	v.currentClassID = ch.ID
}

// StmtClassMethod handles method declarations
func (v *phpChunkCollector) StmtClassMethod(n *ast.StmtClassMethod) {
	name := phpIdentifier(n.Name)
	if name == "" || n.Position == nil {
		return
	}
	text := v.extractLines(n.Position.StartLine, n.Position.EndLine)
	if len(text) < v.chunker.cfg.Chunking.MinChunkSize {
		// Small methods stay covered by the class chunk
		return
	}
	var meta map[string]string
	if v.currentClass != "" {
		meta = map[string]string{"class": v.currentClass}
	}
	v.emit(KindFunction, name, v.currentClassID, n.Position.StartLine, n.Position.EndLine, meta)
}

func phpIdentifier(node ast.Vertex) string {
	if node == nil {
		return ""
	}
	if ident, ok := node.(*ast.Identifier); ok {
		return string(ident.Value)
	}
	return ""
}
