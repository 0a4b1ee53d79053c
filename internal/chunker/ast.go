package chunker

import (
	"bytes"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// declaration is a named top-level (or class-level) definition selected for
// its own chunk.
type declaration struct {
	node *sitter.Node
	kind string
	name string
}

// chunkTree implements the AST strategy: one chunk per top-level function or
// class, classes recursing into methods, with header content covered by
// module chunks. Declarations smaller than min_chunk_size merge upward into
// block chunks; declarations larger than max_chunk_size are split by the
// window splitter while keeping their scope metadata.
func (c *Chunker) chunkTree(relPath, language string, content []byte, tree *sitter.Tree) []Chunk {
	root := tree.RootNode()
	decls := topLevelDeclarations(root, language, content)
	if len(decls) == 0 {
		// Nothing named at the top level: treat the whole file as windows
		return nil
	}

	var chunks []Chunk
	cursor := 0

	flushGap := func(until int) {
		gap := content[cursor:until]
		if len(bytes.TrimSpace(gap)) == 0 {
			return
		}
		startLine := 1 + bytes.Count(content[:cursor], []byte("\n"))
		text := string(gap)
		endLine := startLine + strings.Count(strings.TrimSuffix(text, "\n"), "\n")
		ch := Chunk{
			RelPath:   relPath,
			Language:  language,
			Kind:      KindModule,
			StartLine: startLine,
			EndLine:   endLine,
			Text:      text,
		}
		ch.finalize()
		chunks = append(chunks, ch)
	}

	var pendingSmall []declaration

	flushSmall := func() {
		if len(pendingSmall) == 0 {
			return
		}
		first, last := pendingSmall[0].node, pendingSmall[len(pendingSmall)-1].node
		text := string(content[first.StartByte():last.EndByte()])
		ch := Chunk{
			RelPath:   relPath,
			Language:  language,
			Kind:      KindBlock,
			Name:      pendingSmall[0].name,
			StartLine: int(first.StartPosition().Row) + 1,
			EndLine:   int(last.EndPosition().Row) + 1,
			Text:      text,
		}
		ch.finalize()
		chunks = append(chunks, ch)
		pendingSmall = pendingSmall[:0]
	}

	for _, d := range decls {
		start, end := int(d.node.StartByte()), int(d.node.EndByte())
		if start > cursor && len(bytes.TrimSpace(content[cursor:start])) > 0 {
			// Real header content between declarations; whitespace-only
			// gaps stay inside a pending small-declaration run
			flushSmall()
			flushGap(start)
		}
		if end > cursor {
			cursor = end
		}

		size := end - start
		switch {
		case size < c.cfg.Chunking.MinChunkSize:
			pendingSmall = append(pendingSmall, d)
			if spanSize(pendingSmall, content) >= c.cfg.Chunking.MinChunkSize {
				flushSmall()
			}
		case size > c.cfg.Chunking.MaxChunkSize:
			flushSmall()
			chunks = append(chunks, c.splitOversized(
				relPath, language, d.kind, d.name, "",
				int(d.node.StartPosition().Row)+1,
				content[start:end],
			)...)
		default:
			flushSmall()
			chunks = append(chunks, c.declarationChunks(relPath, language, content, d)...)
		}
	}
	flushSmall()
	flushGap(len(content))

	return chunks
}

func spanSize(decls []declaration, content []byte) int {
	if len(decls) == 0 {
		return 0
	}
	return int(decls[len(decls)-1].node.EndByte() - decls[0].node.StartByte())
}

// declarationChunks emits the chunk for one declaration, recursing into a
// class's methods.
func (c *Chunker) declarationChunks(relPath, language string, content []byte, d declaration) []Chunk {
	ch := Chunk{
		RelPath:   relPath,
		Language:  language,
		Kind:      d.kind,
		Name:      d.name,
		StartLine: int(d.node.StartPosition().Row) + 1,
		EndLine:   int(d.node.EndPosition().Row) + 1,
		Text:      string(content[d.node.StartByte():d.node.EndByte()]),
	}
	ch.finalize()
	out := []Chunk{ch}

	if d.kind != KindClass {
		return out
	}

	for _, m := range classMethods(d.node, language, content) {
		size := int(m.node.EndByte() - m.node.StartByte())
		if size < c.cfg.Chunking.MinChunkSize {
			// Small methods stay covered by the class chunk
			continue
		}
		if size > c.cfg.Chunking.MaxChunkSize {
			out = append(out, c.splitOversized(
				relPath, language, KindFunction, m.name, ch.ID,
				int(m.node.StartPosition().Row)+1,
				content[m.node.StartByte():m.node.EndByte()],
			)...)
			continue
		}
		mc := Chunk{
			RelPath:   relPath,
			Language:  language,
			Kind:      KindFunction,
			Name:      m.name,
			StartLine: int(m.node.StartPosition().Row) + 1,
			EndLine:   int(m.node.EndPosition().Row) + 1,
			Text:      string(content[m.node.StartByte():m.node.EndByte()]),
			ParentID:  ch.ID,
			Metadata:  map[string]string{"class": d.name},
		}
		mc.finalize()
		out = append(out, mc)
	}
	return out
}

// topLevelDeclarations classifies the root's named children per language.
func topLevelDeclarations(root *sitter.Node, language string, content []byte) []declaration {
	var decls []declaration
	for i := uint(0); i < root.NamedChildCount(); i++ {
		node := root.NamedChild(i)
		if node == nil {
			continue
		}
		if d, ok := classifyNode(node, language, content); ok {
			decls = append(decls, d)
		}
	}
	return decls
}

func classifyNode(node *sitter.Node, language string, content []byte) (declaration, bool) {
	kind := node.Kind()

	// Python decorators wrap the definition; keep the decorated span
	if language == "python" && kind == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			if inner, ok := classifyNode(def, language, content); ok {
				inner.node = node
				return inner, true
			}
		}
		return declaration{}, false
	}

	switch language {
	case "python":
		switch kind {
		case "function_definition":
			return named(node, KindFunction, content)
		case "class_definition":
			return named(node, KindClass, content)
		}
	case "javascript", "typescript", "tsx":
		switch kind {
		case "function_declaration", "generator_function_declaration":
			return named(node, KindFunction, content)
		case "class_declaration":
			return named(node, KindClass, content)
		case "interface_declaration", "enum_declaration":
			return named(node, KindClass, content)
		case "export_statement":
			if decl := node.ChildByFieldName("declaration"); decl != nil {
				if inner, ok := classifyNode(decl, language, content); ok {
					inner.node = node
					return inner, true
				}
			}
		}
	case "go":
		switch kind {
		case "function_declaration", "method_declaration":
			return named(node, KindFunction, content)
		case "type_declaration":
			for i := uint(0); i < node.NamedChildCount(); i++ {
				spec := node.NamedChild(i)
				if spec != nil && spec.Kind() == "type_spec" {
					name := ""
					if n := spec.ChildByFieldName("name"); n != nil {
						name = n.Utf8Text(content)
					}
					return declaration{node: node, kind: KindClass, name: name}, true
				}
			}
		}
	}
	return declaration{}, false
}

func named(node *sitter.Node, kind string, content []byte) (declaration, bool) {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = n.Utf8Text(content)
	}
	if name == "" {
		return declaration{}, false
	}
	return declaration{node: node, kind: kind, name: name}, true
}

// classMethods finds method definitions inside a class body.
func classMethods(class *sitter.Node, language string, content []byte) []declaration {
	body := class.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var methods []declaration
	for i := uint(0); i < body.NamedChildCount(); i++ {
		node := body.NamedChild(i)
		if node == nil {
			continue
		}
		switch language {
		case "python":
			target := node
			if node.Kind() == "decorated_definition" {
				if def := node.ChildByFieldName("definition"); def != nil && def.Kind() == "function_definition" {
					if d, ok := named(def, KindFunction, content); ok {
						d.node = node
						methods = append(methods, d)
					}
				}
				continue
			}
			if target.Kind() == "function_definition" {
				if d, ok := named(target, KindFunction, content); ok {
					methods = append(methods, d)
				}
			}
		case "javascript", "typescript", "tsx":
			if node.Kind() == "method_definition" {
				if d, ok := named(node, KindFunction, content); ok {
					methods = append(methods, d)
				}
			}
		}
	}
	return methods
}
