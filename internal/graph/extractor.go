package graph

import (
	"log"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/wangdangel/augmentorium/internal/parser"
)

// Extractor walks syntax trees and emits graph nodes and edges for a file.
// Language coverage is incremental; unsupported languages produce only the
// module node.
type Extractor struct {
	pool *parser.Pool
}

// NewExtractor creates an extractor backed by the parser pool.
func NewExtractor(pool *parser.Pool) *Extractor {
	return &Extractor{pool: pool}
}

// ExtractFile produces the node/edge set attributed to relPath. The module
// node is always present; everything else depends on language support.
// Call resolution is by simple-name lookup within the same file only.
func (e *Extractor) ExtractFile(relPath, language string, content []byte) ([]Node, []Edge) {
	module := Node{
		ID:       NodeID(relPath, NodeModule, relPath, 0, 0),
		Kind:     NodeModule,
		Name:     relPath,
		FilePath: relPath,
		EndLine:  1 + strings.Count(string(content), "\n"),
	}
	module.StartLine = 1

	if language == "php" {
		nodes, edges := extractPHP(relPath, content, module)
		if nodes != nil {
			return nodes, edges
		}
		return []Node{module}, nil
	}

	if !e.pool.Supports(language) {
		return []Node{module}, nil
	}

	lease, err := e.pool.Acquire(language)
	if err != nil {
		return []Node{module}, nil
	}
	defer lease.Release()

	tree, err := lease.Parse(content)
	if err != nil {
		log.Printf("[WARN] Relationship extraction skipped for %s: %v", relPath, err)
		return []Node{module}, nil
	}
	defer tree.Close()

	w := &treeWalker{
		relPath:  relPath,
		language: language,
		content:  content,
		module:   module,
		nodes:    []Node{module},
		byName:   make(map[string]string),
	}
	w.collectDefinitions(tree.RootNode(), module.ID, "")
	w.collectReferences(tree.RootNode(), "")
	return w.nodes, w.edges
}

type treeWalker struct {
	relPath  string
	language string
	content  []byte
	module   Node
	nodes    []Node
	edges    []Edge

	// byName maps simple names of definitions in this file to node ids,
	// for intra-file call resolution
	byName map[string]string
}

func (w *treeWalker) addNode(kind, name string, node *sitter.Node, parentID string) string {
	start := int(node.StartPosition().Row) + 1
	end := int(node.EndPosition().Row) + 1
	id := NodeID(w.relPath, kind, name, start, end)
	w.nodes = append(w.nodes, Node{
		ID:        id,
		Kind:      kind,
		Name:      name,
		FilePath:  w.relPath,
		StartLine: start,
		EndLine:   end,
	})
	w.edges = append(w.edges, Edge{SourceID: parentID, TargetID: id, Relation: RelContains})
	if name != "" {
		if _, exists := w.byName[name]; !exists {
			w.byName[name] = id
		}
	}
	return id
}

func (w *treeWalker) addImport(target string) {
	if target == "" {
		return
	}
	id := ExternalModuleID(target)
	w.nodes = append(w.nodes, Node{
		ID:   id,
		Kind: NodeModule,
		Name: target,
	})
	w.edges = append(w.edges, Edge{SourceID: w.module.ID, TargetID: id, Relation: RelImports})
}

func (w *treeWalker) text(node *sitter.Node) string {
	return node.Utf8Text(w.content)
}

// collectDefinitions records classes, functions, and module-scope variables.
// enclosingClass carries the class name while visiting a class body.
func (w *treeWalker) collectDefinitions(node *sitter.Node, parentID, enclosingClass string) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}
		switch w.language {
		case "python":
			w.collectPython(child, parentID, enclosingClass)
		case "javascript", "typescript", "tsx":
			w.collectJS(child, parentID, enclosingClass)
		case "go":
			w.collectGo(child, parentID)
		}
	}
}

func (w *treeWalker) collectPython(node *sitter.Node, parentID, enclosingClass string) {
	switch node.Kind() {
	case "decorated_definition":
		if def := node.ChildByFieldName("definition"); def != nil {
			w.collectPython(def, parentID, enclosingClass)
		}
	case "function_definition":
		if name := w.fieldName(node); name != "" {
			w.addNode(NodeFunction, name, node, parentID)
		}
	case "class_definition":
		name := w.fieldName(node)
		if name == "" {
			return
		}
		classID := w.addNode(NodeClass, name, node, parentID)
		if body := node.ChildByFieldName("body"); body != nil {
			w.collectDefinitions(body, classID, name)
		}
	case "expression_statement":
		// Module-scope variable assignments only
		if parentID != w.module.ID {
			return
		}
		for j := uint(0); j < node.NamedChildCount(); j++ {
			assign := node.NamedChild(j)
			if assign == nil || assign.Kind() != "assignment" {
				continue
			}
			if left := assign.ChildByFieldName("left"); left != nil && left.Kind() == "identifier" {
				w.addNode(NodeVariable, w.text(left), assign, parentID)
			}
		}
	}
}

func (w *treeWalker) collectJS(node *sitter.Node, parentID, enclosingClass string) {
	switch node.Kind() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			w.collectJS(decl, parentID, enclosingClass)
		}
	case "function_declaration", "generator_function_declaration":
		if name := w.fieldName(node); name != "" {
			w.addNode(NodeFunction, name, node, parentID)
		}
	case "method_definition":
		if name := w.fieldName(node); name != "" {
			w.addNode(NodeFunction, name, node, parentID)
		}
	case "class_declaration":
		name := w.fieldName(node)
		if name == "" {
			return
		}
		classID := w.addNode(NodeClass, name, node, parentID)
		if body := node.ChildByFieldName("body"); body != nil {
			w.collectDefinitions(body, classID, name)
		}
	case "lexical_declaration", "variable_declaration":
		if parentID != w.module.ID {
			return
		}
		for j := uint(0); j < node.NamedChildCount(); j++ {
			decl := node.NamedChild(j)
			if decl == nil || decl.Kind() != "variable_declarator" {
				continue
			}
			if name := decl.ChildByFieldName("name"); name != nil && name.Kind() == "identifier" {
				w.addNode(NodeVariable, w.text(name), decl, parentID)
			}
		}
	}
}

func (w *treeWalker) collectGo(node *sitter.Node, parentID string) {
	switch node.Kind() {
	case "function_declaration", "method_declaration":
		if name := w.fieldName(node); name != "" {
			w.addNode(NodeFunction, name, node, parentID)
		}
	case "type_declaration":
		for j := uint(0); j < node.NamedChildCount(); j++ {
			spec := node.NamedChild(j)
			if spec == nil || spec.Kind() != "type_spec" {
				continue
			}
			if name := spec.ChildByFieldName("name"); name != nil {
				w.addNode(NodeClass, w.text(name), spec, parentID)
			}
		}
	case "var_declaration", "const_declaration":
		for j := uint(0); j < node.NamedChildCount(); j++ {
			spec := node.NamedChild(j)
			if spec == nil || spec.Kind() != "var_spec" && spec.Kind() != "const_spec" {
				continue
			}
			if name := spec.ChildByFieldName("name"); name != nil {
				w.addNode(NodeVariable, w.text(name), spec, parentID)
			}
		}
	}
}

func (w *treeWalker) fieldName(node *sitter.Node) string {
	if n := node.ChildByFieldName("name"); n != nil {
		return w.text(n)
	}
	return ""
}

// collectReferences walks the whole tree recording imports and call edges.
// currentScope is the node id of the enclosing function, if any.
func (w *treeWalker) collectReferences(node *sitter.Node, currentScope string) {
	nextScope := currentScope

	switch w.language {
	case "python":
		switch node.Kind() {
		case "function_definition":
			if id, ok := w.byName[w.fieldName(node)]; ok {
				nextScope = id
			}
		case "import_statement", "import_from_statement":
			w.pythonImports(node)
		case "call":
			w.resolveCall(node, currentScope)
		}
	case "javascript", "typescript", "tsx":
		switch node.Kind() {
		case "function_declaration", "generator_function_declaration", "method_definition":
			if id, ok := w.byName[w.fieldName(node)]; ok {
				nextScope = id
			}
		case "import_statement":
			if src := node.ChildByFieldName("source"); src != nil {
				w.addImport(strings.Trim(w.text(src), `"'`))
			}
		case "call_expression":
			w.resolveCall(node, currentScope)
		}
	case "go":
		switch node.Kind() {
		case "function_declaration", "method_declaration":
			if id, ok := w.byName[w.fieldName(node)]; ok {
				nextScope = id
			}
		case "import_spec":
			if path := node.ChildByFieldName("path"); path != nil {
				w.addImport(strings.Trim(w.text(path), `"`))
			}
		case "call_expression":
			w.resolveCall(node, currentScope)
		}
	}

	for i := uint(0); i < node.NamedChildCount(); i++ {
		if child := node.NamedChild(i); child != nil {
			w.collectReferences(child, nextScope)
		}
	}
}

func (w *treeWalker) pythonImports(node *sitter.Node) {
	switch node.Kind() {
	case "import_statement":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child == nil {
				continue
			}
			switch child.Kind() {
			case "dotted_name":
				w.addImport(w.text(child))
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					w.addImport(w.text(name))
				}
			}
		}
	case "import_from_statement":
		if module := node.ChildByFieldName("module_name"); module != nil {
			w.addImport(w.text(module))
		}
	}
}

// resolveCall records a calls edge when the callee's simple name matches a
// definition in the same file. Unresolved callees are dropped.
func (w *treeWalker) resolveCall(node *sitter.Node, currentScope string) {
	if currentScope == "" {
		return
	}
	callee := node.ChildByFieldName("function")
	if callee == nil {
		return
	}
	name := w.text(callee)
	// Keep only the trailing simple name of attribute/selector calls
	if idx := strings.LastIndexAny(name, "."); idx >= 0 {
		name = name[idx+1:]
	}
	targetID, ok := w.byName[name]
	if !ok || targetID == currentScope {
		return
	}
	w.edges = append(w.edges, Edge{SourceID: currentScope, TargetID: targetID, Relation: RelCalls})
}
