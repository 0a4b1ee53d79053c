package parser

import (
	"errors"
	"fmt"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
	golang "github.com/tree-sitter/tree-sitter-go/bindings/go"
	javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// ErrUnsupportedLanguage is returned when no grammar is registered for a tag.
var ErrUnsupportedLanguage = errors.New("no grammar registered for language")

// ErrParseFailed is returned when tree-sitter produced no usable tree.
// Callers treat it as non-fatal and fall back to sliding-window chunking.
var ErrParseFailed = errors.New("parse failed")

// Pool hands out tree-sitter parsers under a lease discipline. Parsers are
// not shared across goroutines; a lease grants exclusive use until released.
type Pool struct {
	mu        sync.Mutex
	idle      map[string][]*sitter.Parser
	languages map[string]*sitter.Language
}

// Lease is an exclusively held parser for one language.
type Lease struct {
	pool     *Pool
	parser   *sitter.Parser
	language string
	released bool
}

// NewPool creates a pool with the built-in grammar registry.
func NewPool() *Pool {
	return &Pool{
		idle: make(map[string][]*sitter.Parser),
		languages: map[string]*sitter.Language{
			"go":         sitter.NewLanguage(golang.Language()),
			"python":     sitter.NewLanguage(python.Language()),
			"javascript": sitter.NewLanguage(javascript.Language()),
			"typescript": sitter.NewLanguage(typescript.LanguageTypescript()),
			"tsx":        sitter.NewLanguage(typescript.LanguageTSX()),
		},
	}
}

// Supports reports whether a grammar is registered for the language tag.
func (p *Pool) Supports(language string) bool {
	_, ok := p.languages[language]
	return ok
}

// Acquire leases a parser configured for the language. The caller must
// Release the lease when done.
func (p *Pool) Acquire(language string) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lang, ok := p.languages[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}

	var parser *sitter.Parser
	if idle := p.idle[language]; len(idle) > 0 {
		parser = idle[len(idle)-1]
		p.idle[language] = idle[:len(idle)-1]
	} else {
		parser = sitter.NewParser()
		if err := parser.SetLanguage(lang); err != nil {
			parser.Close()
			return nil, fmt.Errorf("failed to configure %s parser: %w", language, err)
		}
	}

	return &Lease{pool: p, parser: parser, language: language}, nil
}

// Parse parses source bytes into a syntax tree. The returned tree must be
// closed by the caller. A tree whose root is entirely erroneous yields
// ErrParseFailed.
func (l *Lease) Parse(content []byte) (*sitter.Tree, error) {
	if l.released {
		return nil, fmt.Errorf("parse on released lease for %s", l.language)
	}
	tree := l.parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, l.language)
	}
	root := tree.RootNode()
	if root == nil {
		tree.Close()
		return nil, fmt.Errorf("%w: empty root node", ErrParseFailed)
	}
	// A root whose named children are all error nodes means the grammar
	// could not make sense of the file at all
	if root.NamedChildCount() > 0 && allErrors(root) {
		tree.Close()
		return nil, fmt.Errorf("%w: %s", ErrParseFailed, l.language)
	}
	return tree, nil
}

func allErrors(root *sitter.Node) bool {
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child != nil && !child.IsError() {
			return false
		}
	}
	return true
}

// Release returns the parser to the pool.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	l.pool.mu.Lock()
	l.pool.idle[l.language] = append(l.pool.idle[l.language], l.parser)
	l.pool.mu.Unlock()
}
