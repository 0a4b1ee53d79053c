package chunker

import (
	"log"
	"path/filepath"
	"strings"

	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/parser"
)

// Chunker turns file contents into an ordered list of chunks using a
// per-language strategy.
type Chunker struct {
	cfg  *config.Config
	pool *parser.Pool
}

// New creates a chunker backed by the given parser pool.
func New(cfg *config.Config, pool *parser.Pool) *Chunker {
	return &Chunker{cfg: cfg, pool: pool}
}

// Language resolves the configured language tag for a path, or "".
func (c *Chunker) Language(relPath string) string {
	return c.cfg.ExtensionLanguage(strings.ToLower(filepath.Ext(relPath)))
}

// ChunkFile chunks content according to the language's configured strategy.
// Parse failures are non-fatal: the file falls back to sliding windows.
func (c *Chunker) ChunkFile(project, relPath string, content []byte) []Chunk {
	if len(content) == 0 {
		return nil
	}

	language := c.Language(relPath)
	strategy := ""
	if language != "" {
		strategy = c.cfg.Languages[language].ChunkingStrategy
	}

	var chunks []Chunk
	switch strategy {
	case "ast":
		chunks = c.chunkAST(project, relPath, language, content)
	case "json_object":
		chunks = c.chunkJSON(project, relPath, content)
	case "yaml_document":
		chunks = c.chunkYAML(project, relPath, content)
	case "markdown_section":
		chunks = c.chunkMarkdown(project, relPath, content)
	default:
		chunks = c.chunkWindows(project, relPath, language, content)
	}

	if chunks == nil {
		chunks = c.chunkWindows(project, relPath, language, content)
	}

	for i := range chunks {
		chunks[i].Project = project
		if chunks[i].Language == "" {
			chunks[i].Language = language
		}
	}
	return chunks
}

// chunkAST dispatches to the tree-sitter strategy, or php-parser for PHP.
// A nil return signals fallback to sliding windows.
func (c *Chunker) chunkAST(project, relPath, language string, content []byte) []Chunk {
	if language == "php" {
		chunks, err := c.chunkPHP(relPath, content)
		if err != nil {
			log.Printf("[WARN] PHP parse failed for %s, falling back to sliding window: %v", relPath, err)
			return nil
		}
		return chunks
	}

	if !c.pool.Supports(language) {
		return nil
	}

	lease, err := c.pool.Acquire(language)
	if err != nil {
		log.Printf("[WARN] No parser available for %s (%s): %v", relPath, language, err)
		return nil
	}
	defer lease.Release()

	tree, err := lease.Parse(content)
	if err != nil {
		log.Printf("[WARN] Parse failed for %s, falling back to sliding window: %v", relPath, err)
		return nil
	}
	defer tree.Close()

	return c.chunkTree(relPath, language, content, tree)
}
