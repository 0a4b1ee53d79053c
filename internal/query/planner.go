package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/wangdangel/augmentorium/internal/chunker"
	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/embedding"
	"github.com/wangdangel/augmentorium/internal/graph"
	"github.com/wangdangel/augmentorium/internal/vectorstore"
)

// Options control one query.
type Options struct {
	K                   int
	MinScore            float64
	Filter              *vectorstore.Filter
	IncludeGraphContext bool
}

// Related is a graph neighbor attached to a hit.
type Related struct {
	Node      graph.Node `json:"node"`
	Relation  string     `json:"relation"`
	Direction string     `json:"direction"`
}

// Hit is one ranked result.
type Hit struct {
	Chunk   chunker.Chunk `json:"chunk"`
	Score   float64       `json:"score"`
	Related []Related     `json:"related,omitempty"`
}

// Result is the planner's output: ranked hits plus an assembled context
// string bounded by the configured byte budget.
type Result struct {
	Results            []Hit  `json:"results"`
	Context            string `json:"context"`
	IndexingInProgress bool   `json:"indexing_in_progress"`
}

// Planner runs semantic search with graph enrichment. It performs read-only
// store access on the caller's goroutine plus one blocking embed call.
type Planner struct {
	cfg      config.QueryConfig
	embedder embedding.Embedder
	cache    *resultCache
}

// NewPlanner creates a planner sharing the engine's embedder.
func NewPlanner(cfg config.QueryConfig, embedder embedding.Embedder) *Planner {
	return &Planner{
		cfg:      cfg,
		embedder: embedder,
		cache:    newResultCache(cfg.CacheSize),
	}
}

// Query embeds the query text, searches the vector store, optionally expands
// hits with 1-hop graph neighbors, re-ranks, and assembles the context.
// cacheEpoch identifies the project's store state; results are cached per
// (epoch, query, options) so any commit naturally invalidates them.
func (p *Planner) Query(ctx context.Context, vectors vectorstore.Store, graphStore *graph.Store, text string, opts Options, cacheEpoch string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}

	k := opts.K
	if k <= 0 {
		k = p.cfg.DefaultK
	}
	if k <= 0 {
		k = 10
	}

	cacheKey := cacheKey(cacheEpoch, text, opts, k)
	if cached, ok := p.cache.get(cacheKey); ok {
		return cached, nil
	}

	candidates := ExpandQuery(text)
	vecs, err := p.embedder.Embed(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVector := averageVectors(vecs)

	fetch := k * 2
	if fetch < 20 {
		fetch = 20
	}
	hits, err := vectors.KNN(ctx, queryVector, fetch, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	ranked := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		ranked = append(ranked, Hit{Chunk: h.Chunk, Score: h.Score})
	}

	rerank(ranked)
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	if opts.IncludeGraphContext && graphStore != nil {
		for i := range ranked {
			ranked[i].Related = p.graphContext(ctx, graphStore, ranked[i].Chunk)
		}
	}

	result := &Result{
		Results: ranked,
		Context: p.assembleContext(ranked),
	}
	p.cache.put(cacheKey, result)
	return result, nil
}

// graphContext fetches 1-hop neighbors for the node backing a chunk. Named
// declarations map to their own node; everything else falls back to the
// file's module node.
func (p *Planner) graphContext(ctx context.Context, store *graph.Store, ch chunker.Chunk) []Related {
	nodeID := ""
	switch ch.Kind {
	case chunker.KindFunction:
		nodeID = graph.NodeID(ch.RelPath, graph.NodeFunction, ch.Name, ch.StartLine, ch.EndLine)
	case chunker.KindClass:
		nodeID = graph.NodeID(ch.RelPath, graph.NodeClass, ch.Name, ch.StartLine, ch.EndLine)
	default:
		nodeID = graph.NodeID(ch.RelPath, graph.NodeModule, ch.RelPath, 0, 0)
	}

	neighbors, err := store.Neighbors(ctx, nodeID, "both", nil)
	if err != nil || len(neighbors) == 0 {
		return nil
	}
	related := make([]Related, 0, len(neighbors))
	for _, nb := range neighbors {
		related = append(related, Related{Node: nb.Node, Relation: nb.Relation, Direction: nb.Direction})
	}
	return related
}

// rerank orders by score descending, tie-breaking on (path, start line), then
// demotes hits whose text is a strict substring of a higher-ranked hit from
// the same file.
func rerank(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.RelPath != hits[j].Chunk.RelPath {
			return hits[i].Chunk.RelPath < hits[j].Chunk.RelPath
		}
		return hits[i].Chunk.StartLine < hits[j].Chunk.StartLine
	})

	demoted := make([]bool, len(hits))
	for i := range hits {
		for j := 0; j < i; j++ {
			if demoted[j] || hits[j].Chunk.RelPath != hits[i].Chunk.RelPath {
				continue
			}
			if hits[i].Chunk.Text != hits[j].Chunk.Text && strings.Contains(hits[j].Chunk.Text, hits[i].Chunk.Text) {
				demoted[i] = true
				break
			}
		}
	}

	ordered := make([]Hit, 0, len(hits))
	for i, h := range hits {
		if !demoted[i] {
			ordered = append(ordered, h)
		}
	}
	for i, h := range hits {
		if demoted[i] {
			ordered = append(ordered, h)
		}
	}
	copy(hits, ordered)
}

// assembleContext concatenates ranked hit texts, each prefixed with
// path:line-range, under the byte budget.
func (p *Planner) assembleContext(hits []Hit) string {
	budget := p.cfg.ContextBudget
	if budget <= 0 {
		budget = 16 * 1024
	}

	var b strings.Builder
	for _, h := range hits {
		header := fmt.Sprintf("%s:%d-%d\n", h.Chunk.RelPath, h.Chunk.StartLine, h.Chunk.EndLine)
		entry := header + h.Chunk.Text
		if b.Len() > 0 {
			entry = "\n---\n" + entry
		}
		if b.Len()+len(entry) > budget {
			break
		}
		b.WriteString(entry)
	}
	return b.String()
}

// ExpandQuery normalizes the query and derives identifier-split candidates:
// the case-folded form, a snake/camel-split form, and the original.
func ExpandQuery(text string) []string {
	stripped := stripFences(text)
	folded := cases.Fold().String(stripped)
	split := splitIdentifiers(stripped)

	seen := make(map[string]struct{})
	var candidates []string
	for _, c := range []string{folded, split, strings.TrimSpace(stripped)} {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		candidates = append(candidates, c)
	}
	return candidates
}

// stripFences removes markdown code fence markers while keeping their
// contents.
func stripFences(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// splitIdentifiers breaks snake_case and camelCase tokens into words.
func splitIdentifiers(text string) string {
	var b strings.Builder
	var prev rune
	for _, r := range text {
		switch {
		case r == '_' || r == '-':
			b.WriteRune(' ')
		case r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z':
			b.WriteRune(' ')
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// averageVectors averages candidate embeddings into one query vector.
func averageVectors(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	if len(vectors) == 1 {
		return vectors[0]
	}
	out := make([]float32, len(vectors[0]))
	count := 0
	for _, vec := range vectors {
		if len(vec) != len(out) {
			continue
		}
		for i, v := range vec {
			out[i] += v
		}
		count++
	}
	if count == 0 {
		return vectors[0]
	}
	for i := range out {
		out[i] /= float32(count)
	}
	return out
}

func cacheKey(epoch, text string, opts Options, k int) string {
	var filter string
	if opts.Filter != nil {
		filter = strings.Join([]string{opts.Filter.Language, opts.Filter.Kind, opts.Filter.PathPrefix, opts.Filter.Name}, "\x1f")
	}
	return strings.Join([]string{
		epoch,
		text,
		fmt.Sprintf("%d|%g|%t", k, opts.MinScore, opts.IncludeGraphContext),
		filter,
	}, "\x1e")
}
