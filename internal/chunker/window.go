package chunker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// chunkWindows slices content into windows of up to max_chunk_size bytes
// with chunk_overlap bytes of overlap, cut at line boundaries; a line longer
// than max_chunk_size stays whole in one larger window. Overlap is
// applied in bytes. Concatenating the windows with their overlapping prefixes
// removed reproduces the file exactly.
func (c *Chunker) chunkWindows(project, relPath, language string, content []byte) []Chunk {
	maxSize := c.cfg.Chunking.MaxChunkSize
	overlap := c.cfg.Chunking.ChunkOverlap
	minSize := c.cfg.Chunking.MinChunkSize

	chunks := windowSpans(content, maxSize, overlap, minSize)
	out := make([]Chunk, 0, len(chunks))
	var htmlMeta map[string]string
	if language == "html" {
		htmlMeta = htmlMetadata(content)
	}

	for _, span := range chunks {
		text := string(content[span.start:span.end])
		startLine := 1 + bytes.Count(content[:span.start], []byte("\n"))
		endLine := startLine + strings.Count(strings.TrimSuffix(text, "\n"), "\n")

		ch := Chunk{
			RelPath:   relPath,
			Language:  language,
			Kind:      KindWindow,
			StartLine: startLine,
			EndLine:   endLine,
			Text:      text,
			Metadata: map[string]string{
				"start_byte": fmt.Sprintf("%d", span.start),
				"end_byte":   fmt.Sprintf("%d", span.end),
			},
		}
		for k, v := range htmlMeta {
			ch.Metadata[k] = v
		}
		ch.finalize()
		out = append(out, ch)
	}
	return out
}

type span struct {
	start int
	end   int
}

// windowSpans computes byte ranges for the sliding windows. Spans are
// contiguous slices of the content; successive spans overlap by roughly
// overlap bytes, adjusted back to the start of a line.
func windowSpans(content []byte, maxSize, overlap, minSize int) []span {
	if len(content) == 0 {
		return nil
	}
	if maxSize <= 0 {
		return []span{{0, len(content)}}
	}

	var spans []span
	start := 0
	for start < len(content) {
		end := start + maxSize
		if end >= len(content) {
			end = len(content)
		} else if idx := bytes.LastIndexByte(content[start:end], '\n'); idx >= 0 {
			// Cut back to the nearest line boundary, newline included
			end = start + idx + 1
		} else {
			// No newline inside the window: extend to the end of the line
			for end < len(content) && content[end-1] != '\n' {
				end++
			}
		}

		spans = append(spans, span{start, end})
		if end >= len(content) {
			break
		}

		next := end - overlap
		if next < 0 {
			next = 0
		}
		// Pull the overlap back to the start of its line
		for next > 0 && content[next-1] != '\n' {
			next--
		}
		if next <= start {
			next = end
		}
		start = next
	}

	// A tail smaller than min_chunk_size merges into the previous window
	if len(spans) > 1 {
		last := spans[len(spans)-1]
		if last.end-last.start < minSize {
			spans[len(spans)-2].end = last.end
			spans = spans[:len(spans)-1]
		}
	}
	return spans
}

// splitOversized windows a single oversized declaration while preserving the
// declaration's name and scope in each piece.
func (c *Chunker) splitOversized(relPath, language, kind, name, parentID string, startLine int, text []byte) []Chunk {
	spans := windowSpans(text, c.cfg.Chunking.MaxChunkSize, c.cfg.Chunking.ChunkOverlap, c.cfg.Chunking.MinChunkSize)
	out := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		piece := string(text[sp.start:sp.end])
		pieceStart := startLine + bytes.Count(text[:sp.start], []byte("\n"))
		pieceEnd := pieceStart + strings.Count(strings.TrimSuffix(piece, "\n"), "\n")
		ch := Chunk{
			RelPath:   relPath,
			Language:  language,
			Kind:      KindWindow,
			Name:      name,
			StartLine: pieceStart,
			EndLine:   pieceEnd,
			Text:      piece,
			ParentID:  parentID,
			Metadata: map[string]string{
				"scope":      kind,
				"scope_name": name,
			},
		}
		ch.finalize()
		out = append(out, ch)
	}
	return out
}

// htmlMetadata extracts the document title and first heading so window
// chunks from markup keep a retrievable label.
func htmlMetadata(content []byte) map[string]string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil
	}
	meta := make(map[string]string)
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		meta["title"] = title
	}
	if h := strings.TrimSpace(doc.Find("h1, h2").First().Text()); h != "" {
		meta["heading"] = h
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
