package chunker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
)

// chunkJSON produces one chunk per top-level property. A top-level array
// yields one chunk per element. Properties whose raw value exceeds
// max_chunk_size are split per key into child chunks.
func (c *Chunker) chunkJSON(project, relPath string, content []byte) []Chunk {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil
	}

	var out []Chunk
	switch trimmed[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			log.Printf("[WARN] Invalid JSON in %s, falling back to sliding window: %v", relPath, err)
			return nil
		}
		loc := newRawLocator(content)
		for _, key := range topLevelKeys(trimmed) {
			raw, ok := obj[key]
			if !ok {
				continue
			}
			out = append(out, c.jsonValueChunks(relPath, "$."+key, key, "", raw, loc)...)
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			log.Printf("[WARN] Invalid JSON in %s, falling back to sliding window: %v", relPath, err)
			return nil
		}
		loc := newRawLocator(content)
		for i, raw := range arr {
			name := fmt.Sprintf("[%d]", i)
			out = append(out, c.jsonValueChunks(relPath, "$"+name, name, "", raw, loc)...)
		}
	default:
		// A bare scalar document is one chunk
		ch := Chunk{
			RelPath:   relPath,
			Language:  "json",
			Kind:      KindBlock,
			Name:      "$",
			StartLine: 1,
			EndLine:   1 + bytes.Count(trimmed, []byte("\n")),
			Text:      string(trimmed),
			Metadata:  map[string]string{"json_path": "$"},
		}
		ch.finalize()
		out = append(out, ch)
	}
	return out
}

// jsonValueChunks emits the chunk for one value, recursing per key when the
// raw value exceeds max_chunk_size.
func (c *Chunker) jsonValueChunks(relPath, jsonPath, name, parentID string, raw json.RawMessage, loc *rawLocator) []Chunk {
	startLine, endLine := loc.lines(raw)
	ch := Chunk{
		RelPath:   relPath,
		Language:  "json",
		Kind:      KindBlock,
		Name:      name,
		StartLine: startLine,
		EndLine:   endLine,
		Text:      string(raw),
		ParentID:  parentID,
		Metadata:  map[string]string{"json_path": jsonPath},
	}
	ch.finalize()

	if len(raw) <= c.cfg.Chunking.MaxChunkSize {
		return []Chunk{ch}
	}

	out := []Chunk{ch}
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return out
		}
		for _, key := range topLevelKeys(trimmed) {
			sub, ok := obj[key]
			if !ok {
				continue
			}
			out = append(out, c.jsonValueChunks(relPath, jsonPath+"."+key, key, ch.ID, sub, loc)...)
		}
	case len(trimmed) > 0 && trimmed[0] == '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return out
		}
		for i, sub := range arr {
			idx := fmt.Sprintf("[%d]", i)
			out = append(out, c.jsonValueChunks(relPath, jsonPath+idx, idx, ch.ID, sub, loc)...)
		}
	}
	return out
}

// topLevelKeys returns an object's keys in document order.
func topLevelKeys(raw []byte) []string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	var keys []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := keyTok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		// Skip the value
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// rawLocator maps raw value bytes back to line ranges in the source document.
// json.RawMessage preserves the original bytes, so a forward substring scan
// recovers positions for values in document order.
type rawLocator struct {
	content []byte
	cursor  int
}

func newRawLocator(content []byte) *rawLocator {
	return &rawLocator{content: content}
}

func (l *rawLocator) lines(raw json.RawMessage) (int, int) {
	idx := bytes.Index(l.content[l.cursor:], raw)
	if idx < 0 {
		// Nested recursion revisits earlier bytes; retry from the start
		idx = bytes.Index(l.content, raw)
		if idx < 0 {
			return 0, 0
		}
	} else {
		idx += l.cursor
		l.cursor = idx
	}
	start := 1 + bytes.Count(l.content[:idx], []byte("\n"))
	end := start + bytes.Count(raw, []byte("\n"))
	return start, end
}
