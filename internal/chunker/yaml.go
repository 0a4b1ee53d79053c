package chunker

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// chunkYAML produces one chunk per `---`-separated document.
func (c *Chunker) chunkYAML(project, relPath string, content []byte) []Chunk {
	lines := strings.Split(string(content), "\n")

	// Document boundaries: line indexes of `---` separators
	separators := []int{-1}
	for i, line := range lines {
		if strings.TrimSpace(line) == "---" {
			separators = append(separators, i)
		}
	}
	separators = append(separators, len(lines))

	var chunks []Chunk
	docIndex := 0
	for i := 0; i < len(separators)-1; i++ {
		start := separators[i] + 1
		end := separators[i+1]
		if start >= end {
			continue
		}
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		ch := Chunk{
			RelPath:   relPath,
			Language:  "yaml",
			Kind:      KindDocument,
			Name:      fmt.Sprintf("document_%d", docIndex),
			StartLine: start + 1,
			EndLine:   end,
			Text:      text,
			Metadata: map[string]string{
				"document_index": fmt.Sprintf("%d", docIndex),
			},
		}
		if keys := yamlTopLevelKeys(text); keys != "" {
			ch.Metadata["keys"] = keys
		}
		ch.finalize()
		chunks = append(chunks, ch)
		docIndex++
	}
	return chunks
}

// yamlTopLevelKeys lists a mapping document's top-level keys, so retrieval
// can match on structure even when values dominate the text.
func yamlTopLevelKeys(doc string) string {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(doc), &m); err != nil || len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
