package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// Matcher decides whether a repo-relative path is excluded from indexing.
// It is an immutable snapshot: callers rebuild it when pattern sources change.
type Matcher struct {
	rules      []rule
	binaryExts map[string]struct{}
}

type rule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewMatcher compiles gitignore-style patterns in order. Later sources should
// be appended after earlier ones; the last matching rule wins.
func NewMatcher(patterns []string, binaryExtensions []string) *Matcher {
	m := &Matcher{
		binaryExts: make(map[string]struct{}, len(binaryExtensions)),
	}
	for _, ext := range binaryExtensions {
		m.binaryExts[strings.ToLower(ext)] = struct{}{}
	}
	for _, p := range patterns {
		if r, ok := compileRule(p); ok {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

func compileRule(raw string) (rule, bool) {
	p := strings.TrimSpace(raw)
	if p == "" || strings.HasPrefix(p, "#") {
		return rule{}, false
	}

	var r rule
	if strings.HasPrefix(p, "!") {
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimSuffix(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimPrefix(p, "/")
	} else if strings.Contains(p, "/") {
		// A slash anywhere in the pattern anchors it to the root,
		// per gitignore semantics
		r.anchored = true
	}
	if p == "" {
		return rule{}, false
	}
	r.pattern = p
	return r, true
}

// IsIgnored reports whether relPath (slash-separated, relative to the project
// root) is excluded. isDir distinguishes directory events from file events.
func (m *Matcher) IsIgnored(relPath string, isDir bool) bool {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if relPath == "" || relPath == "." {
		return false
	}

	if !isDir {
		ext := strings.ToLower(filepath.Ext(relPath))
		if _, binary := m.binaryExts[ext]; binary {
			return true
		}
	}

	ignored := false
	for _, r := range m.rules {
		if r.matches(relPath, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(relPath string, isDir bool) bool {
	// Directory-only rules also cover everything beneath the directory
	if r.dirOnly {
		if r.matchPath(relPath) {
			return isDir || pathHasMatchingParent(relPath, r)
		}
		return pathHasMatchingParent(relPath, r)
	}
	if r.matchPath(relPath) {
		return true
	}
	// A plain pattern matching an ancestor directory excludes the subtree
	return pathHasMatchingParent(relPath, r)
}

func pathHasMatchingParent(relPath string, r rule) bool {
	for dir := parentDir(relPath); dir != ""; dir = parentDir(dir) {
		if r.matchPath(dir) {
			return true
		}
	}
	return false
}

func baseName(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return p
	}
	return p[idx+1:]
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx < 0 {
		return ""
	}
	return p[:idx]
}

func (r rule) matchPath(relPath string) bool {
	if r.anchored {
		return globMatch(r.pattern, relPath)
	}
	// Unanchored patterns match against the basename and every path suffix
	if globMatch(r.pattern, baseName(relPath)) {
		return true
	}
	rest := relPath
	for {
		if globMatch(r.pattern, rest) {
			return true
		}
		idx := strings.Index(rest, "/")
		if idx < 0 {
			return false
		}
		rest = rest[idx+1:]
	}
}

// globMatch matches a gitignore glob against a slash-separated path.
// `**` spans directory separators; `*` and `?` do not.
func globMatch(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			// `**` matches zero or more path segments
			for skip := 0; skip <= len(name); skip++ {
				if matchSegments(pat[1:], name[skip:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pat[0], name[0]); !ok {
			return false
		}
		pat = pat[1:]
		name = name[1:]
	}
	return len(name) == 0
}

// LoadFile reads patterns from a gitignore-style file. A missing file yields
// no patterns and no error.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
