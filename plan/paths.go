package plan

import (
	"path/filepath"
	"sort"
)

// PathExtractor derives the normalized set of filesystem paths a tool call
// will touch, from its declared path-bearing argument keys. Relative values
// are resolved against Root.
type PathExtractor struct {
	catalog *Catalog
	root    string
}

// NewPathExtractor creates an extractor rooted at root. An empty root
// resolves relative paths against the process working directory.
func NewPathExtractor(catalog *Catalog, root string) *PathExtractor {
	return &PathExtractor{catalog: catalog, root: root}
}

// Extract returns the sorted, deduplicated normalized paths for one call.
// Tools with no filesystem footprint return an empty set, and so do calls
// with malformed or missing arguments: planning never fails on bad input,
// it degrades to "no known conflicts" (fail-open).
func (x *PathExtractor) Extract(toolName string, args map[string]interface{}) []string {
	keys := x.catalog.PathKeysFor(toolName)
	if len(keys) == 0 || args == nil {
		return nil
	}

	seen := make(map[string]bool, len(keys))
	var paths []string
	for _, key := range keys {
		raw, ok := args[key].(string)
		if !ok || raw == "" {
			continue
		}
		p := x.normalize(raw)
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// normalize produces the canonical absolute form: rooted, ".." collapsed,
// no trailing separator. Purely lexical, no filesystem access, so planning
// stays total even for paths that do not exist yet.
func (x *PathExtractor) normalize(raw string) string {
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(x.root, p)
	}
	return filepath.Clean(p)
}
