package plan

import (
	"reflect"
	"testing"
)

func TestExtractRelativeResolved(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("read", map[string]interface{}{"path": "notes.txt"})
	want := []string{"/ws/notes.txt"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
}

func TestExtractTraversalCollapsed(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("read", map[string]interface{}{"path": "/ws/sub/../notes.txt"})
	want := []string{"/ws/notes.txt"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
}

func TestExtractTrailingSlashNormalized(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	a := x.Extract("read", map[string]interface{}{"path": "/ws/dir/"})
	b := x.Extract("read", map[string]interface{}{"path": "/ws/dir"})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Trailing slash should not change the path: %v vs %v", a, b)
	}
}

func TestExtractTwoPathTool(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("copy", map[string]interface{}{
		"source":      "a.txt",
		"destination": "b.txt",
	})
	want := []string{"/ws/a.txt", "/ws/b.txt"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
}

func TestExtractDeduplicates(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("copy", map[string]interface{}{
		"source":      "a.txt",
		"destination": "sub/../a.txt",
	})
	if len(paths) != 1 {
		t.Errorf("Expected 1 deduplicated path, got %v", paths)
	}
}

func TestExtractNoFootprintTool(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("web_search", map[string]interface{}{"query": "golang"})
	if len(paths) != 0 {
		t.Errorf("Expected empty set, got %v", paths)
	}
}

func TestExtractMalformedArgsFailOpen(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")

	// Non-string path value degrades to no declared paths, never an error.
	paths := x.Extract("read", map[string]interface{}{"path": 42})
	if len(paths) != 0 {
		t.Errorf("Expected empty set for malformed args, got %v", paths)
	}

	paths = x.Extract("read", nil)
	if len(paths) != 0 {
		t.Errorf("Expected empty set for nil args, got %v", paths)
	}
}

func TestExtractUnknownTool(t *testing.T) {
	x := NewPathExtractor(testCatalog(), "/ws")
	paths := x.Extract("mystery", map[string]interface{}{"path": "/a"})
	if len(paths) != 0 {
		t.Errorf("Unregistered tools declare no paths, got %v", paths)
	}
}
