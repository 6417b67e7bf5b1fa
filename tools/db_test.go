package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gliderlab/coagent/storage"
)

func testDBTool(t *testing.T) *DBQueryTool {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewDBQueryTool(store)
}

func TestDBQueryToolName(t *testing.T) {
	tool := testDBTool(t)
	if tool.Name() != "db_query" {
		t.Errorf("Expected 'db_query', got '%s'", tool.Name())
	}
}

func TestDBQueryToolSelect(t *testing.T) {
	tool := testDBTool(t)
	tool.Store.AddMessage("main", "user", "hello")

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "SELECT role, content FROM messages",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	out, ok := result.(string)
	if !ok {
		t.Fatalf("Expected string result, got %T", result)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("Expected row content in output, got %q", out)
	}
}

func TestDBQueryToolRejectsWrites(t *testing.T) {
	tool := testDBTool(t)
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"query": "DELETE FROM messages",
	})
	if err == nil {
		t.Error("Non-SELECT statements should be rejected")
	}
}

func TestDBQueryToolRequiresQuery(t *testing.T) {
	tool := testDBTool(t)
	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Error("Expected error for missing query")
	}
}
