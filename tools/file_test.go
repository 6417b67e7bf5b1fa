package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadToolName(t *testing.T) {
	tool := &ReadTool{}
	if tool.Name() != "read" {
		t.Errorf("Expected 'read', got '%s'", tool.Name())
	}
}

func TestReadToolBasic(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), []byte("Hello, World!"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	tool := &ReadTool{Root: tmpDir}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "test.txt",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != "Hello, World!" {
		t.Errorf("Expected file content, got %v", result)
	}
}

func TestReadToolNotFound(t *testing.T) {
	tool := &ReadTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "nonexistent.txt",
	})
	if err == nil {
		t.Error("Should return error for non-existent file")
	}
}

func TestReadToolRejectsDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	tool := &ReadTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": "."})
	if err == nil {
		t.Error("Should refuse to read a directory")
	}
}

func TestWriteToolBasic(t *testing.T) {
	tmpDir := t.TempDir()
	tool := &WriteTool{Root: tmpDir}

	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "sub/dir/out.txt",
		"content": "written",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "sub", "dir", "out.txt"))
	if err != nil {
		t.Fatalf("Failed to read back: %v", err)
	}
	if string(data) != "written" {
		t.Errorf("Expected 'written', got %q", string(data))
	}
}

func TestWriteToolJail(t *testing.T) {
	tool := &WriteTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path":    "../../escape.txt",
		"content": "nope",
	})
	if err == nil {
		t.Error("Should refuse paths escaping the workspace")
	}
}

func TestAppendTool(t *testing.T) {
	tmpDir := t.TempDir()
	tool := &AppendTool{Root: tmpDir}
	ctx := context.Background()

	tool.Execute(ctx, map[string]interface{}{"path": "log.txt", "content": "one\n"})
	tool.Execute(ctx, map[string]interface{}{"path": "log.txt", "content": "two\n"})

	data, _ := os.ReadFile(filepath.Join(tmpDir, "log.txt"))
	if string(data) != "one\ntwo\n" {
		t.Errorf("Expected appended content, got %q", string(data))
	}
}

func TestEditTool(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "main.go")
	os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0644)

	tool := &EditTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "main.go",
		"old":  "func main() {}",
		"new":  "func main() { run() }",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "run()") {
		t.Errorf("Expected edit applied, got %q", string(data))
	}
}

func TestEditToolRequiresUniqueMatch(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "dup.txt"), []byte("aaa aaa"), 0644)

	tool := &EditTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"path": "dup.txt",
		"old":  "aaa",
		"new":  "bbb",
	})
	if err == nil {
		t.Error("Should refuse ambiguous edit")
	}

	_, err = tool.Execute(context.Background(), map[string]interface{}{
		"path": "dup.txt",
		"old":  "missing",
		"new":  "bbb",
	})
	if err == nil {
		t.Error("Should report old text not found")
	}
}

func TestListTool(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "b.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("x"), 0644)
	os.Mkdir(filepath.Join(tmpDir, "sub"), 0755)

	tool := &ListTool{Root: tmpDir}
	result, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	names, ok := result.([]string)
	if !ok {
		t.Fatalf("Expected []string, got %T", result)
	}
	if len(names) != 3 {
		t.Fatalf("Expected 3 entries, got %v", names)
	}
	if names[0] != "a.txt" || names[2] != "sub/" {
		t.Errorf("Expected sorted entries with dir suffix, got %v", names)
	}
}

func TestCopyTool(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "src.txt"), []byte("payload"), 0644)

	tool := &CopyTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"source":      "src.txt",
		"destination": "dst.txt",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(tmpDir, "dst.txt"))
	if string(data) != "payload" {
		t.Errorf("Expected copied content, got %q", string(data))
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "src.txt")); err != nil {
		t.Error("Source should survive a copy")
	}
}

func TestMoveTool(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "old.txt"), []byte("payload"), 0644)

	tool := &MoveTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"source":      "old.txt",
		"destination": "new.txt",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmpDir, "old.txt")); !os.IsNotExist(err) {
		t.Error("Source should be gone after move")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "new.txt")); err != nil {
		t.Error("Destination should exist after move")
	}
}

func TestDeleteTool(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "gone.txt"), []byte("x"), 0644)

	tool := &DeleteTool{Root: tmpDir}
	_, err := tool.Execute(context.Background(), map[string]interface{}{"path": "gone.txt"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "gone.txt")); !os.IsNotExist(err) {
		t.Error("File should be deleted")
	}

	// Directories are refused
	os.Mkdir(filepath.Join(tmpDir, "sub"), 0755)
	if _, err := tool.Execute(context.Background(), map[string]interface{}{"path": "sub"}); err == nil {
		t.Error("Should refuse to delete a directory")
	}
}

func TestFileToolPathKeys(t *testing.T) {
	if keys := (&CopyTool{}).PathKeys(); len(keys) != 2 {
		t.Errorf("copy should declare source+destination, got %v", keys)
	}
	if keys := (&MoveTool{}).PathKeys(); len(keys) != 2 {
		t.Errorf("move should declare source+destination, got %v", keys)
	}
	if keys := (&ReadTool{}).PathKeys(); len(keys) != 1 || keys[0] != "path" {
		t.Errorf("read should declare path, got %v", keys)
	}
}
