// File Tools - workspace-jailed file operations
package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gliderlab/coagent/pkg/config"
	"github.com/gliderlab/coagent/plan"
)

const MaxReadBytes = 256 * 1024 // 256KB per read

// workspaceRoot returns the configured root, falling back to the default
// workspace directory.
func workspaceRoot(root string) string {
	if root != "" {
		return root
	}
	return config.DefaultWorkspaceDir()
}

// ReadTool reads a file from the workspace
type ReadTool struct {
	Root string
}

func (t *ReadTool) Name() string { return "read" }

func (t *ReadTool) Description() string {
	return "Read a file from the workspace. Returns the file content as text."
}

func (t *ReadTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *ReadTool) PathKeys() []string { return []string{"path"} }

func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path (relative to workspace or absolute)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := resolveInRoot(workspaceRoot(t.Root), GetString(args, "path"))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read failed: %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return Truncate(string(data), MaxReadBytes), nil
}

// WriteTool creates or overwrites a file in the workspace
type WriteTool struct {
	Root string
}

func (t *WriteTool) Name() string { return "write" }

func (t *WriteTool) Description() string {
	return "Write content to a file, creating parent directories as needed. Overwrites existing content."
}

func (t *WriteTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *WriteTool) PathKeys() []string { return []string{"path"} }

func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := resolveInRoot(workspaceRoot(t.Root), GetString(args, "path"))
	if err != nil {
		return nil, err
	}
	content := GetString(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write failed: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// AppendTool appends content to a file
type AppendTool struct {
	Root string
}

func (t *AppendTool) Name() string { return "append" }

func (t *AppendTool) Description() string {
	return "Append content to the end of a file, creating it if missing."
}

func (t *AppendTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *AppendTool) PathKeys() []string { return []string{"path"} }

func (t *AppendTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path to append to",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Content to append",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *AppendTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := resolveInRoot(workspaceRoot(t.Root), GetString(args, "path"))
	if err != nil {
		return nil, err
	}
	content := GetString(args, "content")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("append failed: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("append failed: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("append failed: %w", err)
	}
	return fmt.Sprintf("appended %d bytes to %s", len(content), path), nil
}

// EditTool replaces an exact substring in a file
type EditTool struct {
	Root string
}

func (t *EditTool) Name() string { return "edit" }

func (t *EditTool) Description() string {
	return "Replace an exact text fragment in a file. The old text must occur exactly once."
}

func (t *EditTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *EditTool) PathKeys() []string { return []string{"path"} }

func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path to edit",
			},
			"old": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"new": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
		},
		"required": []string{"path", "old", "new"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := resolveInRoot(workspaceRoot(t.Root), GetString(args, "path"))
	if err != nil {
		return nil, err
	}
	oldText := GetString(args, "old")
	newText := GetString(args, "new")
	if oldText == "" {
		return nil, fmt.Errorf("old is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("edit failed: %w", err)
	}
	content := string(data)

	switch count := strings.Count(content, oldText); count {
	case 0:
		return nil, fmt.Errorf("edit failed: old text not found in %s", path)
	case 1:
		// ok
	default:
		return nil, fmt.Errorf("edit failed: old text occurs %d times in %s, must be unique", count, path)
	}

	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("edit failed: %w", err)
	}
	return fmt.Sprintf("edited %s", path), nil
}

// ListTool lists directory entries
type ListTool struct {
	Root string
}

func (t *ListTool) Name() string { return "list" }

func (t *ListTool) Description() string {
	return "List directory entries in the workspace."
}

func (t *ListTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *ListTool) PathKeys() []string { return []string{"path"} }

func (t *ListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory path (default: workspace root)",
			},
		},
	}
}

func (t *ListTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	raw := GetString(args, "path")
	if raw == "" {
		raw = "."
	}
	path, err := resolveInRoot(workspaceRoot(t.Root), raw)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CopyTool copies a file; it touches both source and destination paths.
type CopyTool struct {
	Root string
}

func (t *CopyTool) Name() string { return "copy" }

func (t *CopyTool) Description() string {
	return "Copy a file within the workspace."
}

func (t *CopyTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *CopyTool) PathKeys() []string { return []string{"source", "destination"} }

func (t *CopyTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Source file path",
			},
			"destination": map[string]interface{}{
				"type":        "string",
				"description": "Destination file path",
			},
		},
		"required": []string{"source", "destination"},
	}
}

func (t *CopyTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root := workspaceRoot(t.Root)
	src, err := resolveInRoot(root, GetString(args, "source"))
	if err != nil {
		return nil, err
	}
	dst, err := resolveInRoot(root, GetString(args, "destination"))
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("copy failed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("copy failed: %w", err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return nil, fmt.Errorf("copy failed: %w", err)
	}
	return fmt.Sprintf("copied %s to %s", src, dst), nil
}

// MoveTool renames a file; it touches both source and destination paths.
type MoveTool struct {
	Root string
}

func (t *MoveTool) Name() string { return "move" }

func (t *MoveTool) Description() string {
	return "Move or rename a file within the workspace."
}

func (t *MoveTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *MoveTool) PathKeys() []string { return []string{"source", "destination"} }

func (t *MoveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Source file path",
			},
			"destination": map[string]interface{}{
				"type":        "string",
				"description": "Destination file path",
			},
		},
		"required": []string{"source", "destination"},
	}
}

func (t *MoveTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	root := workspaceRoot(t.Root)
	src, err := resolveInRoot(root, GetString(args, "source"))
	if err != nil {
		return nil, err
	}
	dst, err := resolveInRoot(root, GetString(args, "destination"))
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("move failed: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return nil, fmt.Errorf("move failed: %w", err)
	}
	return fmt.Sprintf("moved %s to %s", src, dst), nil
}

// DeleteTool removes a single file
type DeleteTool struct {
	Root string
}

func (t *DeleteTool) Name() string { return "delete" }

func (t *DeleteTool) Description() string {
	return "Delete a single file from the workspace. Directories are refused."
}

func (t *DeleteTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *DeleteTool) PathKeys() []string { return []string{"path"} }

func (t *DeleteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "File path to delete",
			},
		},
		"required": []string{"path"},
	}
}

func (t *DeleteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	path, err := resolveInRoot(workspaceRoot(t.Root), GetString(args, "path"))
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("delete failed: %s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete failed: %w", err)
	}
	return fmt.Sprintf("deleted %s", path), nil
}
