package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gliderlab/coagent/memory"
	"github.com/gliderlab/coagent/plan"
)

// MemorySearchTool recalls stored memories by semantic similarity
type MemorySearchTool struct {
	Store    *memory.Store
	Limit    int     // default result count
	MinScore float64 // similarity cutoff
}

func NewMemorySearchTool(store *memory.Store, limit int, minScore float64) *MemorySearchTool {
	if limit <= 0 {
		limit = 3
	}
	return &MemorySearchTool{Store: store, Limit: limit, MinScore: minScore}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for relevant facts, preferences and decisions"
}

func (t *MemorySearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max memories to return",
			},
		},
		"required": []string{"query"},
	}
}

func (t *MemorySearchTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *MemorySearchTool) PathKeys() []string { return nil }

func (t *MemorySearchTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := GetInt(args, "limit")
	if limit <= 0 {
		limit = t.Limit
	}

	results, err := t.Store.Search(ctx, query, limit, float32(t.MinScore))
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %v", err)
	}
	if len(results) == 0 {
		return "No relevant memories found", nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [%s, score %.2f] %s\n", i+1, r.Entry.Category, r.Score, r.Entry.Text)
	}
	return sb.String(), nil
}

// MemorySaveTool stores a new long-term memory
type MemorySaveTool struct {
	Store *memory.Store
}

func NewMemorySaveTool(store *memory.Store) *MemorySaveTool {
	return &MemorySaveTool{Store: store}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a fact, preference or decision to long-term memory"
}

func (t *MemorySaveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{
				"type":        "string",
				"description": "The memory to store",
			},
			"category": map[string]interface{}{
				"type":        "string",
				"description": "One of: preference, decision, fact, entity, other",
			},
			"importance": map[string]interface{}{
				"type":        "number",
				"description": "Importance from 0 to 1 (default 0.5)",
			},
		},
		"required": []string{"text"},
	}
}

// Writes, but only to its own database, never the workspace
func (t *MemorySaveTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeConfined}
}

func (t *MemorySaveTool) PathKeys() []string { return nil }

func (t *MemorySaveTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text := GetString(args, "text")
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	category := GetString(args, "category")
	importance := 0.5
	if v, ok := args["importance"].(float64); ok && v > 0 {
		importance = v
	}

	id, err := t.Store.Store(ctx, text, category, importance)
	if err != nil {
		return nil, fmt.Errorf("memory save failed: %v", err)
	}
	return fmt.Sprintf("Saved memory %s", id), nil
}
