package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gliderlab/coagent/plan"
	"github.com/gliderlab/coagent/storage"
)

// DBQueryTool runs read-only SQL against the agent's own database
type DBQueryTool struct {
	Store *storage.Storage
}

func NewDBQueryTool(store *storage.Storage) *DBQueryTool {
	return &DBQueryTool{Store: store}
}

func (t *DBQueryTool) Name() string { return "db_query" }

func (t *DBQueryTool) Description() string {
	return "Run a read-only SELECT against the agent database (messages, tool_results, config)"
}

func (t *DBQueryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "SELECT statement to run",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Max rows to return (default 50)",
			},
		},
		"required": []string{"query"},
	}
}

// Read-only and no filesystem footprint
func (t *DBQueryTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpRead, Scope: plan.ScopeConfined}
}

func (t *DBQueryTool) PathKeys() []string { return nil }

func (t *DBQueryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := GetString(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := GetInt(args, "limit")
	if limit <= 0 {
		limit = 50
	}

	rows, err := t.Store.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query failed: %v", err)
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"rows":  rows,
		"count": len(rows),
	}, "", "  ")
	if err != nil {
		return nil, err
	}
	return string(out), nil
}
