// Tools module - tool catalog and invocation framework
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gliderlab/coagent/plan"
)

// Tool defines the tool interface. Metadata and PathKeys are the static
// classification the planner uses; they must be accurate for tools with
// filesystem side effects. Tools whose blast radius cannot be statically
// bounded (exec, process) must declare Write/Unconfined.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Metadata() plan.Metadata
	PathKeys() []string
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// Policy holds tool allow/deny policy
type Policy struct {
	Allow []string // Tool names or groups to allow (nil means all)
	Deny  []string // Tool names or groups to deny
}

// Tool groups
var ToolGroups = map[string][]string{
	"group:runtime": {"exec", "process"},
	"group:fs":      {"read", "write", "edit", "append", "list", "copy", "move", "delete"},
	"group:memory":  {"memory_search", "memory_save"},
	"group:web":     {"web_search", "web_fetch"},
	"group:db":      {"db_query"},
}

// Registry holds registered tools
type Registry struct {
	tools  map[string]Tool
	policy *Policy
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// NewRegistryWithPolicy creates a registry with a custom policy
func NewRegistryWithPolicy(policy *Policy) *Registry {
	r := NewRegistry()
	r.policy = policy
	return r
}

// SetPolicy updates the tools policy
func (r *Registry) SetPolicy(policy *Policy) {
	r.policy = policy
}

// Register a tool
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
	log.Printf("[OK] tool registered: %s (%s/%s)", t.Name(), t.Metadata().Op, t.Metadata().Scope)
}

// Get returns a tool by name
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List all tool names
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Catalog builds the planner's classification table from the registered
// tools. Call after registration is complete; the catalog is a snapshot.
func (r *Registry) Catalog() *plan.Catalog {
	c := plan.NewCatalog()
	for name, t := range r.tools {
		c.Register(name, plan.ToolInfo{
			Metadata: t.Metadata(),
			PathKeys: t.PathKeys(),
		})
	}
	return c
}

// IsToolAllowed checks if a tool is allowed by policy
func (r *Registry) IsToolAllowed(toolName string) bool {
	if r.policy == nil {
		return true
	}
	for _, denied := range r.policy.Deny {
		if policyMatches(denied, toolName) {
			return false
		}
	}
	if len(r.policy.Allow) == 0 {
		return true
	}
	for _, allowed := range r.policy.Allow {
		if policyMatches(allowed, toolName) {
			return true
		}
	}
	return false
}

func policyMatches(item, toolName string) bool {
	if item == "*" || item == toolName {
		return true
	}
	if strings.HasPrefix(item, "group:") {
		for _, member := range ToolGroups[item] {
			if member == toolName {
				return true
			}
		}
	}
	return false
}

// CallTool invokes a tool and returns its result
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if !r.IsToolAllowed(name) {
		return nil, fmt.Errorf("tool not allowed by policy: %s", name)
	}

	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool not found: %s", name)
	}

	log.Printf("[TOOL] calling tool: %s", name)
	result, err := t.Execute(ctx, args)
	if err != nil {
		log.Printf("[ERROR] tool failed: %s - %v", name, err)
		return nil, err
	}

	log.Printf("[OK] tool succeeded: %s", name)
	return result, nil
}

// Invoke adapts the registry to the planner's invocation contract.
func (r *Registry) Invoke(ctx context.Context, call plan.Call) (interface{}, error) {
	return r.CallTool(ctx, call.Name, call.Args)
}

// GetToolSpecs returns OpenAI-format specs with function wrapper (filtered by policy)
func (r *Registry) GetToolSpecs() []map[string]interface{} {
	specs := make([]map[string]interface{}, 0)
	for _, t := range r.tools {
		if !r.IsToolAllowed(t.Name()) {
			continue
		}
		specs = append(specs, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return specs
}

// ParseArgs parses JSON args
func ParseArgs(argsJSON string) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return nil, fmt.Errorf("failed to parse args: %v", err)
	}
	return args, nil
}

// GetString gets a string arg
func GetString(args map[string]interface{}, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetInt gets an int arg
func GetInt(args map[string]interface{}, key string) int {
	if v, ok := args[key]; ok {
		switch f := v.(type) {
		case float64:
			return int(f)
		case int:
			return f
		case string:
			var i int
			fmt.Sscanf(f, "%d", &i)
			return i
		}
	}
	return 0
}

// GetBool gets a bool arg
func GetBool(args map[string]interface{}, key string) bool {
	if v, ok := args[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

// Truncate long text
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...\n(content truncated)"
}

// resolveInRoot resolves a raw path against root and rejects escapes
// (jail mechanism for file tools).
func resolveInRoot(root, raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path is required")
	}
	p := raw
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	cleanRoot := filepath.Clean(root)
	if resolved, err := filepath.EvalSymlinks(cleanRoot); err == nil {
		cleanRoot = resolved
	}
	// For not-yet-existing targets, canonicalize through the parent.
	candidate := p
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		candidate = resolved
	} else if parent, perr := filepath.EvalSymlinks(filepath.Dir(p)); perr == nil {
		candidate = filepath.Join(parent, filepath.Base(p))
	}

	rel, err := filepath.Rel(cleanRoot, candidate)
	if err != nil {
		return "", fmt.Errorf("invalid path: %v", err)
	}
	sep := string(os.PathSeparator)
	if rel == ".." || strings.HasPrefix(rel, ".."+sep) {
		return "", fmt.Errorf("path not allowed: %s is outside the workspace", p)
	}
	return candidate, nil
}
