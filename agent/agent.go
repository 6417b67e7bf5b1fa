// Package agent orchestrates the conversation turn loop: context
// assembly, provider calls, and batched tool execution.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/gliderlab/coagent/memory"
	"github.com/gliderlab/coagent/pkg/config"
	"github.com/gliderlab/coagent/pkg/llm"
	"github.com/gliderlab/coagent/plan"
	"github.com/gliderlab/coagent/storage"
	"github.com/gliderlab/coagent/tools"
)

// BackupPauser lets the agent pause background backups around sections
// that rewrite history.
type BackupPauser interface {
	Pause(ctx context.Context) error
	Resume()
}

// Config holds agent construction parameters
type Config struct {
	Provider llm.Provider
	Registry *tools.Registry
	Store    *storage.Storage
	Memory   *memory.Store
	Backups  BackupPauser

	SessionKey   string
	Model        string
	SystemPrompt string

	Workspace string
	Workers   int // max concurrent tool calls per batch

	Temperature  float64
	MaxTokens    int
	MaxToolDepth int // provider round-trips one user turn may trigger

	ContextTokens       int
	ReserveTokens       int
	CompactionThreshold float64
	KeepMessages        int

	RecallLimit    int
	RecallMinScore float64
}

// Agent is the conversation orchestrator
type Agent struct {
	cfg      Config
	provider llm.Provider
	registry *tools.Registry
	store    *storage.Storage
	memory   *memory.Store
	engine   *plan.Engine
}

// New creates an agent. The planner engine is built from the registry's
// tool catalog, so all tools must be registered before calling New.
func New(cfg Config) *Agent {
	if cfg.SessionKey == "" {
		cfg.SessionKey = "main"
	}
	if cfg.MaxToolDepth <= 0 {
		cfg.MaxToolDepth = 4
	}
	if cfg.ContextTokens <= 0 {
		cfg.ContextTokens = config.DefaultContextTokens
	}
	if cfg.ReserveTokens <= 0 {
		cfg.ReserveTokens = config.DefaultReserveTokens
	}
	if cfg.CompactionThreshold <= 0 || cfg.CompactionThreshold > 1 {
		cfg.CompactionThreshold = 0.7
	}
	if cfg.KeepMessages <= 0 {
		cfg.KeepMessages = 30
	}

	var catalog *plan.Catalog
	if cfg.Registry != nil {
		catalog = cfg.Registry.Catalog()
	}

	return &Agent{
		cfg:      cfg,
		provider: cfg.Provider,
		registry: cfg.Registry,
		store:    cfg.Store,
		memory:   cfg.Memory,
		engine: plan.NewEngine(plan.EngineConfig{
			Catalog: catalog,
			Root:    cfg.Workspace,
			Workers: cfg.Workers,
		}),
	}
}

// Store returns the agent's storage (nil if not configured)
func (a *Agent) Store() *storage.Storage { return a.store }

// Registry returns the agent's tool registry
func (a *Agent) Registry() *tools.Registry { return a.registry }

// Engine returns the planner engine (for inspection in tests and the CLI)
func (a *Agent) Engine() *plan.Engine { return a.engine }

// Chat runs one user turn: persist input, assemble context, call the
// provider, execute any requested tools in planned batches, and loop
// until the model produces text or the depth bound is hit.
func (a *Agent) Chat(ctx context.Context, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("empty input")
	}

	if a.store != nil {
		if _, err := a.store.AddMessage(a.cfg.SessionKey, "user", input); err != nil {
			log.Printf("[WARN] failed to persist user message: %v", err)
		}
	}

	a.maybeCompact(ctx)

	messages := a.assembleContext(ctx, input)

	var finalReply string
	for depth := 0; ; depth++ {
		resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
			Model:       a.cfg.Model,
			Messages:    messages,
			Temperature: a.cfg.Temperature,
			MaxTokens:   a.cfg.MaxTokens,
			Tools:       a.toolDefs(),
		})
		if err != nil {
			return "", fmt.Errorf("provider chat: %w", err)
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			finalReply = msg.Content
			break
		}
		if depth >= a.cfg.MaxToolDepth {
			log.Printf("[WARN] tool depth %d reached, stopping", depth)
			finalReply = msg.Content
			if finalReply == "" {
				finalReply = "Tool call limit reached for this turn."
			}
			break
		}

		assistantMsg, toolMessages, err := a.runToolCalls(ctx, msg)
		if err != nil {
			// Partial results are already reflected in toolMessages; a
			// cancelled turn surfaces as an error to the caller.
			return "", err
		}

		messages = append(messages, assistantMsg)
		messages = append(messages, toolMessages...)
	}

	if a.store != nil && finalReply != "" {
		if _, err := a.store.AddMessage(a.cfg.SessionKey, "assistant", finalReply); err != nil {
			log.Printf("[WARN] failed to persist assistant message: %v", err)
		}
	}
	return finalReply, nil
}

// runToolCalls translates provider tool calls into planner calls, runs
// them in planned batches, persists the outcomes, and returns the
// normalized assistant message plus one tool message per call in request
// order. The assistant message is persisted before the tool messages so
// replayed history pairs each tool response with its requesting call.
func (a *Agent) runToolCalls(ctx context.Context, assistant llm.Message) (llm.Message, []llm.Message, error) {
	calls := make([]plan.Call, 0, len(assistant.ToolCalls))
	normalized := make([]llm.ToolCall, 0, len(assistant.ToolCalls))
	names := make(map[string]string, len(assistant.ToolCalls))
	for _, tc := range assistant.ToolCalls {
		if tc.Function == nil {
			continue
		}
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()[:8]
		}
		args, err := tools.ParseArgs(tc.Function.Arguments)
		if err != nil {
			// Malformed args still produce a call; the tool reports the
			// problem as its result.
			args = map[string]interface{}{}
		}
		normalized = append(normalized, tc)
		names[tc.ID] = tc.Function.Name
		calls = append(calls, plan.Call{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	assistant.ToolCalls = normalized

	if a.store != nil {
		if data, err := json.Marshal(normalized); err != nil {
			log.Printf("[WARN] failed to serialize tool calls: %v", err)
		} else if _, err := a.store.AddAssistantToolCalls(a.cfg.SessionKey, assistant.Content, string(data)); err != nil {
			log.Printf("[WARN] failed to persist assistant tool calls: %v", err)
		}
	}

	p := a.engine.Analyze(calls)
	log.Printf("[Plan] %d calls in %d batches", p.Len(), len(p.Batches))

	results, execErr := a.engine.Execute(ctx, p, a.registry.Invoke)

	toolMessages := make([]llm.Message, 0, len(results))
	for _, r := range results {
		name := names[r.CallID]
		output, errText := renderResult(name, r)

		if a.store != nil {
			if err := a.store.AddToolResult(storage.ToolResultRecord{
				SessionKey: a.cfg.SessionKey,
				CallID:     r.CallID,
				Tool:       name,
				Output:     output,
				Error:      errText,
				DurationMs: r.Duration.Milliseconds(),
			}); err != nil {
				log.Printf("[WARN] failed to persist tool result: %v", err)
			}
			if _, err := a.store.AddToolMessage(a.cfg.SessionKey, "tool", output, r.CallID); err != nil {
				log.Printf("[WARN] failed to persist tool message: %v", err)
			}
		}

		toolMessages = append(toolMessages, llm.Message{
			Role:       "tool",
			Name:       name,
			Content:    output,
			ToolCallID: r.CallID,
		})
	}

	if execErr != nil {
		return assistant, toolMessages, fmt.Errorf("tool execution: %w", execErr)
	}
	return assistant, toolMessages, nil
}

// renderResult flattens one planner result into text for the model and
// an error string for persistence.
func renderResult(tool string, r plan.Result) (output, errText string) {
	if r.Err != nil {
		errText = r.Err.Error()
		payload, _ := json.Marshal(map[string]interface{}{
			"error":   errText,
			"tool":    tool,
			"success": false,
		})
		return string(payload), errText
	}

	switch v := r.Output.(type) {
	case nil:
		output = "OK"
	case string:
		output = v
	case tools.ExecResult:
		output = renderExecResult(v)
	case *tools.ExecResult:
		output = renderExecResult(*v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			output = fmt.Sprintf("%v", v)
		} else {
			output = string(data)
		}
	}
	return TruncateToolOutput(output, DefaultTruncation), ""
}

// renderExecResult simplifies exec output to plain text
func renderExecResult(v tools.ExecResult) string {
	out := strings.TrimSpace(v.Stdout)
	if out == "" {
		out = strings.TrimSpace(v.Stderr)
	}
	if out == "" {
		if v.Success {
			return "OK"
		}
		return "command failed: " + v.Error
	}
	if !v.Success {
		out += fmt.Sprintf("\n(exit code %d)", v.ExitCode)
	}
	return out
}

// toolDefs builds provider tool definitions from the registry specs
func (a *Agent) toolDefs() []llm.Tool {
	if a.registry == nil {
		return nil
	}
	specs := a.registry.GetToolSpecs()
	defs := make([]llm.Tool, 0, len(specs))
	for _, spec := range specs {
		fn, ok := spec["function"].(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		defs = append(defs, llm.Tool{
			Type: "function",
			Function: &llm.ToolFunction{
				Name:        name,
				Description: desc,
				Parameters:  fn["parameters"],
			},
		})
	}
	return defs
}
