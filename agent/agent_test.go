package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gliderlab/coagent/pkg/config"
	"github.com/gliderlab/coagent/pkg/llm"
	"github.com/gliderlab/coagent/plan"
	"github.com/gliderlab/coagent/storage"
	"github.com/gliderlab/coagent/tools"
)

// scriptedProvider returns canned responses in order
type scriptedProvider struct {
	responses []*llm.ChatResponse
	requests  []*llm.ChatRequest
}

func (p *scriptedProvider) Name() string              { return "scripted" }
func (p *scriptedProvider) Type() llm.ProviderType    { return "scripted" }
func (p *scriptedProvider) GetConfig() llm.Config     { return llm.Config{} }
func (p *scriptedProvider) Embeddings(ctx context.Context, req *llm.EmbedRequest) (*llm.EmbedResponse, error) {
	return nil, llm.ErrCapabilityNotSupported
}

func (p *scriptedProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.requests = append(p.requests, req)
	if len(p.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
	}
}

func toolCallResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Choices: []llm.Choice{{
			Message:      llm.Message{Role: "assistant", ToolCalls: calls},
			FinishReason: "tool_calls",
		}},
	}
}

func testAgent(t *testing.T, provider llm.Provider) *Agent {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	workspace := t.TempDir()
	registry := tools.NewRegistry()
	registry.Register(&tools.ReadTool{Root: workspace})
	registry.Register(&tools.WriteTool{Root: workspace})
	registry.Register(&tools.ExecTool{Root: workspace})

	return New(Config{
		Provider:   provider,
		Registry:   registry,
		Store:      store,
		SessionKey: "test",
		Workspace:  workspace,
	})
}

func TestChatPlainText(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		textResponse("hello there"),
	}}
	a := testAgent(t, provider)

	reply, err := a.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("Expected scripted reply, got %q", reply)
	}

	// User and assistant turns persisted
	msgs, _ := a.Store().GetMessages("test", 10)
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 persisted messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("Unexpected roles: %s, %s", msgs[0].Role, msgs[1].Role)
	}
}

func TestChatRejectsEmptyInput(t *testing.T) {
	a := testAgent(t, &scriptedProvider{})
	if _, err := a.Chat(context.Background(), "  "); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestChatToolRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:   "call_1",
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      "write",
				Arguments: `{"path":"note.txt","content":"saved"}`,
			},
		}),
		textResponse("done"),
	}}
	a := testAgent(t, provider)

	reply, err := a.Chat(context.Background(), "write a note")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "done" {
		t.Errorf("Expected final reply, got %q", reply)
	}

	// Tool result persisted and correlated by call id
	record, err := a.Store().GetToolResult("call_1")
	if err != nil {
		t.Fatalf("Tool result not persisted: %v", err)
	}
	if record.Tool != "write" {
		t.Errorf("Expected write tool, got %s", record.Tool)
	}
	if record.Error != "" {
		t.Errorf("Expected success, got error %q", record.Error)
	}

	// Follow-up request carried the tool message
	if len(provider.requests) != 2 {
		t.Fatalf("Expected 2 provider calls, got %d", len(provider.requests))
	}
	followUp := provider.requests[1].Messages
	last := followUp[len(followUp)-1]
	if last.Role != "tool" || last.ToolCallID != "call_1" {
		t.Errorf("Expected trailing tool message for call_1, got role=%s id=%s", last.Role, last.ToolCallID)
	}
}

func TestSecondTurnReplaysToolHistory(t *testing.T) {
	// The turn after a tool-using turn rebuilds context from storage; the
	// provider must see the assistant tool_calls message ahead of its tool
	// response, or the request is rejected.
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:   "call_1",
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      "write",
				Arguments: `{"path":"note.txt","content":"saved"}`,
			},
		}),
		textResponse("done"),
		textResponse("second turn reply"),
	}}
	a := testAgent(t, provider)

	if _, err := a.Chat(context.Background(), "write a note"); err != nil {
		t.Fatalf("First turn failed: %v", err)
	}
	if _, err := a.Chat(context.Background(), "thanks"); err != nil {
		t.Fatalf("Second turn failed: %v", err)
	}

	replayed := provider.requests[2].Messages
	callIdx := -1
	for i, m := range replayed {
		if m.Role == "tool" {
			if callIdx == -1 {
				t.Fatalf("Tool message at %d has no preceding assistant tool_calls message", i)
			}
			if m.ToolCallID != "call_1" {
				t.Errorf("Expected tool response for call_1, got %q", m.ToolCallID)
			}
			if i != callIdx+1 {
				t.Errorf("Tool response at %d does not follow its request at %d", i, callIdx)
			}
		}
		if m.Role == "assistant" && len(m.ToolCalls) > 0 {
			callIdx = i
			if m.ToolCalls[0].ID != "call_1" {
				t.Errorf("Expected replayed call_1, got %q", m.ToolCalls[0].ID)
			}
		}
	}
	if callIdx == -1 {
		t.Error("Expected assistant tool_calls message in replayed history")
	}
}

func TestReplayHistoryDropsOrphanFragments(t *testing.T) {
	stored := []storage.Message{
		// Response whose requesting message was compacted away
		{Role: "tool", Content: "stale output", ToolCallID: "call_0"},
		{Role: "user", Content: "hello"},
		// Complete request/response pair
		{Role: "assistant", ToolCalls: `[{"id":"call_1","type":"function","function":{"name":"read","arguments":"{}"}}]`},
		{Role: "tool", Content: "file body", ToolCallID: "call_1"},
		// Request whose responses never landed (cancelled turn)
		{Role: "assistant", Content: "working on it", ToolCalls: `[{"id":"call_2","type":"function","function":{"name":"read","arguments":"{}"}}]`},
		{Role: "user", Content: "still there?"},
	}

	out := replayHistory(stored)

	want := []struct {
		role    string
		content string
		calls   int
	}{
		{"user", "hello", 0},
		{"assistant", "", 1},
		{"tool", "file body", 0},
		{"assistant", "working on it", 0},
		{"user", "still there?", 0},
	}
	if len(out) != len(want) {
		t.Fatalf("Expected %d replayed messages, got %d: %+v", len(want), len(out), out)
	}
	for i, w := range want {
		if out[i].Role != w.role || out[i].Content != w.content || len(out[i].ToolCalls) != w.calls {
			t.Errorf("Position %d: expected %s/%q/%d calls, got %s/%q/%d",
				i, w.role, w.content, w.calls, out[i].Role, out[i].Content, len(out[i].ToolCalls))
		}
	}
}

func TestChatGeneratesMissingCallIDs(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      "write",
				Arguments: `{"path":"a.txt","content":"x"}`,
			},
		}),
		textResponse("ok"),
	}}
	a := testAgent(t, provider)

	if _, err := a.Chat(context.Background(), "go"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	results, _ := a.Store().GetToolResults("test", 10)
	if len(results) != 1 {
		t.Fatalf("Expected 1 tool result, got %d", len(results))
	}
	if !strings.HasPrefix(results[0].CallID, "call_") {
		t.Errorf("Expected generated call id, got %q", results[0].CallID)
	}
}

func TestChatToolErrorFedBack(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse(llm.ToolCall{
			ID:   "call_1",
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      "read",
				Arguments: `{"path":"missing.txt"}`,
			},
		}),
		textResponse("the file is missing"),
	}}
	a := testAgent(t, provider)

	reply, err := a.Chat(context.Background(), "read it")
	if err != nil {
		t.Fatalf("Chat should survive tool errors: %v", err)
	}
	if reply != "the file is missing" {
		t.Errorf("Expected model to see the error, got %q", reply)
	}

	record, _ := a.Store().GetToolResult("call_1")
	if record == nil || record.Error == "" {
		t.Error("Expected persisted tool error")
	}
}

func TestChatDepthBound(t *testing.T) {
	// Model keeps asking for tools forever; the loop must stop
	endless := make([]*llm.ChatResponse, 0, 10)
	for i := 0; i < 10; i++ {
		endless = append(endless, toolCallResponse(llm.ToolCall{
			ID:   fmt.Sprintf("call_%d", i),
			Type: "function",
			Function: &llm.ToolFunction{
				Name:      "write",
				Arguments: fmt.Sprintf(`{"path":"f%d.txt","content":"x"}`, i),
			},
		}))
	}
	provider := &scriptedProvider{responses: endless}

	a := testAgent(t, provider)
	a.cfg.MaxToolDepth = 2

	reply, err := a.Chat(context.Background(), "loop")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply == "" {
		t.Error("Expected a fallback reply at the depth bound")
	}
	if len(provider.requests) != 3 {
		t.Errorf("Expected depth+1 provider calls, got %d", len(provider.requests))
	}
}

func TestChatBatchesIndependentTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		toolCallResponse(
			llm.ToolCall{ID: "c1", Type: "function", Function: &llm.ToolFunction{
				Name: "write", Arguments: `{"path":"a.txt","content":"1"}`}},
			llm.ToolCall{ID: "c2", Type: "function", Function: &llm.ToolFunction{
				Name: "write", Arguments: `{"path":"b.txt","content":"2"}`}},
			llm.ToolCall{ID: "c3", Type: "function", Function: &llm.ToolFunction{
				Name: "exec", Arguments: `{"command":"echo hi"}`}},
		),
		textResponse("all done"),
	}}
	a := testAgent(t, provider)

	// Disjoint writes share a batch; exec is a barrier on its own
	p := a.Engine().Analyze([]plan.Call{
		{ID: "c1", Name: "write", Args: map[string]interface{}{"path": "a.txt"}},
		{ID: "c2", Name: "write", Args: map[string]interface{}{"path": "b.txt"}},
		{ID: "c3", Name: "exec", Args: map[string]interface{}{"command": "echo hi"}},
	})
	if len(p.Batches) != 2 {
		t.Errorf("Expected 2 batches, got %d", len(p.Batches))
	}

	reply, err := a.Chat(context.Background(), "do three things")
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if reply != "all done" {
		t.Errorf("Expected final reply, got %q", reply)
	}

	results, _ := a.Store().GetToolResults("test", 10)
	if len(results) != 3 {
		t.Errorf("Expected 3 tool results, got %d", len(results))
	}
}

func TestTruncateToolOutput(t *testing.T) {
	long := strings.Repeat("x", 40000)
	out := TruncateToolOutput(long, DefaultTruncation)
	if len(out) >= len(long) {
		t.Error("Expected output to shrink")
	}
	// Room for the truncation marker on top of the configured cap
	if len(out) > config.MaxToolOutputChars+100 {
		t.Errorf("Expected output near the %d cap, got %d bytes", config.MaxToolOutputChars, len(out))
	}
	if !strings.Contains(out, "truncated") {
		t.Error("Expected truncation marker")
	}
	if !strings.HasPrefix(out, "xxx") || !strings.HasSuffix(out, "xxx") {
		t.Error("Expected head and tail preserved")
	}

	short := TruncateToolOutput("short", DefaultTruncation)
	if short != "short" {
		t.Errorf("Short output should pass through, got %q", short)
	}
}

func TestCompaction(t *testing.T) {
	provider := &scriptedProvider{responses: []*llm.ChatResponse{
		textResponse("compacted reply"),
	}}
	a := testAgent(t, provider)
	a.cfg.ContextTokens = 200
	a.cfg.ReserveTokens = 50
	a.cfg.CompactionThreshold = 0.5
	a.cfg.KeepMessages = 4

	for i := 0; i < 20; i++ {
		a.Store().AddMessage("test", "user", fmt.Sprintf("message number %d with some padding text", i))
	}

	if _, err := a.Chat(context.Background(), "one more"); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	msgs, _ := a.Store().GetMessages("test", 100)
	// 4 kept + new user + assistant reply
	if len(msgs) > 6 {
		t.Errorf("Expected compacted history, got %d messages", len(msgs))
	}

	summary, err := a.Store().GetConfig("session:test", "summary")
	if err != nil || summary == "" {
		t.Error("Expected compaction summary in config")
	}
	if !strings.Contains(summary, "message number 0") {
		t.Errorf("Expected dropped messages in summary, got %q", summary)
	}
}
