package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/gliderlab/coagent/plan"
)

func TestExecToolName(t *testing.T) {
	tool := &ExecTool{}
	if tool.Name() != "exec" {
		t.Errorf("Expected 'exec', got '%s'", tool.Name())
	}
}

func TestExecToolParameters(t *testing.T) {
	tool := &ExecTool{}
	params := tool.Parameters()
	if params == nil {
		t.Fatal("Parameters should not be nil")
	}
	props, ok := params["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("properties should be a map")
	}
	if _, ok := props["command"]; !ok {
		t.Error("Should have 'command' parameter")
	}
}

func TestExecToolIsBarrier(t *testing.T) {
	tool := &ExecTool{}
	md := tool.Metadata()
	if md.Op != plan.OpWrite || md.Scope != plan.ScopeUnconfined {
		t.Errorf("Expected unconfined write, got %s/%s", md.Op, md.Scope)
	}
	if !md.IsBarrier() {
		t.Error("exec must run alone in its own batch")
	}
}

func TestExecToolBasic(t *testing.T) {
	tool := &ExecTool{Root: t.TempDir()}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo hello",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	res, ok := result.(ExecResult)
	if !ok {
		t.Fatalf("Expected ExecResult, got %T", result)
	}
	if !res.Success {
		t.Errorf("Expected success, got error %q", res.Error)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("Expected stdout to contain hello, got %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", res.ExitCode)
	}
}

func TestExecToolMissingCommand(t *testing.T) {
	tool := &ExecTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Error("Expected error for missing command")
	}
}

func TestExecToolNonZeroExit(t *testing.T) {
	tool := &ExecTool{Root: t.TempDir()}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "false",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	res := result.(ExecResult)
	if res.Success {
		t.Error("Expected failure for non-zero exit")
	}
	if res.ExitCode != 1 {
		t.Errorf("Expected exit code 1, got %d", res.ExitCode)
	}
}

func TestExecToolShellDisabledByDefault(t *testing.T) {
	t.Setenv("COAGENT_EXEC_ALLOW_SHELL", "")
	tool := &ExecTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo a | cat",
	})
	if err == nil {
		t.Error("Shell metacharacters should be refused without opt-in")
	}
}

func TestExecToolShellOptIn(t *testing.T) {
	t.Setenv("COAGENT_EXEC_ALLOW_SHELL", "true")
	tool := &ExecTool{Root: t.TempDir()}
	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo a | tr a b",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	res := result.(ExecResult)
	if !strings.Contains(res.Stdout, "b") {
		t.Errorf("Expected piped output, got %q", res.Stdout)
	}
}

func TestExecToolAllowlist(t *testing.T) {
	t.Setenv("COAGENT_EXEC_ALLOWLIST", "echo")
	tool := &ExecTool{Root: t.TempDir()}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo ok",
	}); err != nil {
		t.Errorf("Allowlisted command should run: %v", err)
	}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "true",
	}); err == nil {
		t.Error("Non-allowlisted command should be refused")
	}
}

func TestExecToolTimeoutCap(t *testing.T) {
	tool := &ExecTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "echo hi",
		"timeout": 301,
	})
	if err == nil {
		t.Error("Expected error for timeout above cap")
	}
}

func TestExecToolWorkdirJail(t *testing.T) {
	tool := &ExecTool{Root: t.TempDir()}
	_, err := tool.Execute(context.Background(), map[string]interface{}{
		"command": "pwd",
		"workdir": "/etc",
	})
	if err == nil {
		t.Error("Workdir outside the workspace should be refused")
	}
}
