// Exec Tool - run shell commands
//
// Arbitrary command execution has an unknowable footprint, so the tool is
// classified Write/Unconfined: the planner always runs it alone in its own
// batch.
package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/gliderlab/coagent/plan"
	"github.com/google/shlex"
)

type ExecTool struct {
	Root string
}

func (t *ExecTool) Name() string {
	return "exec"
}

func (t *ExecTool) Description() string {
	return "Execute shell commands with timeout control and error handling."
}

func (t *ExecTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeUnconfined}
}

func (t *ExecTool) PathKeys() []string { return nil }

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Command to execute",
			},
			"timeout": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default 30, max 300)",
				"default":     30,
			},
			"workdir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory (default: workspace root)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	command := GetString(args, "command")
	timeout := GetInt(args, "timeout")
	workdir := GetString(args, "workdir")

	if command == "" {
		return nil, &ExecError{Message: "command is required"}
	}

	root := workspaceRoot(t.Root)
	if workdir == "" {
		workdir = root
	}
	workdir, err := resolveInRoot(root, workdir)
	if err != nil {
		return nil, &ExecError{Message: "workdir must be within the workspace"}
	}

	if timeout <= 0 {
		timeout = 30
	}
	if timeout > 300 {
		return nil, &ExecError{Message: "timeout cannot exceed 300 seconds"}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	allowShell := strings.ToLower(strings.TrimSpace(os.Getenv("COAGENT_EXEC_ALLOW_SHELL"))) == "true"
	allowlist := parseAllowlist(os.Getenv("COAGENT_EXEC_ALLOWLIST"))

	// Shell-less execution for simple commands; shell metacharacters require
	// explicit opt-in.
	hasShellChar := strings.ContainsAny(command, "|;&$<>`")
	var cmd *exec.Cmd
	if hasShellChar {
		if !allowShell {
			return nil, &ExecError{Message: "shell features are disabled; use a simple command or enable COAGENT_EXEC_ALLOW_SHELL"}
		}
		if len(allowlist) > 0 && !allowlistPermits(allowlist, command) {
			return nil, &ExecError{Message: "command not in allowlist"}
		}
		if runtime.GOOS == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/c", command)
		} else {
			cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
		}
	} else {
		parts, err := shlex.Split(command)
		if err != nil || len(parts) == 0 {
			return nil, &ExecError{Message: "cannot parse command"}
		}
		if len(allowlist) > 0 {
			if _, ok := allowlist[parts[0]]; !ok {
				return nil, &ExecError{Message: "command not in allowlist"}
			}
		}
		cmd = exec.CommandContext(ctx, parts[0], parts[1:]...)
	}

	cmd.Dir = workdir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := ExecResult{
		Command:  command,
		Timeout:  timeout,
		Workdir:  workdir,
		Success:  runErr == nil,
		ExitCode: -1,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	result.Stdout = Truncate(stdout.String(), 10000)
	result.Stderr = Truncate(stderr.String(), 2000)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &ExecError{
			Message:  "command timed out",
			Metadata: map[string]interface{}{"command": command, "timeout": timeout},
		}
	}

	if runErr != nil {
		result.Error = runErr.Error()
	}

	return result, nil
}

func parseAllowlist(env string) map[string]struct{} {
	allowlist := map[string]struct{}{}
	for _, item := range strings.Split(strings.TrimSpace(env), ",") {
		if name := strings.TrimSpace(item); name != "" {
			allowlist[name] = struct{}{}
		}
	}
	return allowlist
}

func allowlistPermits(allowlist map[string]struct{}, command string) bool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return false
	}
	_, ok := allowlist[parts[0]]
	return ok
}

type ExecResult struct {
	Command  string `json:"command"`
	Timeout  int    `json:"timeout"`
	Workdir  string `json:"workdir,omitempty"`
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

type ExecError struct {
	Message  string
	Metadata map[string]interface{}
}

func (e *ExecError) Error() string {
	return e.Message
}
