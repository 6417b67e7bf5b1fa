// Process Tool - manage long-running processes with optional PTY
//
// Like exec, a managed process can touch anything, so the tool is
// Write/Unconfined and always runs as a solo batch.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/gliderlab/coagent/plan"
	"github.com/google/shlex"
	"github.com/google/uuid"
)

// MaxLogBufferSize limits the output buffer to prevent memory exhaustion
const MaxLogBufferSize = 10 * 1024 * 1024 // 10MB

type processInfo struct {
	ID        string
	Cmd       *exec.Cmd
	Buffer    *bytes.Buffer
	Pty       *os.File
	StdinPipe io.WriteCloser
	Mutex     *sync.Mutex
	CreatedAt time.Time
	ExitCode  int // -1 while running, guarded by Mutex
}

func (p *processInfo) exitCode() int {
	p.Mutex.Lock()
	defer p.Mutex.Unlock()
	return p.ExitCode
}

type lockedWriter struct {
	buf *bytes.Buffer
	mu  *sync.Mutex
	max int
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() >= w.max {
		return len(p), nil // drop, report success
	}
	return w.buf.Write(p)
}

// ProcessTool manages background process sessions. Sessions are kept in the
// tool instance, so one registry shares one session table.
type ProcessTool struct {
	Root string

	mu        sync.RWMutex
	processes map[string]*processInfo
}

func NewProcessTool(root string) *ProcessTool {
	return &ProcessTool{
		Root:      root,
		processes: make(map[string]*processInfo),
	}
}

func (t *ProcessTool) Name() string {
	return "process"
}

func (t *ProcessTool) Description() string {
	return "Manage processes: start (PTY supported), list, tail logs, write stdin, kill."
}

func (t *ProcessTool) Metadata() plan.Metadata {
	return plan.Metadata{Op: plan.OpWrite, Scope: plan.ScopeUnconfined}
}

func (t *ProcessTool) PathKeys() []string { return nil }

func (t *ProcessTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: start, list, log, write, kill",
			},
			"sessionId": map[string]interface{}{
				"type":        "string",
				"description": "Process session ID",
			},
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Command to execute (required for start)",
			},
			"workdir": map[string]interface{}{
				"type":        "string",
				"description": "Working directory",
			},
			"pty": map[string]interface{}{
				"type":        "boolean",
				"description": "Use PTY (interactive terminal)",
				"default":     false,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Log length limit",
			},
			"data": map[string]interface{}{
				"type":        "string",
				"description": "Data to write to stdin",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ProcessTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	switch action := GetString(args, "action"); action {
	case "start":
		return t.start(args)
	case "list":
		return t.list()
	case "log":
		return t.tail(args)
	case "write":
		return t.write(args)
	case "kill":
		return t.kill(args)
	default:
		return nil, fmt.Errorf("unknown action: %s", action)
	}
}

type ProcessStartResult struct {
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	Pty       bool   `json:"pty"`
	Success   bool   `json:"success"`
}

func (t *ProcessTool) start(args map[string]interface{}) (interface{}, error) {
	command := GetString(args, "command")
	workdir := GetString(args, "workdir")
	usePty := GetBool(args, "pty")

	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	parts, err := shlex.Split(command)
	if err != nil || len(parts) == 0 {
		return nil, fmt.Errorf("cannot parse command: %v", err)
	}
	cmd := exec.Command(parts[0], parts[1:]...)

	root := workspaceRoot(t.Root)
	if workdir == "" {
		workdir = root
	}
	resolved, err := resolveInRoot(root, workdir)
	if err != nil {
		return nil, fmt.Errorf("workdir must be within the workspace")
	}
	cmd.Dir = resolved

	var (
		buf       bytes.Buffer
		bufMu     = &sync.Mutex{}
		stdinPipe io.WriteCloser
		ptyFile   *os.File
	)

	if usePty {
		ptyFile, err = pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("failed to start PTY: %v", err)
		}
	} else {
		locked := &lockedWriter{buf: &buf, mu: bufMu, max: MaxLogBufferSize}
		cmd.Stdout = locked
		cmd.Stderr = locked
		stdinPipe, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdin pipe: %v", err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start: %v", err)
		}
	}

	sessionID := "proc_" + uuid.NewString()[:8]
	info := &processInfo{
		ID:        sessionID,
		Cmd:       cmd,
		Buffer:    &buf,
		Pty:       ptyFile,
		StdinPipe: stdinPipe,
		Mutex:     bufMu,
		CreatedAt: time.Now(),
		ExitCode:  -1,
	}

	t.mu.Lock()
	t.processes[sessionID] = info
	t.mu.Unlock()

	log.Printf("[OK] process started: %s (PID: %d, PTY: %v)", sessionID, cmd.Process.Pid, usePty)

	if usePty {
		go t.drainPty(info)
	}
	go t.reap(info)

	return ProcessStartResult{
		SessionID: sessionID,
		PID:       cmd.Process.Pid,
		Command:   command,
		Pty:       usePty,
		Success:   true,
	}, nil
}

func (t *ProcessTool) drainPty(p *processInfo) {
	readBuf := make([]byte, 1024)
	for {
		n, err := p.Pty.Read(readBuf)
		if err != nil {
			return
		}
		p.Mutex.Lock()
		if p.Buffer.Len() < MaxLogBufferSize {
			p.Buffer.Write(readBuf[:n])
		}
		p.Mutex.Unlock()
	}
}

func (t *ProcessTool) reap(p *processInfo) {
	p.Cmd.Wait()
	exitCode := -1
	if p.Cmd.ProcessState != nil {
		exitCode = p.Cmd.ProcessState.ExitCode()
	}
	p.Mutex.Lock()
	p.ExitCode = exitCode
	p.Mutex.Unlock()
	log.Printf("[END] process exited: %s (exit code: %d)", p.ID, exitCode)

	// Keep the entry around briefly for status queries.
	time.AfterFunc(5*time.Minute, func() {
		t.mu.Lock()
		delete(t.processes, p.ID)
		t.mu.Unlock()
	})
}

func (t *ProcessTool) list() (interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	items := make([]map[string]interface{}, 0, len(t.processes))
	for id, p := range t.processes {
		status := "running"
		if p.exitCode() != -1 {
			status = "exited"
		}
		items = append(items, map[string]interface{}{
			"sessionId": id,
			"pid":       p.Cmd.Process.Pid,
			"status":    status,
			"pty":       p.Pty != nil,
			"createdAt": p.CreatedAt.Format(time.RFC3339),
		})
	}
	return items, nil
}

func (t *ProcessTool) tail(args map[string]interface{}) (interface{}, error) {
	p, err := t.lookup(args)
	if err != nil {
		return nil, err
	}
	limit := GetInt(args, "limit")
	if limit <= 0 {
		limit = 4000
	}

	p.Mutex.Lock()
	out := p.Buffer.String()
	exitCode := p.ExitCode
	p.Mutex.Unlock()

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return map[string]interface{}{
		"sessionId": p.ID,
		"log":       out,
		"exitCode":  exitCode,
	}, nil
}

func (t *ProcessTool) write(args map[string]interface{}) (interface{}, error) {
	p, err := t.lookup(args)
	if err != nil {
		return nil, err
	}
	data := GetString(args, "data")

	if p.Pty != nil {
		if _, err := p.Pty.WriteString(data); err != nil {
			return nil, fmt.Errorf("pty write failed: %v", err)
		}
	} else if p.StdinPipe != nil {
		if _, err := io.WriteString(p.StdinPipe, data); err != nil {
			return nil, fmt.Errorf("stdin write failed: %v", err)
		}
	} else {
		return nil, fmt.Errorf("process has no stdin")
	}
	return "ok", nil
}

func (t *ProcessTool) kill(args map[string]interface{}) (interface{}, error) {
	p, err := t.lookup(args)
	if err != nil {
		return nil, err
	}
	if p.Cmd.Process != nil {
		if err := p.Cmd.Process.Kill(); err != nil {
			return nil, fmt.Errorf("kill failed: %v", err)
		}
	}
	return "killed", nil
}

func (t *ProcessTool) lookup(args map[string]interface{}) (*processInfo, error) {
	sessionID := GetString(args, "sessionId")
	if sessionID == "" {
		return nil, fmt.Errorf("sessionId is required")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.processes[sessionID]
	if !ok {
		return nil, fmt.Errorf("process not found: %s", sessionID)
	}
	return p, nil
}
