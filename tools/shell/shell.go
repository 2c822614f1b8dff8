// Package shell provides an unconfined shell execution tool. It is
// classified as an unconfined write, so the scheduler always runs it
// alone as a batch barrier.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/nevindra/nuagent"
)

const (
	maxOutputBytes = 4000
	maxTimeoutSec  = 300
)

// Tool executes shell commands in a working directory.
type Tool struct {
	workDir        string
	defaultTimeout int // seconds
}

// New creates a shell tool. Commands run in workDir with the given
// default timeout in seconds.
func New(workDir string, defaultTimeout int) *Tool {
	if defaultTimeout <= 0 {
		defaultTimeout = 30
	}
	return &Tool{workDir: workDir, defaultTimeout: defaultTimeout}
}

func (t *Tool) Definitions() []nuagent.ToolDefinition {
	return []nuagent.ToolDefinition{{
		Name:          "run_shell",
		Description:   "Execute a shell command. Returns stdout + stderr. Use for running scripts, checking files, or system tasks.",
		Parameters:    json.RawMessage(`{"type":"object","properties":{"command":{"type":"string","description":"Shell command to execute"},"timeout":{"type":"integer","description":"Timeout in seconds (default 30, max 300)"}},"required":["command"]}`),
		OperationType: nuagent.OpWrite,
		Scope:         nuagent.ScopeUnconfined,
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (nuagent.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nuagent.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Command == "" {
		return nuagent.ToolResult{Error: "command is required"}, nil
	}

	timeout := clampTimeout(params.Timeout, t.defaultTimeout)

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", params.Command)
	cmd.Dir = t.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... (truncated)"
	}

	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nuagent.ToolResult{Content: output, Error: fmt.Sprintf("command timed out after %ds", timeout)}, nil
		}
		if output == "" {
			output = err.Error()
		}
		return nuagent.ToolResult{Content: output, Error: "exit: " + err.Error()}, nil
	}

	if output == "" {
		output = "(no output)"
	}
	return nuagent.ToolResult{Content: output}, nil
}

// clampTimeout bounds a requested timeout to [1, 300] seconds, falling
// back to the default when unset.
func clampTimeout(requested, fallback int) int {
	timeout := requested
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout < 1 {
		timeout = 1
	}
	if timeout > maxTimeoutSec {
		timeout = maxTimeoutSec
	}
	return timeout
}

var _ nuagent.Tool = (*Tool)(nil)
