package shell

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nevindra/nuagent"
)

func TestRunShell(t *testing.T) {
	tool := New(t.TempDir(), 30)
	args, _ := json.Marshal(map[string]any{"command": "echo hello"})
	result, err := tool.Execute(context.Background(), "run_shell", args)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Content) != "hello" {
		t.Errorf("wrong output: %q", result.Content)
	}
}

func TestRunShellWorkDir(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir, 30)
	args, _ := json.Marshal(map[string]any{"command": "pwd"})
	result, _ := tool.Execute(context.Background(), "run_shell", args)
	if !strings.Contains(result.Content, dir) {
		t.Errorf("command did not run in workdir: %q", result.Content)
	}
}

func TestRunShellStderrAndExit(t *testing.T) {
	tool := New(t.TempDir(), 30)
	args, _ := json.Marshal(map[string]any{"command": "echo oops >&2; exit 3"})
	result, err := tool.Execute(context.Background(), "run_shell", args)
	if err != nil {
		t.Fatalf("exit codes must be tool errors, not Go errors: %v", err)
	}
	if !strings.Contains(result.Content, "oops") {
		t.Errorf("stderr missing: %q", result.Content)
	}
	if result.Error == "" {
		t.Error("non-zero exit must set the error field")
	}
}

func TestRunShellTimeout(t *testing.T) {
	tool := New(t.TempDir(), 30)
	args, _ := json.Marshal(map[string]any{"command": "sleep 5", "timeout": 1})
	result, _ := tool.Execute(context.Background(), "run_shell", args)
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout error, got %q", result.Error)
	}
}

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		requested, fallback, want int
	}{
		{0, 30, 30},
		{-5, 30, 30},
		{10, 30, 10},
		{500, 30, 300},
		{0, 400, 300},
	}
	for _, tt := range tests {
		if got := clampTimeout(tt.requested, tt.fallback); got != tt.want {
			t.Errorf("clampTimeout(%d, %d) = %d, want %d", tt.requested, tt.fallback, got, tt.want)
		}
	}
}

func TestDefinitionIsBarrier(t *testing.T) {
	d := New(t.TempDir(), 30).Definitions()[0]
	if d.OperationType != nuagent.OpWrite || d.Scope != nuagent.ScopeUnconfined {
		t.Errorf("shell must be an unconfined write: %+v", d)
	}
	if d.PathParams != nil {
		t.Error("shell declares no path params")
	}
}
