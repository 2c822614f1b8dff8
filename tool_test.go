package nuagent

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestAffectedPathsConfined(t *testing.T) {
	reg := testRegistry()
	paths := reg.AffectedPaths(pathCall("read_file", "/tmp/a.txt"))
	if len(paths) != 1 || paths[0] != "/tmp/a.txt" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestAffectedPathsRelativeResolved(t *testing.T) {
	reg := testRegistry()
	paths := reg.AffectedPaths(pathCall("read_file", "sub/../a.txt"))
	if len(paths) != 1 {
		t.Fatalf("unexpected paths: %v", paths)
	}
	if !filepath.IsAbs(paths[0]) {
		t.Fatalf("path not absolute: %s", paths[0])
	}
	if filepath.Base(paths[0]) != "a.txt" {
		t.Fatalf("path not normalized: %s", paths[0])
	}
}

func TestAffectedPathsNilSentinel(t *testing.T) {
	reg := testRegistry()

	// Unconfined tool.
	if got := reg.AffectedPaths(ToolCall{Name: "bash", Args: json.RawMessage(`{"command":"ls"}`)}); got != nil {
		t.Fatalf("expected nil for unconfined tool, got %v", got)
	}
	// Non-filesystem tool (no path params declared).
	if got := reg.AffectedPaths(ToolCall{Name: "query_db", Args: json.RawMessage(`{}`)}); got != nil {
		t.Fatalf("expected nil for non-filesystem tool, got %v", got)
	}
	// Unknown tool.
	if got := reg.AffectedPaths(ToolCall{Name: "nope", Args: json.RawMessage(`{}`)}); got != nil {
		t.Fatalf("expected nil for unknown tool, got %v", got)
	}
}

func TestAffectedPathsEmptyNotNil(t *testing.T) {
	reg := testRegistry()
	got := reg.AffectedPaths(ToolCall{Name: "read_file", Args: json.RawMessage(`{}`)})
	if got == nil {
		t.Fatal("confined tool with no path args must return empty, not nil")
	}
	if len(got) != 0 {
		t.Fatalf("expected empty paths, got %v", got)
	}
}

func TestRegistryExecuteUnknown(t *testing.T) {
	reg := testRegistry()
	res, err := reg.Execute(context.Background(), "missing", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected error result for unknown tool")
	}
}

func TestRegistryExecutePanicRecovered(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(&fakeTool{
		def: ToolDefinition{Name: "boom", OperationType: OpRead, Scope: ScopeConfined},
		exec: func(ctx context.Context, args json.RawMessage) (ToolResult, error) {
			panic("kaboom")
		},
	})
	res, err := reg.Execute(context.Background(), "boom", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("panic must not surface as error: %v", err)
	}
	if res.ExceptionClass != "panic" {
		t.Fatalf("expected panic exception class, got %q", res.ExceptionClass)
	}
}

type unavailableTool struct{ fakeTool }

func (unavailableTool) Available() bool { return false }

func TestRegistryHidesUnavailableTools(t *testing.T) {
	reg := NewToolRegistry()
	reg.Add(&fakeTool{def: ToolDefinition{Name: "always", OperationType: OpRead, Scope: ScopeConfined}})
	reg.Add(&unavailableTool{fakeTool{def: ToolDefinition{Name: "never", OperationType: OpRead, Scope: ScopeConfined}}})

	names := reg.Names()
	if len(names) != 1 || names[0] != "always" {
		t.Fatalf("unexpected names: %v", names)
	}
}
