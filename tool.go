package nuagent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Tool operation types and scopes. A confined tool's effects are bounded
// by the paths named in its PathParams; an unconfined tool (e.g. shell)
// may touch arbitrary state and acts as a scheduling barrier.
const (
	OpRead  = "read"
	OpWrite = "write"

	ScopeConfined   = "confined"
	ScopeUnconfined = "unconfined"
)

// ToolDefinition describes one callable tool function, including the
// classification the dependency scheduler needs.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
	// OperationType is OpRead or OpWrite.
	OperationType string `json:"operation_type"`
	// Scope is ScopeConfined or ScopeUnconfined.
	Scope string `json:"scope"`
	// PathParams names the argument fields that carry filesystem paths.
	// Nil for non-filesystem tools (DB, network, agent-internal); such
	// tools report nil affected paths, distinct from an empty list.
	PathParams []string `json:"-"`
}

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ConditionalTool is an optional capability: tools reporting
// Available() == false are hidden from the registry's definitions.
type ConditionalTool interface {
	Tool
	Available() bool
}

// ToolResult is the outcome of a tool execution. Error carries a
// user-visible message; ExceptionClass names the underlying failure
// type for executor-captured panics and errors.
type ToolResult struct {
	Content        string `json:"content,omitempty"`
	Error          string `json:"error,omitempty"`
	ExceptionClass string `json:"exception_class,omitempty"`
}

// ToolContext carries per-turn data to tools through the context.
type ToolContext struct {
	ConversationID int64
	Model          string
	Store          Store
}

type toolCtxKey struct{}

// WithToolContext returns a child context carrying tc.
func WithToolContext(ctx context.Context, tc ToolContext) context.Context {
	return context.WithValue(ctx, toolCtxKey{}, tc)
}

// ToolContextFrom retrieves the ToolContext from ctx.
func ToolContextFrom(ctx context.Context) (ToolContext, bool) {
	tc, ok := ctx.Value(toolCtxKey{}).(ToolContext)
	return tc, ok
}

// ToolRegistry holds all registered tools and dispatches execution.
// Immutable after construction; tools must be re-entrant.
type ToolRegistry struct {
	tools   []Tool
	workDir string
}

// NewToolRegistry creates an empty registry. Relative paths in tool
// arguments are resolved against the process working directory.
func NewToolRegistry() *ToolRegistry {
	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}
	return &ToolRegistry{workDir: wd}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// Definitions returns definitions from all registered tools, skipping
// tools whose Available() reports false.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		if ct, ok := t.(ConditionalTool); ok && !ct.Available() {
			continue
		}
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Names returns the available tool names in registration order.
func (r *ToolRegistry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Definition returns the definition for name, if registered.
func (r *ToolRegistry) Definition(name string) (ToolDefinition, bool) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return d, true
			}
		}
	}
	return ToolDefinition{}, false
}

// Execute dispatches a tool call by name. Panics inside a tool are
// converted to an error result; no exception escapes.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (result ToolResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = ToolResult{
				Error:          fmt.Sprintf("tool %q panic: %v", name, p),
				ExceptionClass: "panic",
			}
			err = nil
		}
	}()
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{Error: "unknown tool: " + name}, nil
}

// AffectedPaths extracts the absolute filesystem paths a tool call
// touches. Returns nil (the null sentinel) for unknown tools, unconfined
// tools, and tools without path parameters; a confined tool whose
// arguments name no paths yields an empty non-nil slice.
func (r *ToolRegistry) AffectedPaths(tc ToolCall) []string {
	def, ok := r.Definition(tc.Name)
	if !ok || def.Scope == ScopeUnconfined || def.PathParams == nil {
		return nil
	}

	var args map[string]any
	if err := json.Unmarshal(tc.Args, &args); err != nil {
		return []string{}
	}

	paths := []string{}
	for _, param := range def.PathParams {
		switch v := args[param].(type) {
		case string:
			if v != "" {
				paths = append(paths, r.canonical(v))
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && s != "" {
					paths = append(paths, r.canonical(s))
				}
			}
		}
	}
	return paths
}

// canonical resolves p against the working directory and normalizes it
// (removes "."/"..", collapses separators).
func (r *ToolRegistry) canonical(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.workDir, p)
	}
	return filepath.Clean(p)
}
