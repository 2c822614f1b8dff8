// Package file provides confined filesystem tools: read, write, and
// list, with path parameters declared so the scheduler can batch
// non-conflicting calls.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nevindra/nuagent"
)

const maxReadBytes = 8000

// Tool provides file read/write/list rooted at a working directory.
type Tool struct {
	root string
}

// New creates a file tool. Relative paths resolve against root.
func New(root string) *Tool {
	return &Tool{root: root}
}

func (t *Tool) Definitions() []nuagent.ToolDefinition {
	return []nuagent.ToolDefinition{
		{
			Name:          "read_file",
			Description:   "Read a file. Returns the file content (truncated to 8000 chars if large).",
			Parameters:    json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path"}},"required":["path"]}`),
			OperationType: nuagent.OpRead,
			Scope:         nuagent.ScopeConfined,
			PathParams:    []string{"path"},
		},
		{
			Name:          "write_file",
			Description:   "Write content to a file, creating parent directories if needed.",
			Parameters:    json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"File path"},"content":{"type":"string","description":"Content to write"}},"required":["path","content"]}`),
			OperationType: nuagent.OpWrite,
			Scope:         nuagent.ScopeConfined,
			PathParams:    []string{"path"},
		},
		{
			Name:          "list_files",
			Description:   "List the entries of a directory, one name per line. Directories carry a trailing slash.",
			Parameters:    json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory path (default .)"}},"required":[]}`),
			OperationType: nuagent.OpRead,
			Scope:         nuagent.ScopeConfined,
			PathParams:    []string{"path"},
		},
	}
}

func (t *Tool) Execute(ctx context.Context, name string, args json.RawMessage) (nuagent.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nuagent.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	switch name {
	case "read_file":
		return t.read(t.resolve(params.Path))
	case "write_file":
		return t.write(t.resolve(params.Path), params.Content)
	case "list_files":
		return t.list(t.resolve(params.Path))
	default:
		return nuagent.ToolResult{Error: "unknown file tool: " + name}, nil
	}
}

func (t *Tool) resolve(path string) string {
	if path == "" {
		return t.root
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	return filepath.Clean(path)
}

func (t *Tool) read(path string) (nuagent.ToolResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nuagent.ToolResult{Error: "read error: " + err.Error()}, nil
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + "\n... (truncated)"
	}
	return nuagent.ToolResult{Content: content}, nil
}

func (t *Tool) write(path, content string) (nuagent.ToolResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nuagent.ToolResult{Error: "mkdir error: " + err.Error()}, nil
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nuagent.ToolResult{Error: "write error: " + err.Error()}, nil
	}
	return nuagent.ToolResult{Content: fmt.Sprintf("Written %d bytes to %s", len(content), filepath.Base(path))}, nil
}

func (t *Tool) list(path string) (nuagent.ToolResult, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nuagent.ToolResult{Error: "list error: " + err.Error()}, nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nuagent.ToolResult{Content: "(empty directory)"}, nil
	}
	return nuagent.ToolResult{Content: strings.Join(names, "\n")}, nil
}

var _ nuagent.Tool = (*Tool)(nil)
