package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/nuagent"
)

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	args, _ := json.Marshal(map[string]string{"path": "test.txt", "content": "hello"})
	result, _ := tool.Execute(context.Background(), "write_file", args)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "test.txt"))
	if string(data) != "hello" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestWriteFileSubdir(t *testing.T) {
	dir := t.TempDir()
	tool := New(dir)
	args, _ := json.Marshal(map[string]string{"path": "sub/dir/file.txt", "content": "nested"})
	result, _ := tool.Execute(context.Background(), "write_file", args)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "sub/dir/file.txt"))
	if string(data) != "nested" {
		t.Errorf("wrong content: %s", data)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "test.txt"), []byte("content here"), 0644)
	tool := New(dir)
	args, _ := json.Marshal(map[string]string{"path": "test.txt"})
	result, _ := tool.Execute(context.Background(), "read_file", args)
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content != "content here" {
		t.Errorf("wrong content: %q", result.Content)
	}
}

func TestReadFileTruncates(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "big.txt"), []byte(strings.Repeat("x", maxReadBytes+100)), 0644)
	tool := New(dir)
	args, _ := json.Marshal(map[string]string{"path": "big.txt"})
	result, _ := tool.Execute(context.Background(), "read_file", args)
	if !strings.HasSuffix(result.Content, "(truncated)") {
		t.Error("large file should be truncated")
	}
}

func TestReadFileMissing(t *testing.T) {
	tool := New(t.TempDir())
	args, _ := json.Marshal(map[string]string{"path": "nope.txt"})
	result, err := tool.Execute(context.Background(), "read_file", args)
	if err != nil {
		t.Fatalf("filesystem failures must be tool errors, not Go errors: %v", err)
	}
	if result.Error == "" {
		t.Error("expected a tool error for a missing file")
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0644)
	os.MkdirAll(filepath.Join(dir, "sub"), 0755)

	tool := New(dir)
	result, _ := tool.Execute(context.Background(), "list_files", json.RawMessage(`{}`))
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Content != "a.txt\nb.txt\nsub/" {
		t.Errorf("wrong listing: %q", result.Content)
	}
}

func TestDefinitionsClassification(t *testing.T) {
	for _, d := range New(t.TempDir()).Definitions() {
		if d.Scope != nuagent.ScopeConfined {
			t.Errorf("%s must be confined", d.Name)
		}
		if len(d.PathParams) == 0 {
			t.Errorf("%s must declare path params", d.Name)
		}
		want := nuagent.OpRead
		if d.Name == "write_file" {
			want = nuagent.OpWrite
		}
		if d.OperationType != want {
			t.Errorf("%s operation = %s, want %s", d.Name, d.OperationType, want)
		}
	}
}
