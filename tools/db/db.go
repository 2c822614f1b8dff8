// Package db provides a read-only SQL tool over the conversation store.
// The store enforces the statement whitelist and row cap; this tool just
// shapes the result for the model.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/nuagent"
)

// Tool runs read-only queries against the agent's own database.
type Tool struct {
	store nuagent.Store
}

// New creates a db tool backed by store.
func New(store nuagent.Store) *Tool {
	return &Tool{store: store}
}

func (t *Tool) Definitions() []nuagent.ToolDefinition {
	return []nuagent.ToolDefinition{{
		Name:          "query_database",
		Description:   "Run a read-only SQL query (SELECT/SHOW/DESCRIBE/EXPLAIN/WITH) against the conversation database. Tables: conversations, exchanges, messages, text_embedding, app_config, failed_jobs. Results are capped at 500 rows.",
		Parameters:    json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"SQL query to run"}},"required":["query"]}`),
		OperationType: nuagent.OpRead,
		Scope:         nuagent.ScopeConfined,
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (nuagent.ToolResult, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nuagent.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Query) == "" {
		return nuagent.ToolResult{Error: "query is required"}, nil
	}

	// Prefer the transaction-scoped store when running inside a turn.
	store := t.store
	if tc, ok := nuagent.ToolContextFrom(ctx); ok && tc.Store != nil {
		store = tc.Store
	}

	res, err := store.ExecuteReadonlyQuery(ctx, params.Query)
	if err != nil {
		return nuagent.ToolResult{Error: err.Error()}, nil
	}
	return nuagent.ToolResult{Content: render(res)}, nil
}

// render formats a query result as a header line plus tab-separated rows.
func render(res nuagent.QueryResult) string {
	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		b.WriteString("\n")
		for i, v := range row {
			if i > 0 {
				b.WriteString("\t")
			}
			if v == nil {
				b.WriteString("NULL")
				continue
			}
			fmt.Fprintf(&b, "%v", v)
		}
	}
	b.WriteString(fmt.Sprintf("\n(%d rows", len(res.Rows)))
	if res.Truncated {
		b.WriteString(", truncated")
	}
	b.WriteString(")")
	return b.String()
}

var _ nuagent.Tool = (*Tool)(nil)
