// Package sqlite implements nuagent.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/nuagent"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// maxQueryRows caps ExecuteReadonlyQuery result sets.
const maxQueryRows = 500

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx,
// letting every Store method run either directly or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements nuagent.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done
// in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB // nil on transaction-scoped views
	q      querier
	logger *slog.Logger
}

var _ nuagent.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// WAL mode plus a busy timeout lets concurrent readers proceed while
// one writer holds the database; transaction scopes claim a dedicated
// connection from the pool.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(4)
	s := &Store{db: db, q: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			summary TEXT,
			summary_model TEXT,
			summary_cost REAL
		)`,
		`CREATE TABLE IF NOT EXISTS exchanges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			exchange_number INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			completed_at INTEGER,
			status TEXT NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT,
			summary TEXT,
			summary_model TEXT,
			error TEXT,
			tokens_input INTEGER NOT NULL DEFAULT 0,
			tokens_output INTEGER NOT NULL DEFAULT 0,
			spend REAL NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			tool_call_count INTEGER NOT NULL DEFAULT 0,
			UNIQUE(conversation_id, exchange_number)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			exchange_id INTEGER NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			tokens_input INTEGER,
			tokens_output INTEGER,
			spend REAL,
			tool_calls TEXT,
			tool_call_id TEXT,
			tool_result TEXT,
			error TEXT,
			redacted INTEGER NOT NULL DEFAULT 0,
			include_in_context INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS text_embedding (
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			PRIMARY KEY (kind, source)
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS failed_jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_type TEXT NOT NULL,
			ref_id INTEGER,
			payload TEXT,
			error TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			failed_at INTEGER NOT NULL
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.q.ExecContext(ctx, ddl); err != nil {
			return storeErr("init", err)
		}
	}

	// Indexes on frequently queried columns.
	_, _ = s.q.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`)
	_, _ = s.q.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_exchange ON messages(exchange_id)`)
	_, _ = s.q.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id)`)

	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// Transaction runs fn against a transaction-scoped view of the store on
// a dedicated connection. Commits when fn returns nil; rolls back when
// fn returns an error or panics (the panic is re-raised).
func (s *Store) Transaction(ctx context.Context, fn func(tx nuagent.Store) error) error {
	if s.db == nil {
		return &nuagent.ErrInvalidArgument{Message: "nested transaction"}
	}
	start := time.Now()
	s.logger.Debug("sqlite: transaction begin")

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return storeErr("transaction begin", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("transaction begin", err)
	}

	view := &Store{q: tx, logger: s.logger}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
			s.logger.Debug("sqlite: transaction rolled back (panic)", "duration", time.Since(start))
		}
	}()

	if err := fn(view); err != nil {
		done = true
		_ = tx.Rollback()
		s.logger.Debug("sqlite: transaction rolled back", "error", err, "duration", time.Since(start))
		return err
	}
	done = true
	if err := tx.Commit(); err != nil {
		return storeErr("transaction commit", err)
	}
	s.logger.Debug("sqlite: transaction committed", "duration", time.Since(start))
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context) (int64, error) {
	start := time.Now()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO conversations (created_at, status) VALUES (?, 'active')`,
		time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: create conversation failed", "error", err, "duration", time.Since(start))
		return 0, storeErr("create conversation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("create conversation", err)
	}
	s.logger.Debug("sqlite: create conversation ok", "id", id, "duration", time.Since(start))
	return id, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (nuagent.Conversation, error) {
	var c nuagent.Conversation
	var summary, summaryModel sql.NullString
	var summaryCost sql.NullFloat64
	err := s.q.QueryRowContext(ctx,
		`SELECT id, created_at, title, status, summary, summary_model, summary_cost
		 FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.CreatedAt, &c.Title, &c.Status, &summary, &summaryModel, &summaryCost)
	if err == sql.ErrNoRows {
		return c, &nuagent.ErrInvalidArgument{Message: fmt.Sprintf("conversation %d not found", id)}
	}
	if err != nil {
		return c, storeErr("get conversation", err)
	}
	c.Summary = summary.String
	c.SummaryModel = summaryModel.String
	c.SummaryCost = summaryCost.Float64
	return c, nil
}

func (s *Store) SetConversationSummary(ctx context.Context, id int64, summary, model string, cost float64) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx,
		`UPDATE conversations SET summary = ?, summary_model = ?, summary_cost = ? WHERE id = ?`,
		summary, model, cost, id,
	)
	if err != nil {
		s.logger.Error("sqlite: set conversation summary failed", "id", id, "error", err, "duration", time.Since(start))
		return storeErr("set conversation summary", err)
	}
	s.logger.Debug("sqlite: set conversation summary ok", "id", id, "duration", time.Since(start))
	return nil
}

func (s *Store) ArchiveConversation(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE conversations SET status = 'archived' WHERE id = ?`, id)
	if err != nil {
		return storeErr("archive conversation", err)
	}
	s.logger.Debug("sqlite: archive conversation ok", "id", id)
	return nil
}

// --- Exchanges ---

func (s *Store) CreateExchange(ctx context.Context, convID int64, userMessage string) (nuagent.Exchange, error) {
	start := time.Now()
	s.logger.Debug("sqlite: create exchange", "conversation_id", convID)

	now := time.Now().Unix()
	// The subselect keeps exchange_number gap-free per conversation; the
	// UNIQUE constraint rejects a racing writer so the caller can retry.
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO exchanges (conversation_id, exchange_number, started_at, status, user_message)
		 SELECT ?, COALESCE(MAX(exchange_number), 0) + 1, ?, 'in_progress', ?
		 FROM exchanges WHERE conversation_id = ?`,
		convID, now, userMessage, convID,
	)
	if err != nil {
		s.logger.Error("sqlite: create exchange failed", "conversation_id", convID, "error", err, "duration", time.Since(start))
		return nuagent.Exchange{}, storeErr("create exchange", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nuagent.Exchange{}, storeErr("create exchange", err)
	}
	ex, err := s.GetExchange(ctx, id)
	if err != nil {
		return nuagent.Exchange{}, err
	}
	s.logger.Debug("sqlite: create exchange ok", "id", id, "number", ex.ExchangeNumber, "duration", time.Since(start))
	return ex, nil
}

func (s *Store) GetExchange(ctx context.Context, id int64) (nuagent.Exchange, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, conversation_id, exchange_number, started_at, completed_at, status,
		        user_message, assistant_message, summary, summary_model, error,
		        tokens_input, tokens_output, spend, message_count, tool_call_count
		 FROM exchanges WHERE id = ?`, id)
	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return ex, &nuagent.ErrInvalidArgument{Message: fmt.Sprintf("exchange %d not found", id)}
	}
	if err != nil {
		return ex, storeErr("get exchange", err)
	}
	return ex, nil
}

func (s *Store) UpdateExchange(ctx context.Context, id int64, upd nuagent.ExchangeUpdate) error {
	start := time.Now()

	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.Summary != nil {
		set("summary", *upd.Summary)
	}
	if upd.SummaryModel != nil {
		set("summary_model", *upd.SummaryModel)
	}
	if upd.Error != nil {
		set("error", *upd.Error)
	}
	if upd.AssistantMessage != nil {
		set("assistant_message", *upd.AssistantMessage)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if upd.TokensInput != nil {
		set("tokens_input", *upd.TokensInput)
	}
	if upd.TokensOutput != nil {
		set("tokens_output", *upd.TokensOutput)
	}
	if upd.Spend != nil {
		set("spend", *upd.Spend)
	}
	if upd.MessageCount != nil {
		set("message_count", *upd.MessageCount)
	}
	if upd.ToolCallCount != nil {
		set("tool_call_count", *upd.ToolCallCount)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.q.ExecContext(ctx,
		`UPDATE exchanges SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		s.logger.Error("sqlite: update exchange failed", "id", id, "error", err, "duration", time.Since(start))
		return storeErr("update exchange", err)
	}
	s.logger.Debug("sqlite: update exchange ok", "id", id, "fields", len(sets), "duration", time.Since(start))
	return nil
}

func (s *Store) CompleteExchange(ctx context.Context, id int64, assistantMessage string, m nuagent.ExchangeMetrics) error {
	start := time.Now()
	_, err := s.q.ExecContext(ctx,
		`UPDATE exchanges
		 SET status = 'completed', completed_at = ?, assistant_message = ?,
		     tokens_input = ?, tokens_output = ?, spend = ?, message_count = ?, tool_call_count = ?
		 WHERE id = ?`,
		time.Now().Unix(), assistantMessage,
		m.TokensInput, m.TokensOutput, m.Spend, m.MessageCount, m.ToolCallCount, id,
	)
	if err != nil {
		s.logger.Error("sqlite: complete exchange failed", "id", id, "error", err, "duration", time.Since(start))
		return storeErr("complete exchange", err)
	}
	s.logger.Debug("sqlite: complete exchange ok", "id", id,
		"tokens_in", m.TokensInput, "tokens_out", m.TokensOutput, "duration", time.Since(start))
	return nil
}

func (s *Store) SetExchangeSummary(ctx context.Context, id int64, summary, model string) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE exchanges SET summary = ?, summary_model = ? WHERE id = ?`,
		summary, model, id,
	)
	if err != nil {
		return storeErr("set exchange summary", err)
	}
	s.logger.Debug("sqlite: set exchange summary ok", "id", id)
	return nil
}

// --- Messages ---

func (s *Store) AddMessage(ctx context.Context, msg nuagent.Message) (int64, error) {
	start := time.Now()
	s.logger.Debug("sqlite: add message",
		"conversation_id", msg.ConversationID, "exchange_id", msg.ExchangeID,
		"role", msg.Role, "redacted", msg.Redacted)

	var toolCallsJSON *string
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return 0, &nuagent.ErrInvalidArgument{Message: "unserializable tool calls: " + err.Error()}
		}
		v := string(data)
		toolCallsJSON = &v
	}
	var toolResultJSON *string
	if msg.ToolResult != nil {
		data, err := json.Marshal(msg.ToolResult)
		if err != nil {
			return 0, &nuagent.ErrInvalidArgument{Message: "unserializable tool result: " + err.Error()}
		}
		v := string(data)
		toolResultJSON = &v
	}

	createdAt := msg.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO messages (conversation_id, exchange_id, actor, role, content, model,
		                       tokens_input, tokens_output, spend, tool_calls, tool_call_id,
		                       tool_result, error, redacted, include_in_context, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ConversationID, msg.ExchangeID, msg.Actor, msg.Role, msg.Content,
		nullStr(msg.Model), msg.TokensInput, msg.TokensOutput, msg.Spend,
		toolCallsJSON, nullStr(msg.ToolCallID), toolResultJSON, nullStr(msg.Error),
		boolInt(msg.Redacted), boolInt(msg.IncludeInContext), createdAt,
	)
	if err != nil {
		s.logger.Error("sqlite: add message failed", "error", err, "duration", time.Since(start))
		return 0, storeErr("add message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("add message", err)
	}
	s.logger.Debug("sqlite: add message ok", "id", id, "duration", time.Since(start))
	return id, nil
}

func (s *Store) Messages(ctx context.Context, convID int64, since int64, inContextOnly bool) ([]nuagent.Message, error) {
	start := time.Now()
	query := messageSelect + ` WHERE conversation_id = ? AND created_at >= ?`
	if inContextOnly {
		query += ` AND include_in_context = 1`
	}
	query += ` ORDER BY id ASC`

	rows, err := s.q.QueryContext(ctx, query, convID, since)
	if err != nil {
		s.logger.Error("sqlite: get messages failed", "conversation_id", convID, "error", err, "duration", time.Since(start))
		return nil, storeErr("get messages", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("sqlite: get messages ok", "conversation_id", convID, "count", len(msgs), "duration", time.Since(start))
	return msgs, nil
}

func (s *Store) MessagesSince(ctx context.Context, convID int64, afterID int64) ([]nuagent.Message, error) {
	rows, err := s.q.QueryContext(ctx,
		messageSelect+` WHERE conversation_id = ? AND id > ? ORDER BY id ASC`,
		convID, afterID,
	)
	if err != nil {
		return nil, storeErr("get messages since", err)
	}
	return scanMessages(rows)
}

func (s *Store) SessionTokens(ctx context.Context, convID int64, since int64) (nuagent.SessionTokens, error) {
	var t nuagent.SessionTokens
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(tokens_input), 0), COALESCE(SUM(tokens_output), 0), COALESCE(SUM(spend), 0)
		 FROM messages WHERE conversation_id = ? AND created_at >= ?`,
		convID, since,
	).Scan(&t.Input, &t.Output, &t.Spend)
	if err != nil {
		return t, storeErr("session tokens", err)
	}
	t.Total = t.Input + t.Output
	return t, nil
}

// --- Worker gauge ---

const workersKey = "active_workers"

func (s *Store) IncrementWorkers(ctx context.Context) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, '1')
		 ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`,
		workersKey,
	)
	if err != nil {
		return storeErr("increment workers", err)
	}
	return nil
}

func (s *Store) DecrementWorkers(ctx context.Context) error {
	// MAX() clamps the gauge at zero.
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO app_config (key, value) VALUES (?, '0')
		 ON CONFLICT(key) DO UPDATE SET value = CAST(MAX(CAST(value AS INTEGER) - 1, 0) AS TEXT)`,
		workersKey,
	)
	if err != nil {
		return storeErr("decrement workers", err)
	}
	return nil
}

func (s *Store) WorkersIdle(ctx context.Context) (bool, error) {
	n, err := s.ConfigInt(ctx, workersKey, 0)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// --- Background work queries ---

func (s *Store) UnsummarizedConversations(ctx context.Context, excludeID int64) ([]nuagent.Conversation, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, created_at, title, status, summary, summary_model, summary_cost
		 FROM conversations
		 WHERE summary IS NULL AND id != ?
		   AND EXISTS (SELECT 1 FROM exchanges e WHERE e.conversation_id = conversations.id)
		 ORDER BY created_at DESC`,
		excludeID,
	)
	if err != nil {
		return nil, storeErr("unsummarized conversations", err)
	}
	return scanConversations(rows)
}

func (s *Store) UnsummarizedExchanges(ctx context.Context, excludeConvID int64) ([]nuagent.Exchange, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, conversation_id, exchange_number, started_at, completed_at, status,
		        user_message, assistant_message, summary, summary_model, error,
		        tokens_input, tokens_output, spend, message_count, tool_call_count
		 FROM exchanges
		 WHERE status = 'completed' AND summary IS NULL AND conversation_id != ?
		 ORDER BY id ASC`,
		excludeConvID,
	)
	if err != nil {
		return nil, storeErr("unsummarized exchanges", err)
	}
	return scanExchanges(rows)
}

func (s *Store) ConversationsNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]nuagent.Conversation, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT c.id, c.created_at, c.title, c.status, c.summary, c.summary_model, c.summary_cost
		 FROM conversations c
		 WHERE c.summary IS NOT NULL AND c.id != ?
		   AND NOT EXISTS (
		     SELECT 1 FROM text_embedding t
		     WHERE t.kind = 'conversation' AND t.source = CAST(c.id AS TEXT))
		 ORDER BY c.id ASC`,
		excludeConvID,
	)
	if err != nil {
		return nil, storeErr("conversations needing embeddings", err)
	}
	return scanConversations(rows)
}

func (s *Store) ExchangesNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]nuagent.Exchange, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT e.id, e.conversation_id, e.exchange_number, e.started_at, e.completed_at, e.status,
		        e.user_message, e.assistant_message, e.summary, e.summary_model, e.error,
		        e.tokens_input, e.tokens_output, e.spend, e.message_count, e.tool_call_count
		 FROM exchanges e
		 WHERE e.summary IS NOT NULL AND e.conversation_id != ?
		   AND NOT EXISTS (
		     SELECT 1 FROM text_embedding t
		     WHERE t.kind = 'exchange' AND t.source = CAST(e.id AS TEXT))
		 ORDER BY e.id ASC`,
		excludeConvID,
	)
	if err != nil {
		return nil, storeErr("exchanges needing embeddings", err)
	}
	return scanExchanges(rows)
}

// --- Embeddings ---

func (s *Store) StoreEmbeddings(ctx context.Context, kind string, records []nuagent.EmbeddingRecord) error {
	start := time.Now()
	s.logger.Debug("sqlite: store embeddings", "kind", kind, "count", len(records))

	for _, rec := range records {
		indexedAt := rec.IndexedAt
		if indexedAt == 0 {
			indexedAt = time.Now().Unix()
		}
		_, err := s.q.ExecContext(ctx,
			`INSERT INTO text_embedding (kind, source, content, embedding, indexed_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(kind, source) DO NOTHING`,
			kind, rec.Source, rec.Content, serializeEmbedding(rec.Embedding), indexedAt,
		)
		if err != nil {
			s.logger.Error("sqlite: store embeddings failed", "kind", kind, "source", rec.Source, "error", err)
			return storeErr("store embeddings", err)
		}
	}
	s.logger.Debug("sqlite: store embeddings ok", "kind", kind, "count", len(records), "duration", time.Since(start))
	return nil
}

// SearchEmbeddings performs brute-force cosine similarity search within one kind.
func (s *Store) SearchEmbeddings(ctx context.Context, kind string, embedding []float32, topK int) ([]nuagent.ScoredEmbedding, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search embeddings", "kind", kind, "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.q.QueryContext(ctx,
		`SELECT kind, source, content, embedding, indexed_at FROM text_embedding WHERE kind = ?`,
		kind,
	)
	if err != nil {
		s.logger.Error("sqlite: search embeddings failed", "kind", kind, "error", err, "duration", time.Since(start))
		return nil, storeErr("search embeddings", err)
	}
	defer rows.Close()

	var results []nuagent.ScoredEmbedding
	scanned := 0
	for rows.Next() {
		var rec nuagent.EmbeddingRecord
		var embJSON string
		if err := rows.Scan(&rec.Kind, &rec.Source, &rec.Content, &embJSON, &rec.IndexedAt); err != nil {
			return nil, storeErr("scan embedding", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		rec.Embedding = stored
		results = append(results, nuagent.ScoredEmbedding{
			EmbeddingRecord: rec,
			Score:           cosineSimilarity(embedding, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate embeddings", err)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search embeddings ok", "kind", kind, "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// --- Maintenance ---

// corruptedArgs is the argument blob a legacy redaction bug wrote over
// tool call arguments.
const corruptedArgs = `{"redacted":true}`

func (s *Store) FindCorruptedMessages(ctx context.Context) ([]nuagent.Message, error) {
	rows, err := s.q.QueryContext(ctx,
		messageSelect+` WHERE tool_calls IS NOT NULL AND tool_calls LIKE '%"redacted"%' ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr("find corrupted messages", err)
	}
	candidates, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	var corrupted []nuagent.Message
	for _, m := range candidates {
		for _, tc := range m.ToolCalls {
			if compactJSON(tc.Args) == corruptedArgs {
				corrupted = append(corrupted, m)
				break
			}
		}
	}
	return corrupted, nil
}

func (s *Store) DeleteCorruptedMessages(ctx context.Context) (int, error) {
	msgs, err := s.FindCorruptedMessages(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if _, err := s.q.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, m.ID); err != nil {
			return 0, storeErr("delete corrupted messages", err)
		}
	}
	s.logger.Debug("sqlite: delete corrupted messages ok", "count", len(msgs))
	return len(msgs), nil
}

func (s *Store) InsertFailedJob(ctx context.Context, job nuagent.FailedJob) error {
	failedAt := job.FailedAt
	if failedAt == 0 {
		failedAt = time.Now().Unix()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO failed_jobs (job_type, ref_id, payload, error, retry_count, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.JobType, job.RefID, nullStr(job.Payload), job.Error, job.RetryCount, failedAt,
	)
	if err != nil {
		return storeErr("insert failed job", err)
	}
	s.logger.Debug("sqlite: insert failed job ok", "job_type", job.JobType, "ref_id", job.RefID)
	return nil
}

// readonlyPrefixes is the whitelist of statement-leading keywords
// ExecuteReadonlyQuery accepts.
var readonlyPrefixes = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"}

func (s *Store) ExecuteReadonlyQuery(ctx context.Context, query string) (nuagent.QueryResult, error) {
	start := time.Now()

	first := strings.ToUpper(firstToken(query))
	allowed := false
	for _, p := range readonlyPrefixes {
		if first == p {
			allowed = true
			break
		}
	}
	if !allowed {
		return nuagent.QueryResult{}, &nuagent.ErrInvalidArgument{
			Message: fmt.Sprintf("only read-only queries are allowed, got %q", first),
		}
	}

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		s.logger.Error("sqlite: readonly query failed", "error", err, "duration", time.Since(start))
		return nuagent.QueryResult{}, storeErr("readonly query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nuagent.QueryResult{}, storeErr("readonly query columns", err)
	}
	result := nuagent.QueryResult{Columns: cols}
	for rows.Next() {
		if len(result.Rows) >= maxQueryRows {
			result.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nuagent.QueryResult{}, storeErr("readonly query scan", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nuagent.QueryResult{}, storeErr("readonly query iterate", err)
	}
	s.logger.Debug("sqlite: readonly query ok", "rows", len(result.Rows), "truncated", result.Truncated, "duration", time.Since(start))
	return result, nil
}

// --- Config ---

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRowContext(ctx, `SELECT value FROM app_config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get config", err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO app_config (key, value) VALUES (?, ?)`,
		key, value,
	)
	if err != nil {
		return storeErr("set config", err)
	}
	s.logger.Debug("sqlite: set config ok", "key", key)
	return nil
}

func (s *Store) ConfigBool(ctx context.Context, key string, fallback bool) (bool, error) {
	v, err := s.GetConfig(ctx, key)
	if err != nil || v == "" {
		return fallback, err
	}
	switch strings.ToLower(v) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return fallback, &nuagent.ErrConfig{Key: key, Message: fmt.Sprintf("not a boolean: %q", v)}
}

func (s *Store) ConfigInt(ctx context.Context, key string, fallback int) (int, error) {
	v, err := s.GetConfig(ctx, key)
	if err != nil || v == "" {
		return fallback, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, &nuagent.ErrConfig{Key: key, Message: fmt.Sprintf("not an integer: %q", v)}
	}
	return n, nil
}

func (s *Store) ConfigFloat(ctx context.Context, key string, fallback float64) (float64, error) {
	v, err := s.GetConfig(ctx, key)
	if err != nil || v == "" {
		return fallback, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback, &nuagent.ErrConfig{Key: key, Message: fmt.Sprintf("not a number: %q", v)}
	}
	return f, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Debug("sqlite: store closing")
	return s.db.Close()
}

// --- scan helpers ---

const messageSelect = `SELECT id, conversation_id, exchange_id, actor, role, content, model,
	tokens_input, tokens_output, spend, tool_calls, tool_call_id, tool_result, error,
	redacted, include_in_context, created_at FROM messages`

func scanMessages(rows *sql.Rows) ([]nuagent.Message, error) {
	defer rows.Close()
	var msgs []nuagent.Message
	for rows.Next() {
		var m nuagent.Message
		var model, toolCalls, toolCallID, toolResult, errText sql.NullString
		var tokensIn, tokensOut sql.NullInt64
		var spend sql.NullFloat64
		var redacted, inContext int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ExchangeID, &m.Actor, &m.Role, &m.Content,
			&model, &tokensIn, &tokensOut, &spend, &toolCalls, &toolCallID, &toolResult, &errText,
			&redacted, &inContext, &m.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		m.Model = model.String
		m.TokensInput = int(tokensIn.Int64)
		m.TokensOutput = int(tokensOut.Int64)
		m.Spend = spend.Float64
		m.ToolCallID = toolCallID.String
		m.Error = errText.String
		m.Redacted = redacted != 0
		m.IncludeInContext = inContext != 0
		if toolCalls.Valid {
			_ = json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls)
		}
		if toolResult.Valid {
			var tr nuagent.ToolResultRecord
			if json.Unmarshal([]byte(toolResult.String), &tr) == nil {
				m.ToolResult = &tr
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}
	return msgs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (nuagent.Exchange, error) {
	var ex nuagent.Exchange
	var completedAt sql.NullInt64
	var assistantMsg, summary, summaryModel, errText sql.NullString
	err := row.Scan(&ex.ID, &ex.ConversationID, &ex.ExchangeNumber, &ex.StartedAt, &completedAt,
		&ex.Status, &ex.UserMessage, &assistantMsg, &summary, &summaryModel, &errText,
		&ex.TokensInput, &ex.TokensOutput, &ex.Spend, &ex.MessageCount, &ex.ToolCallCount)
	if err != nil {
		return ex, err
	}
	ex.CompletedAt = completedAt.Int64
	ex.AssistantMessage = assistantMsg.String
	ex.Summary = summary.String
	ex.SummaryModel = summaryModel.String
	ex.Error = errText.String
	return ex, nil
}

func scanExchanges(rows *sql.Rows) ([]nuagent.Exchange, error) {
	defer rows.Close()
	var exs []nuagent.Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, storeErr("scan exchange", err)
		}
		exs = append(exs, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate exchanges", err)
	}
	return exs, nil
}

func scanConversations(rows *sql.Rows) ([]nuagent.Conversation, error) {
	defer rows.Close()
	var convs []nuagent.Conversation
	for rows.Next() {
		var c nuagent.Conversation
		var summary, summaryModel sql.NullString
		var summaryCost sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.Title, &c.Status, &summary, &summaryModel, &summaryCost); err != nil {
			return nil, storeErr("scan conversation", err)
		}
		c.Summary = summary.String
		c.SummaryModel = summaryModel.String
		c.SummaryCost = summaryCost.Float64
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate conversations", err)
	}
	return convs, nil
}

// --- small helpers ---

func storeErr(op string, err error) error {
	return &nuagent.ErrStore{Op: op, Err: err}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstToken(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func compactJSON(raw json.RawMessage) string {
	var buf strings.Builder
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimSpace(buf.String())
}

// serializeEmbedding converts a vector to JSON text for storage.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a stored JSON vector.
func deserializeEmbedding(s string) ([]float32, error) {
	var embedding []float32
	if err := json.Unmarshal([]byte(s), &embedding); err != nil {
		return nil, fmt.Errorf("deserialize embedding: %w", err)
	}
	return embedding, nil
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 when dimensions differ or either vector is zero.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
