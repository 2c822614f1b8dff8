// Package postgres implements nuagent.Store using PostgreSQL with
// pgvector for native vector similarity search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/nuagent"
)

const maxQueryRows = 500

// StoreOption configures a PostgreSQL Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector. Only
// affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) StoreOption {
	return func(s *Store) { s.embeddingDim = dim }
}

// querier is the pgx surface shared by *pgxpool.Pool and pgx.Tx, letting
// every Store method run either directly or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements nuagent.Store backed by PostgreSQL with pgvector.
type Store struct {
	pool         *pgxpool.Pool // nil on transaction-scoped views
	q            querier
	logger       *slog.Logger
	embeddingDim int
}

var _ nuagent.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool, q: pool, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) vectorType() string {
	if s.embeddingDim > 0 {
		return fmt.Sprintf("vector(%d)", s.embeddingDim)
	}
	return "vector"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			created_at BIGINT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			summary TEXT,
			summary_model TEXT,
			summary_cost DOUBLE PRECISION
		)`,

		`CREATE TABLE IF NOT EXISTS exchanges (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			exchange_number BIGINT NOT NULL,
			started_at BIGINT NOT NULL,
			completed_at BIGINT,
			status TEXT NOT NULL,
			user_message TEXT NOT NULL,
			assistant_message TEXT,
			summary TEXT,
			summary_model TEXT,
			error TEXT,
			tokens_input BIGINT NOT NULL DEFAULT 0,
			tokens_output BIGINT NOT NULL DEFAULT 0,
			spend DOUBLE PRECISION NOT NULL DEFAULT 0,
			message_count BIGINT NOT NULL DEFAULT 0,
			tool_call_count BIGINT NOT NULL DEFAULT 0,
			UNIQUE (conversation_id, exchange_number)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			conversation_id BIGINT NOT NULL,
			exchange_id BIGINT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model TEXT,
			tokens_input BIGINT,
			tokens_output BIGINT,
			spend DOUBLE PRECISION,
			tool_calls JSONB,
			tool_call_id TEXT,
			tool_result JSONB,
			error TEXT,
			redacted BOOLEAN NOT NULL DEFAULT FALSE,
			include_in_context BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS text_embedding (
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding ` + s.vectorType() + ` NOT NULL,
			indexed_at BIGINT NOT NULL,
			PRIMARY KEY (kind, source)
		)`,

		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS failed_jobs (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			job_type TEXT NOT NULL,
			ref_id BIGINT,
			payload TEXT,
			error TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			failed_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_exchange ON messages(exchange_id)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_conversation ON exchanges(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.Exec(ctx, stmt); err != nil {
			return storeErr("init", err)
		}
	}
	s.logger.Debug("postgres: init ok")
	return nil
}

// Transaction runs fn against a transaction-scoped view of the store.
// Commits when fn returns nil; rolls back when fn returns an error or
// panics (the panic is re-raised).
func (s *Store) Transaction(ctx context.Context, fn func(tx nuagent.Store) error) error {
	if s.pool == nil {
		return &nuagent.ErrInvalidArgument{Message: "nested transaction"}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("transaction begin", err)
	}
	view := &Store{q: tx, logger: s.logger, embeddingDim: s.embeddingDim}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(view); err != nil {
		done = true
		_ = tx.Rollback(ctx)
		return err
	}
	done = true
	if err := tx.Commit(ctx); err != nil {
		return storeErr("transaction commit", err)
	}
	return nil
}

// --- Conversations ---

func (s *Store) CreateConversation(ctx context.Context) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO conversations (created_at, status) VALUES ($1, 'active') RETURNING id`,
		time.Now().Unix(),
	).Scan(&id)
	if err != nil {
		return 0, storeErr("create conversation", err)
	}
	s.logger.Debug("postgres: create conversation ok", "id", id)
	return id, nil
}

func (s *Store) GetConversation(ctx context.Context, id int64) (nuagent.Conversation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, created_at, title, status, summary, summary_model, summary_cost
		 FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err == pgx.ErrNoRows {
		return c, &nuagent.ErrInvalidArgument{Message: fmt.Sprintf("conversation %d not found", id)}
	}
	if err != nil {
		return c, storeErr("get conversation", err)
	}
	return c, nil
}

func (s *Store) SetConversationSummary(ctx context.Context, id int64, summary, model string, cost float64) error {
	_, err := s.q.Exec(ctx,
		`UPDATE conversations SET summary = $1, summary_model = $2, summary_cost = $3 WHERE id = $4`,
		summary, model, cost, id)
	if err != nil {
		return storeErr("set conversation summary", err)
	}
	return nil
}

func (s *Store) ArchiveConversation(ctx context.Context, id int64) error {
	_, err := s.q.Exec(ctx, `UPDATE conversations SET status = 'archived' WHERE id = $1`, id)
	if err != nil {
		return storeErr("archive conversation", err)
	}
	return nil
}

// --- Exchanges ---

func (s *Store) CreateExchange(ctx context.Context, convID int64, userMessage string) (nuagent.Exchange, error) {
	// The subselect keeps exchange_number gap-free per conversation; the
	// UNIQUE constraint rejects a racing writer so the caller can retry.
	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO exchanges (conversation_id, exchange_number, started_at, status, user_message)
		 SELECT $1, COALESCE(MAX(exchange_number), 0) + 1, $2, 'in_progress', $3
		 FROM exchanges WHERE conversation_id = $1
		 RETURNING id`,
		convID, time.Now().Unix(), userMessage,
	).Scan(&id)
	if err != nil {
		return nuagent.Exchange{}, storeErr("create exchange", err)
	}
	return s.GetExchange(ctx, id)
}

const exchangeColumns = `id, conversation_id, exchange_number, started_at, completed_at, status,
	user_message, assistant_message, summary, summary_model, error,
	tokens_input, tokens_output, spend, message_count, tool_call_count`

func (s *Store) GetExchange(ctx context.Context, id int64) (nuagent.Exchange, error) {
	row := s.q.QueryRow(ctx, `SELECT `+exchangeColumns+` FROM exchanges WHERE id = $1`, id)
	ex, err := scanExchange(row)
	if err == pgx.ErrNoRows {
		return ex, &nuagent.ErrInvalidArgument{Message: fmt.Sprintf("exchange %d not found", id)}
	}
	if err != nil {
		return ex, storeErr("get exchange", err)
	}
	return ex, nil
}

func (s *Store) UpdateExchange(ctx context.Context, id int64, upd nuagent.ExchangeUpdate) error {
	var sets []string
	var args []any
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
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
	_, err := s.q.Exec(ctx,
		fmt.Sprintf(`UPDATE exchanges SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...)
	if err != nil {
		return storeErr("update exchange", err)
	}
	return nil
}

func (s *Store) CompleteExchange(ctx context.Context, id int64, assistantMessage string, m nuagent.ExchangeMetrics) error {
	_, err := s.q.Exec(ctx,
		`UPDATE exchanges
		 SET status = 'completed', completed_at = $1, assistant_message = $2,
		     tokens_input = $3, tokens_output = $4, spend = $5, message_count = $6, tool_call_count = $7
		 WHERE id = $8`,
		time.Now().Unix(), assistantMessage,
		m.TokensInput, m.TokensOutput, m.Spend, m.MessageCount, m.ToolCallCount, id)
	if err != nil {
		return storeErr("complete exchange", err)
	}
	return nil
}

func (s *Store) SetExchangeSummary(ctx context.Context, id int64, summary, model string) error {
	_, err := s.q.Exec(ctx,
		`UPDATE exchanges SET summary = $1, summary_model = $2 WHERE id = $3`,
		summary, model, id)
	if err != nil {
		return storeErr("set exchange summary", err)
	}
	return nil
}

// --- Messages ---

const messageColumns = `id, conversation_id, exchange_id, actor, role, content, model,
	tokens_input, tokens_output, spend, tool_calls, tool_call_id, tool_result, error,
	redacted, include_in_context, created_at`

func (s *Store) AddMessage(ctx context.Context, msg nuagent.Message) (int64, error) {
	var toolCallsJSON, toolResultJSON []byte
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return 0, &nuagent.ErrInvalidArgument{Message: "unserializable tool calls: " + err.Error()}
		}
		toolCallsJSON = data
	}
	if msg.ToolResult != nil {
		data, err := json.Marshal(msg.ToolResult)
		if err != nil {
			return 0, &nuagent.ErrInvalidArgument{Message: "unserializable tool result: " + err.Error()}
		}
		toolResultJSON = data
	}
	createdAt := msg.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, exchange_id, actor, role, content, model,
		                       tokens_input, tokens_output, spend, tool_calls, tool_call_id,
		                       tool_result, error, redacted, include_in_context, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		msg.ConversationID, msg.ExchangeID, msg.Actor, msg.Role, msg.Content,
		nullStr(msg.Model), msg.TokensInput, msg.TokensOutput, msg.Spend,
		toolCallsJSON, nullStr(msg.ToolCallID), toolResultJSON, nullStr(msg.Error),
		msg.Redacted, msg.IncludeInContext, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, storeErr("add message", err)
	}
	return id, nil
}

func (s *Store) Messages(ctx context.Context, convID int64, since int64, inContextOnly bool) ([]nuagent.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = $1 AND created_at >= $2`
	if inContextOnly {
		query += ` AND include_in_context`
	}
	query += ` ORDER BY id ASC`
	rows, err := s.q.Query(ctx, query, convID, since)
	if err != nil {
		return nil, storeErr("get messages", err)
	}
	return scanMessages(rows)
}

func (s *Store) MessagesSince(ctx context.Context, convID int64, afterID int64) ([]nuagent.Message, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 AND id > $2 ORDER BY id ASC`,
		convID, afterID)
	if err != nil {
		return nil, storeErr("get messages since", err)
	}
	return scanMessages(rows)
}

func (s *Store) SessionTokens(ctx context.Context, convID int64, since int64) (nuagent.SessionTokens, error) {
	var t nuagent.SessionTokens
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(tokens_input), 0), COALESCE(SUM(tokens_output), 0), COALESCE(SUM(spend), 0)
		 FROM messages WHERE conversation_id = $1 AND created_at >= $2`,
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
	_, err := s.q.Exec(ctx,
		`INSERT INTO app_config (key, value) VALUES ($1, '1')
		 ON CONFLICT (key) DO UPDATE SET value = (app_config.value::bigint + 1)::text`,
		workersKey)
	if err != nil {
		return storeErr("increment workers", err)
	}
	return nil
}

func (s *Store) DecrementWorkers(ctx context.Context) error {
	// GREATEST clamps the gauge at zero.
	_, err := s.q.Exec(ctx,
		`INSERT INTO app_config (key, value) VALUES ($1, '0')
		 ON CONFLICT (key) DO UPDATE SET value = GREATEST(app_config.value::bigint - 1, 0)::text`,
		workersKey)
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
	rows, err := s.q.Query(ctx,
		`SELECT id, created_at, title, status, summary, summary_model, summary_cost
		 FROM conversations
		 WHERE summary IS NULL AND id != $1
		   AND EXISTS (SELECT 1 FROM exchanges e WHERE e.conversation_id = conversations.id)
		 ORDER BY created_at DESC`,
		excludeID)
	if err != nil {
		return nil, storeErr("unsummarized conversations", err)
	}
	return scanConversations(rows)
}

func (s *Store) UnsummarizedExchanges(ctx context.Context, excludeConvID int64) ([]nuagent.Exchange, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges
		 WHERE status = 'completed' AND summary IS NULL AND conversation_id != $1
		 ORDER BY id ASC`,
		excludeConvID)
	if err != nil {
		return nil, storeErr("unsummarized exchanges", err)
	}
	return scanExchanges(rows)
}

func (s *Store) ConversationsNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]nuagent.Conversation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT c.id, c.created_at, c.title, c.status, c.summary, c.summary_model, c.summary_cost
		 FROM conversations c
		 WHERE c.summary IS NOT NULL AND c.id != $1
		   AND NOT EXISTS (
		     SELECT 1 FROM text_embedding t
		     WHERE t.kind = 'conversation' AND t.source = c.id::text)
		 ORDER BY c.id ASC`,
		excludeConvID)
	if err != nil {
		return nil, storeErr("conversations needing embeddings", err)
	}
	return scanConversations(rows)
}

func (s *Store) ExchangesNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]nuagent.Exchange, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+prefixColumns("e", exchangeColumns)+` FROM exchanges e
		 WHERE e.summary IS NOT NULL AND e.conversation_id != $1
		   AND NOT EXISTS (
		     SELECT 1 FROM text_embedding t
		     WHERE t.kind = 'exchange' AND t.source = e.id::text)
		 ORDER BY e.id ASC`,
		excludeConvID)
	if err != nil {
		return nil, storeErr("exchanges needing embeddings", err)
	}
	return scanExchanges(rows)
}

// --- Embeddings ---

func (s *Store) StoreEmbeddings(ctx context.Context, kind string, records []nuagent.EmbeddingRecord) error {
	for _, rec := range records {
		indexedAt := rec.IndexedAt
		if indexedAt == 0 {
			indexedAt = time.Now().Unix()
		}
		_, err := s.q.Exec(ctx,
			`INSERT INTO text_embedding (kind, source, content, embedding, indexed_at)
			 VALUES ($1, $2, $3, $4::vector, $5)
			 ON CONFLICT (kind, source) DO NOTHING`,
			kind, rec.Source, rec.Content, serializeEmbedding(rec.Embedding), indexedAt)
		if err != nil {
			return storeErr("store embeddings", err)
		}
	}
	s.logger.Debug("postgres: store embeddings ok", "kind", kind, "count", len(records))
	return nil
}

// SearchEmbeddings uses pgvector's cosine distance operator.
func (s *Store) SearchEmbeddings(ctx context.Context, kind string, embedding []float32, topK int) ([]nuagent.ScoredEmbedding, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.q.Query(ctx,
		`SELECT kind, source, content, indexed_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM text_embedding
		 WHERE kind = $2
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		embStr, kind, topK)
	if err != nil {
		return nil, storeErr("search embeddings", err)
	}
	defer rows.Close()

	var results []nuagent.ScoredEmbedding
	for rows.Next() {
		var se nuagent.ScoredEmbedding
		if err := rows.Scan(&se.Kind, &se.Source, &se.Content, &se.IndexedAt, &se.Score); err != nil {
			return nil, storeErr("scan embedding", err)
		}
		results = append(results, se)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate embeddings", err)
	}
	return results, nil
}

// --- Maintenance ---

const corruptedArgs = `{"redacted": true}`

func (s *Store) FindCorruptedMessages(ctx context.Context) ([]nuagent.Message, error) {
	// JSONB containment plus a key-count check matches exactly {"redacted":true}.
	rows, err := s.q.Query(ctx,
		`SELECT `+messageColumns+` FROM messages m
		 WHERE tool_calls IS NOT NULL
		   AND EXISTS (
		     SELECT 1 FROM jsonb_array_elements(m.tool_calls) tc
		     WHERE tc->'arguments' = $1::jsonb)
		 ORDER BY id ASC`,
		corruptedArgs)
	if err != nil {
		return nil, storeErr("find corrupted messages", err)
	}
	return scanMessages(rows)
}

func (s *Store) DeleteCorruptedMessages(ctx context.Context) (int, error) {
	tag, err := s.q.Exec(ctx,
		`DELETE FROM messages m
		 WHERE tool_calls IS NOT NULL
		   AND EXISTS (
		     SELECT 1 FROM jsonb_array_elements(m.tool_calls) tc
		     WHERE tc->'arguments' = $1::jsonb)`,
		corruptedArgs)
	if err != nil {
		return 0, storeErr("delete corrupted messages", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) InsertFailedJob(ctx context.Context, job nuagent.FailedJob) error {
	failedAt := job.FailedAt
	if failedAt == 0 {
		failedAt = time.Now().Unix()
	}
	_, err := s.q.Exec(ctx,
		`INSERT INTO failed_jobs (job_type, ref_id, payload, error, retry_count, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.JobType, job.RefID, nullStr(job.Payload), job.Error, job.RetryCount, failedAt)
	if err != nil {
		return storeErr("insert failed job", err)
	}
	return nil
}

var readonlyPrefixes = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN", "WITH"}

func (s *Store) ExecuteReadonlyQuery(ctx context.Context, query string) (nuagent.QueryResult, error) {
	fields := strings.Fields(strings.TrimSpace(query))
	first := ""
	if len(fields) > 0 {
		first = strings.ToUpper(fields[0])
	}
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

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nuagent.QueryResult{}, storeErr("readonly query", err)
	}
	defer rows.Close()

	var result nuagent.QueryResult
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}
	for rows.Next() {
		if len(result.Rows) >= maxQueryRows {
			result.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
			return nuagent.QueryResult{}, storeErr("readonly query scan", err)
		}
		result.Rows = append(result.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nuagent.QueryResult{}, storeErr("readonly query iterate", err)
	}
	return result, nil
}

// --- Config ---

func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q.QueryRow(ctx, `SELECT value FROM app_config WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get config", err)
	}
	return value, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO app_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return storeErr("set config", err)
	}
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

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// --- scan helpers ---

func scanConversation(row pgx.Row) (nuagent.Conversation, error) {
	var c nuagent.Conversation
	var summary, summaryModel *string
	var summaryCost *float64
	err := row.Scan(&c.ID, &c.CreatedAt, &c.Title, &c.Status, &summary, &summaryModel, &summaryCost)
	if err != nil {
		return c, err
	}
	c.Summary = deref(summary)
	c.SummaryModel = deref(summaryModel)
	if summaryCost != nil {
		c.SummaryCost = *summaryCost
	}
	return c, nil
}

func scanConversations(rows pgx.Rows) ([]nuagent.Conversation, error) {
	defer rows.Close()
	var convs []nuagent.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, storeErr("scan conversation", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate conversations", err)
	}
	return convs, nil
}

func scanExchange(row pgx.Row) (nuagent.Exchange, error) {
	var ex nuagent.Exchange
	var completedAt *int64
	var assistantMsg, summary, summaryModel, errText *string
	err := row.Scan(&ex.ID, &ex.ConversationID, &ex.ExchangeNumber, &ex.StartedAt, &completedAt,
		&ex.Status, &ex.UserMessage, &assistantMsg, &summary, &summaryModel, &errText,
		&ex.TokensInput, &ex.TokensOutput, &ex.Spend, &ex.MessageCount, &ex.ToolCallCount)
	if err != nil {
		return ex, err
	}
	if completedAt != nil {
		ex.CompletedAt = *completedAt
	}
	ex.AssistantMessage = deref(assistantMsg)
	ex.Summary = deref(summary)
	ex.SummaryModel = deref(summaryModel)
	ex.Error = deref(errText)
	return ex, nil
}

func scanExchanges(rows pgx.Rows) ([]nuagent.Exchange, error) {
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

func scanMessages(rows pgx.Rows) ([]nuagent.Message, error) {
	defer rows.Close()
	var msgs []nuagent.Message
	for rows.Next() {
		var m nuagent.Message
		var model, toolCallID, errText *string
		var tokensIn, tokensOut *int64
		var spend *float64
		var toolCalls, toolResult []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.ExchangeID, &m.Actor, &m.Role, &m.Content,
			&model, &tokensIn, &tokensOut, &spend, &toolCalls, &toolCallID, &toolResult, &errText,
			&m.Redacted, &m.IncludeInContext, &m.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		m.Model = deref(model)
		m.ToolCallID = deref(toolCallID)
		m.Error = deref(errText)
		if tokensIn != nil {
			m.TokensInput = int(*tokensIn)
		}
		if tokensOut != nil {
			m.TokensOutput = int(*tokensOut)
		}
		if spend != nil {
			m.Spend = *spend
		}
		if len(toolCalls) > 0 {
			_ = json.Unmarshal(toolCalls, &m.ToolCalls)
		}
		if len(toolResult) > 0 {
			var tr nuagent.ToolResultRecord
			if json.Unmarshal(toolResult, &tr) == nil {
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

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// prefixColumns qualifies each column in a comma-separated list with a
// table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// serializeEmbedding renders a vector in pgvector literal form.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}
