package nuagent

import "context"

// Store is the gateway to the persistent conversation database.
// Implementations live under store/ (sqlite, postgres).
//
// All mutations issued through one Store value are serialized; concurrent
// readers are permitted. Transaction scopes run on a dedicated connection
// so a rollback never tears down unrelated work.
type Store interface {
	// Init creates the schema if missing.
	Init(ctx context.Context) error

	// Transaction runs fn against a transaction-scoped Store view.
	// Commits when fn returns nil; rolls back when fn returns an error
	// or panics (the panic is re-raised). Nesting is not supported.
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// --- Conversations ---

	CreateConversation(ctx context.Context) (int64, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	SetConversationSummary(ctx context.Context, id int64, summary, model string, cost float64) error
	ArchiveConversation(ctx context.Context, id int64) error

	// --- Exchanges ---

	// CreateExchange opens a new in-progress exchange, assigning the next
	// gap-free exchange_number for the conversation.
	CreateExchange(ctx context.Context, convID int64, userMessage string) (Exchange, error)
	GetExchange(ctx context.Context, id int64) (Exchange, error)
	// UpdateExchange applies the non-nil fields of upd. Fields outside
	// the whitelist do not exist on the struct by construction.
	UpdateExchange(ctx context.Context, id int64, upd ExchangeUpdate) error
	// CompleteExchange marks the exchange completed with its final
	// assistant message and metric totals.
	CompleteExchange(ctx context.Context, id int64, assistantMessage string, m ExchangeMetrics) error
	SetExchangeSummary(ctx context.Context, id int64, summary, model string) error

	// --- Messages ---

	// AddMessage appends a message and returns its ID. IDs are strictly
	// increasing in write order.
	AddMessage(ctx context.Context, msg Message) (int64, error)
	// Messages returns messages for a conversation created on/after
	// since (0 = all), ordered by ID ascending. When inContextOnly is
	// set, rows with include_in_context=false are skipped.
	Messages(ctx context.Context, convID int64, since int64, inContextOnly bool) ([]Message, error)
	// MessagesSince returns messages with ID strictly greater than afterID.
	MessagesSince(ctx context.Context, convID int64, afterID int64) ([]Message, error)
	// SessionTokens aggregates usage over messages created on/after since:
	// input = max, output = sum, spend = sum.
	SessionTokens(ctx context.Context, convID int64, since int64) (SessionTokens, error)

	// --- Worker gauge ---

	IncrementWorkers(ctx context.Context) error
	// DecrementWorkers clamps at zero.
	DecrementWorkers(ctx context.Context) error
	WorkersIdle(ctx context.Context) (bool, error)

	// --- Background work queries ---

	// UnsummarizedConversations returns conversations with no summary,
	// newest first, excluding excludeID.
	UnsummarizedConversations(ctx context.Context, excludeID int64) ([]Conversation, error)
	// UnsummarizedExchanges returns completed exchanges with no summary,
	// excluding those in conversation excludeConvID.
	UnsummarizedExchanges(ctx context.Context, excludeConvID int64) ([]Exchange, error)
	// ConversationsNeedingEmbeddings returns conversations with a summary
	// but no "conversation" embedding row.
	ConversationsNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]Conversation, error)
	// ExchangesNeedingEmbeddings returns exchanges with a summary but no
	// "exchange" embedding row.
	ExchangesNeedingEmbeddings(ctx context.Context, excludeConvID int64) ([]Exchange, error)

	// --- Embeddings ---

	// StoreEmbeddings upserts records under the given kind with
	// ON CONFLICT(kind, source) DO NOTHING.
	StoreEmbeddings(ctx context.Context, kind string, records []EmbeddingRecord) error
	// SearchEmbeddings performs similarity search within one kind.
	SearchEmbeddings(ctx context.Context, kind string, embedding []float32, topK int) ([]ScoredEmbedding, error)

	// --- Maintenance ---

	// FindCorruptedMessages returns messages carrying a tool call whose
	// arguments are the literal legacy sentinel {"redacted":true}.
	FindCorruptedMessages(ctx context.Context) ([]Message, error)
	DeleteCorruptedMessages(ctx context.Context) (int, error)
	InsertFailedJob(ctx context.Context, job FailedJob) error

	// ExecuteReadonlyQuery runs a read-only SQL statement. Statements
	// whose first token is not SELECT/SHOW/DESCRIBE/EXPLAIN/WITH are
	// rejected; results are capped at 500 rows.
	ExecuteReadonlyQuery(ctx context.Context, query string) (QueryResult, error)

	// --- Config ---

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	// ConfigBool parses a stored value. Only case-insensitive "true" and
	// "false" are accepted; anything else is an *ErrConfig. Missing keys
	// return the fallback.
	ConfigBool(ctx context.Context, key string, fallback bool) (bool, error)
	ConfigInt(ctx context.Context, key string, fallback int) (int, error)
	ConfigFloat(ctx context.Context, key string, fallback float64) (float64, error)

	Close() error
}

// ExchangeUpdate is the whitelist of exchange fields a caller may
// update. Nil fields are left untouched.
type ExchangeUpdate struct {
	Status           *string
	Summary          *string
	SummaryModel     *string
	Error            *string
	AssistantMessage *string
	CompletedAt      *int64
	TokensInput      *int
	TokensOutput     *int
	Spend            *float64
	MessageCount     *int
	ToolCallCount    *int
}

// QueryResult holds the outcome of a read-only SQL query.
type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// String pointer helpers for ExchangeUpdate literals.

func StrPtr(s string) *string     { return &s }
func IntPtr(n int) *int           { return &n }
func Int64Ptr(n int64) *int64     { return &n }
func FloatPtr(f float64) *float64 { return &f }
