package nuagent

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CriticalSections counts in-flight background writes. Shutdown waits
// for the counter to drain before closing the database.
type CriticalSections struct {
	mu sync.Mutex
	n  int
}

func (c *CriticalSections) Enter() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *CriticalSections) Exit() {
	c.mu.Lock()
	if c.n > 0 {
		c.n--
	}
	c.mu.Unlock()
}

func (c *CriticalSections) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// WaitIdle polls until the counter reaches zero or the timeout elapses.
func (c *CriticalSections) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.Count() == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Application holds per-session state shared between the REPL, the
// orchestrator, and the workers: the active conversation, the session
// start bound for context windows, and the critical section gate.
type Application struct {
	Store    Store
	Logger   *slog.Logger
	Critical *CriticalSections

	mu           sync.Mutex
	conversation int64
	sessionStart int64
}

// NewApplication opens a session: initializes the schema and creates
// the session's conversation.
func NewApplication(ctx context.Context, store Store, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = nopLogger
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	convID, err := store.CreateConversation(ctx)
	if err != nil {
		return nil, err
	}
	app := &Application{
		Store:        store,
		Logger:       logger,
		Critical:     &CriticalSections{},
		conversation: convID,
		sessionStart: time.Now().Unix(),
	}
	logger.Debug("session started", "conversation_id", convID)
	return app, nil
}

// Conversation returns the active conversation ID.
func (a *Application) Conversation() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conversation
}

// SessionStart returns the unix time bounding the context window.
func (a *Application) SessionStart() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionStart
}

// Reset archives the active conversation and starts a fresh one. The
// session start moves forward so the old narrative drops out of
// context.
func (a *Application) Reset(ctx context.Context) (int64, error) {
	a.mu.Lock()
	old := a.conversation
	a.mu.Unlock()

	if err := a.Store.ArchiveConversation(ctx, old); err != nil {
		return 0, err
	}
	convID, err := a.Store.CreateConversation(ctx)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.conversation = convID
	a.sessionStart = time.Now().Unix()
	a.mu.Unlock()
	a.Logger.Debug("conversation reset", "old", old, "new", convID)
	return convID, nil
}
