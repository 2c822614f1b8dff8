package nuagent

import (
	"fmt"
	"time"
)

// ErrInvalidArgument reports a caller-side programming error (bad field
// name, negative limit, missing required value). Never retried.
type ErrInvalidArgument struct {
	Message string
}

func (e *ErrInvalidArgument) Error() string {
	return "invalid argument: " + e.Message
}

// ErrConfig reports a malformed or missing configuration value, such as
// a bool key whose stored text is neither "true" nor "false".
type ErrConfig struct {
	Key     string
	Message string
}

func (e *ErrConfig) Error() string {
	if e.Key == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config %q: %s", e.Key, e.Message)
}

// ErrStore reports a database failure. Inside a transaction scope it
// aborts the transaction; the wrapper guarantees rollback.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *ErrStore) Unwrap() error { return e.Err }

// ErrLLM reports a provider-side failure that is not an HTTP error
// (malformed response, unsupported request shape).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP reports a non-2xx provider response. Status, headers, and body
// are preserved so the failed exchange can record the full error, and so
// retry middleware can honor Retry-After.
type ErrHTTP struct {
	Status     int
	Headers    map[string]string
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value in delay-seconds
// form. Returns 0 for empty or unparseable values (including the
// HTTP-date form, which providers in practice do not send).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
