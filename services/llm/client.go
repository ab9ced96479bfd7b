package llm

import (
	"context"
	"errors"
	"net"
)

// Message roles accepted by the upstream chat completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in the replayed conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one upstream call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
}

// CompletionResult carries the generated text plus the exact token counts
// reported by the upstream. Token counts feed billing and must never be
// estimated here.
type CompletionResult struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the billable token count for the call.
func (r *CompletionResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// CompletionClient defines the standard interface for any LLM backend.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// ErrUpstream wraps any upstream API failure so callers can test with
// errors.Is without importing the backend SDK.
var ErrUpstream = errors.New("upstream completion failed")

// transientError marks failures worth retrying (timeouts, 429, 5xx).
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient tags err as retriable.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is worth a bounded retry. Context
// cancellation is never transient: the caller's deadline is authoritative.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
