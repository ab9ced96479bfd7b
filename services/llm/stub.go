package llm

import (
	"context"
	"sync"
	"unicode/utf8"
)

// StubClient is an in-memory CompletionClient for tests. It counts calls so
// tests can assert that admission short-circuits never reached the upstream.
type StubClient struct {
	mu sync.Mutex

	// Reply is returned when the queue is empty. If empty, the stub echoes
	// a canned answer.
	Reply string

	// Err, when set, is returned from every call.
	Err error

	// OutputTokens overrides the reported output token count (0 means
	// derive from the reply length).
	OutputTokens int

	queue []CompletionResult
	calls int
}

// Enqueue schedules a specific result for the next call.
func (s *StubClient) Enqueue(res CompletionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, res)
}

// Calls reports how many times Complete was invoked.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *StubClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.queue) > 0 {
		res := s.queue[0]
		s.queue = s.queue[1:]
		return &res, nil
	}

	text := s.Reply
	if text == "" {
		text = "Flying is an evergreen evasion keyword."
	}
	inputTokens := 0
	for _, m := range req.Messages {
		inputTokens += utf8.RuneCountInString(m.Content)/4 + 1
	}
	outputTokens := s.OutputTokens
	if outputTokens == 0 {
		outputTokens = utf8.RuneCountInString(text)/4 + 1
	}
	return &CompletionResult{
		Text:         text,
		Model:        req.Model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}, nil
}

var _ CompletionClient = (*StubClient)(nil)
var _ CompletionClient = (*OpenAIClient)(nil)
