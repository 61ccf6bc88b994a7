package ai

import (
	"context"
	"errors"
	"sync"
)

// MockLLMService is a scripted LLMService for tests.
// Replies are returned in order; once exhausted the last reply repeats.
type MockLLMService struct {
	mu       sync.Mutex
	Replies  []string
	Err      error
	Handler  func(req CompletionRequest) (string, error)
	Requests []CompletionRequest
}

// NewMockLLMService creates a mock that answers with the given replies.
func NewMockLLMService(replies ...string) *MockLLMService {
	return &MockLLMService{Replies: replies}
}

// Complete records the request and returns the next scripted reply.
func (m *MockLLMService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Handler != nil {
		return m.Handler(req)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Replies) == 0 {
		return "", ErrEmptyResponse
	}
	idx := len(m.Requests) - 1
	if idx >= len(m.Replies) {
		idx = len(m.Replies) - 1
	}
	return m.Replies[idx], nil
}

// Calls returns how many times Complete was invoked.
func (m *MockLLMService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// MockEmbeddingService returns deterministic vectors keyed by text.
type MockEmbeddingService struct {
	mu      sync.Mutex
	Vectors map[string][]float32
	Dims    int
	Err     error
	calls   int
}

// NewMockEmbeddingService creates a mock embedding service with the given dimension.
func NewMockEmbeddingService(dims int) *MockEmbeddingService {
	return &MockEmbeddingService{Vectors: make(map[string][]float32), Dims: dims}
}

// Embed returns the registered vector for text or a constant vector.
func (m *MockEmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, m.Dims)
	for i := range v {
		v[i] = 0.1
	}
	return v, nil
}

// EmbedBatch embeds each text independently.
func (m *MockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions returns the configured dimension.
func (m *MockEmbeddingService) Dimensions() int {
	return m.Dims
}

// Model returns a fixed mock model name.
func (m *MockEmbeddingService) Model() string {
	return "mock-embedding"
}

// Calls returns how many single embeddings were requested.
func (m *MockEmbeddingService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
