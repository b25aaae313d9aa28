package provider

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockBackend returns canned content without any network call.
type MockBackend struct {
	modelID   string
	available atomic.Bool
}

// NewMockBackend creates an available mock backend.
func NewMockBackend(modelID string) *MockBackend {
	b := &MockBackend{modelID: modelID}
	b.available.Store(true)
	return b
}

func (b *MockBackend) SupportedModelID() string { return b.modelID }

func (b *MockBackend) IsAvailable() bool { return b.available.Load() }

// SetAvailable toggles availability.
func (b *MockBackend) SetAvailable(available bool) { b.available.Store(available) }

func (b *MockBackend) Generate(ctx context.Context, req *Request) *Response {
	if err := ctx.Err(); err != nil {
		return Failure("request interrupted")
	}
	content := fmt.Sprintf("Generated response for: %s (via %s)", req.Prompt, b.modelID)
	return Success(content, NewTokenUsage(50, 100), "stop")
}
