package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/pkg/config"
)

func TestNewRegistry_DuplicateModelID(t *testing.T) {
	_, err := NewRegistry("a", NewMockBackend("a"), NewMockBackend("a"))
	require.Error(t, err)
}

func TestNewRegistry_UnknownDefault(t *testing.T) {
	_, err := NewRegistry("gtp-4", NewMockBackend("gpt-4"), NewMockBackend("llama3"))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "gtp-4", nf.ModelID)
	assert.Equal(t, []string{"gpt-4", "llama3"}, nf.Available)
}

func TestRegistry_Resolve(t *testing.T) {
	r, err := NewRegistry("gpt-4", NewMockBackend("gpt-4"), NewMockBackend("claude-3-haiku"))
	require.NoError(t, err)

	b, err := r.Resolve("claude-3-haiku")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku", b.SupportedModelID())

	b, err = r.ResolveDefault()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", b.SupportedModelID())
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r, err := NewRegistry("gpt-4", NewMockBackend("gpt-4"), NewMockBackend("gemini-pro"))
	require.NoError(t, err)

	_, err = r.Resolve("llama")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, []string{"gemini-pro", "gpt-4"}, nf.Available)
	assert.Contains(t, err.Error(), "gemini-pro, gpt-4")
}

func TestRegistry_ResolveUnavailableStillReturned(t *testing.T) {
	mock := NewMockBackend("gpt-4")
	mock.SetAvailable(false)
	r, err := NewRegistry("gpt-4", mock)
	require.NoError(t, err)

	b, err := r.ResolveDefault()
	require.NoError(t, err)
	assert.False(t, b.IsAvailable())
}

func TestRegistry_Status(t *testing.T) {
	off := NewMockBackend("b")
	off.SetAvailable(false)
	r, err := NewRegistry("a", NewMockBackend("a"), off)
	require.NoError(t, err)

	st := r.Status()
	require.Len(t, st, 2)
	assert.Equal(t, BackendStatus{ModelID: "a", Available: true, Default: true}, st[0])
	assert.Equal(t, BackendStatus{ModelID: "b", Available: false, Default: false}, st[1])
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultModelID: "gpt-4",
		Backends: []config.BackendConfig{
			{Type: "openai", ModelID: "gpt-4", Endpoint: "https://api.openai.com/v1"},
			{Type: "ollama", ModelID: "llama3", Endpoint: "http://localhost:11434"},
			{Type: "mock", ModelID: "mock"},
		},
	}
	r, err := NewRegistryFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4", "llama3", "mock"}, r.ModelIDs())

	b, err := r.Resolve("gpt-4")
	require.NoError(t, err)
	assert.False(t, b.IsAvailable(), "no API key configured")
}

func TestNewRegistryFromConfig_UnknownType(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultModelID: "x",
		Backends:       []config.BackendConfig{{Type: "carrier-pigeon", ModelID: "x"}},
	}
	_, err := NewRegistryFromConfig(cfg, nil)
	assert.Error(t, err)
}

func TestResponse_Classification(t *testing.T) {
	assert.True(t, Success("code", nil, "stop").IsSuccess())
	assert.False(t, Success("code", nil, "stop").IsError())
	assert.True(t, Failure("boom").IsError())
	assert.False(t, Failure("boom").IsSuccess())

	ambiguous := &Response{}
	assert.False(t, ambiguous.IsSuccess())
	assert.False(t, ambiguous.IsError())
}

func TestNewRequestDefaults(t *testing.T) {
	req := NewRequest("p", "m")
	require.NotNil(t, req.Temperature)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 0.7, *req.Temperature)
	assert.Equal(t, 1000, *req.MaxTokens)
	assert.Equal(t, 150, NewTokenUsage(50, 100).TotalTokens)
}

func TestMockBackend(t *testing.T) {
	b := NewMockBackend("mock")
	resp := b.Generate(context.Background(), NewRequest("hello", "mock"))
	assert.True(t, resp.IsSuccess())
	assert.Contains(t, resp.Content, "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, b.Generate(ctx, NewRequest("hello", "mock")).IsError())
}

func TestHealthWatchdog_Check(t *testing.T) {
	off := NewMockBackend("b")
	off.SetAvailable(false)
	r, err := NewRegistry("a", NewMockBackend("a"), off)
	require.NoError(t, err)

	got := map[string]bool{}
	w := NewHealthWatchdog(r, 0, func(id string, ok bool) { got[id] = ok })
	w.Check()
	assert.Equal(t, map[string]bool{"a": true, "b": false}, got)
}
