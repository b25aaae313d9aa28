package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatBackend_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4", req.Model)
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 1000, req.MaxTokens)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "write a test", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"func TestX(){}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	}))
	defer srv.Close()

	b := NewChatBackend("gpt-4", srv.URL+"/", "sk-test", srv.Client())
	require.True(t, b.IsAvailable())

	resp := b.Generate(context.Background(), NewRequest("write a test", "gpt-4"))
	require.True(t, resp.IsSuccess(), resp.Error)
	assert.Equal(t, "func TestX(){}", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
}

func TestChatBackend_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := NewChatBackend("gpt-4", srv.URL, "sk-test", srv.Client())
	resp := b.Generate(context.Background(), NewRequest("x", "gpt-4"))
	assert.True(t, resp.IsError())
	assert.Contains(t, resp.Error, "429")
}

func TestChatBackend_NoChoicesIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	b := NewChatBackend("gpt-4", srv.URL, "sk-test", srv.Client())
	resp := b.Generate(context.Background(), NewRequest("x", "gpt-4"))
	assert.False(t, resp.IsError())
	assert.False(t, resp.IsSuccess())
}

func TestChatBackend_MissingKey(t *testing.T) {
	b := NewChatBackend("gpt-4", "https://api.openai.com/v1", "  ", nil)
	assert.False(t, b.IsAvailable())
	resp := b.Generate(context.Background(), NewRequest("x", "gpt-4"))
	assert.True(t, resp.IsError())
	assert.Contains(t, resp.Error, "missing API key")
}

func TestChatBackend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	b := NewChatBackend("gpt-4", url, "sk-test", nil)
	resp := b.Generate(context.Background(), NewRequest("x", "gpt-4"))
	assert.True(t, resp.IsError())
}

func TestOllamaBackend_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req["model"])
		assert.Equal(t, false, req["stream"])
		_, _ = w.Write([]byte(`{"response":"hello","done":true,"prompt_eval_count":2,"eval_count":4}`))
	}))
	defer srv.Close()

	b := NewOllamaBackend("llama3", srv.URL, srv.Client())
	resp := b.Generate(context.Background(), NewRequest("hi", "llama3"))
	require.True(t, resp.IsSuccess(), resp.Error)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}
