package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatMessage is a message in an OpenAI-compatible chat request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Index   int         `json:"index"`
		Message chatMessage `json:"message"`
		Finish  string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ChatBackend talks to any OpenAI-compatible /chat/completions endpoint.
type ChatBackend struct {
	modelID  string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewChatBackend creates a chat backend. A nil client gets a 60s default.
func NewChatBackend(modelID, endpoint, apiKey string, client *http.Client) *ChatBackend {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ChatBackend{
		modelID:  modelID,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   strings.TrimSpace(apiKey),
		client:   client,
	}
}

func (b *ChatBackend) SupportedModelID() string { return b.modelID }

// IsAvailable reports whether a credential is configured.
func (b *ChatBackend) IsAvailable() bool {
	return b.apiKey != "" && b.endpoint != ""
}

// Generate sends the prompt as a single user message.
func (b *ChatBackend) Generate(ctx context.Context, req *Request) *Response {
	if !b.IsAvailable() {
		return Failure(fmt.Sprintf("%s backend not configured - missing API key", b.modelID))
	}

	model := req.ModelID
	if model == "" {
		model = b.modelID
	}
	body, err := json.Marshal(chatCompletionRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.temperature(),
		MaxTokens:   req.maxTokens(),
	})
	if err != nil {
		return Failure(fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Failure(fmt.Sprintf("failed to send request: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(fmt.Sprintf("failed to read response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Sprintf("unexpected status code %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return Failure(fmt.Sprintf("failed to unmarshal response: %v", err))
	}
	if completion.Error != nil && completion.Error.Message != "" {
		return Failure(completion.Error.Message)
	}
	if len(completion.Choices) == 0 {
		return Success("", nil, "")
	}

	choice := completion.Choices[0]
	return Success(
		choice.Message.Content,
		NewTokenUsage(completion.Usage.PromptTokens, completion.Usage.CompletionTokens),
		choice.Finish,
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
