// Package provider implements the generation backend registry and its backends.
package provider

import "context"

// Request defaults applied by NewRequest.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// Backend produces text for a prompt. Generate never panics on transport
// problems; it reports them through Response.Error.
type Backend interface {
	Generate(ctx context.Context, req *Request) *Response
	SupportedModelID() string
	IsAvailable() bool
}

// Request is one generation request.
type Request struct {
	Prompt      string   `json:"prompt"`
	ModelID     string   `json:"model_id"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// NewRequest builds a request with the default temperature and token limit.
func NewRequest(prompt, modelID string) *Request {
	temp := DefaultTemperature
	maxTokens := DefaultMaxTokens
	return &Request{
		Prompt:      prompt,
		ModelID:     modelID,
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}

func (r *Request) temperature() float64 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

func (r *Request) maxTokens() int {
	if r.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *r.MaxTokens
}

// TokenUsage reports token accounting for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewTokenUsage fills TotalTokens from the two counts.
func NewTokenUsage(prompt, completion int) *TokenUsage {
	return &TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

// Response is the outcome of a Generate call.
type Response struct {
	Content      string      `json:"content,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Success builds a successful response.
func Success(content string, usage *TokenUsage, finishReason string) *Response {
	return &Response{Content: content, Usage: usage, FinishReason: finishReason}
}

// Failure builds an error response.
func Failure(msg string) *Response {
	return &Response{Error: msg}
}

// IsError reports whether the backend returned an error.
func (r *Response) IsError() bool {
	return r != nil && r.Error != ""
}

// IsSuccess reports whether the response carries usable content.
// A response with neither error nor content is neither success nor error.
func (r *Response) IsSuccess() bool {
	return r != nil && r.Error == "" && r.Content != ""
}
