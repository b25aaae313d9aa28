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

// OllamaBackend generates through a local Ollama server.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaBackend struct {
	modelID  string
	endpoint string
	client   *http.Client
}

func NewOllamaBackend(modelID, endpoint string, client *http.Client) *OllamaBackend {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OllamaBackend{
		modelID:  modelID,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

func (b *OllamaBackend) SupportedModelID() string { return b.modelID }

func (b *OllamaBackend) IsAvailable() bool { return b.endpoint != "" }

func (b *OllamaBackend) Generate(ctx context.Context, req *Request) *Response {
	model := strings.TrimSpace(req.ModelID)
	if model == "" {
		model = b.modelID
	}

	ollamaReq := struct {
		Model   string `json:"model"`
		Prompt  string `json:"prompt"`
		Stream  bool   `json:"stream"`
		Options struct {
			Temperature float64 `json:"temperature"`
			NumPredict  int     `json:"num_predict,omitempty"`
		} `json:"options"`
	}{
		Model:  model,
		Prompt: req.Prompt,
		Stream: false,
	}
	ollamaReq.Options.Temperature = req.temperature()
	ollamaReq.Options.NumPredict = req.maxTokens()

	body, err := json.Marshal(ollamaReq)
	if err != nil {
		return Failure(fmt.Sprintf("failed to marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Failure(fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var ollamaResp struct {
		Response        string `json:"response"`
		Done            bool   `json:"done"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return Failure(fmt.Sprintf("failed to unmarshal response: %v", err))
	}
	if ollamaResp.Error != "" {
		return Failure(ollamaResp.Error)
	}

	finish := ollamaResp.DoneReason
	if finish == "" && ollamaResp.Done {
		finish = "stop"
	}
	return Success(ollamaResp.Response, NewTokenUsage(ollamaResp.PromptEvalCount, ollamaResp.EvalCount), finish)
}
