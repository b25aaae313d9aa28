package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	serverURL    string
	outputFormat string
	apiKey       string
	token        string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ouroborosctl",
		Short: "Ouroboros CLI - interact with an ouroboros server",
		Long: `ouroborosctl talks to the ouroboros admin API.
Output is JSON by default; --output table renders work items and backends as a table.`,
		Version: version,
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("OUROBOROS_SERVER", "http://localhost:8080"), "Ouroboros server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, table")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("OUROBOROS_API_KEY"), "API key sent as X-API-Key")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("OUROBOROS_TOKEN"), "Bearer token")

	rootCmd.AddCommand(newWorkItemCommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newTrackerCommand())
	rootCmd.AddCommand(newBoardCommand())
	rootCmd.AddCommand(newBackendsCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newLogsCommand())
	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// --- HTTP client ---

// Client calls the admin API.
type Client struct {
	BaseURL string
	APIKey  string
	Token   string
	HTTP    *http.Client
}

func newClient() *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(serverURL, "/"),
		APIKey:  apiKey,
		Token:   token,
		HTTP:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.Code, strings.TrimSpace(e.Body))
}

func (c *Client) do(method, path string, params url.Values, data interface{}) ([]byte, int, error) {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal data: %w", err)
		}
		body = strings.NewReader(string(jsonData))
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	} else if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
}

func (c *Client) get(path string, params url.Values) ([]byte, error) {
	data, _, err := c.do(http.MethodGet, path, params, nil)
	return data, err
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	out, _, err := c.do(http.MethodPost, path, nil, data)
	return out, err
}

func (c *Client) put(path string, data interface{}) ([]byte, error) {
	out, _, err := c.do(http.MethodPut, path, nil, data)
	return out, err
}

// streamSSE reads an SSE stream and prints each event's data field.
func (c *Client) streamSSE(path string, params url.Values, out io.Writer) error {
	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	stream := &http.Client{}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			fmt.Fprintln(out, line[6:])
		}
	}
	return scanner.Err()
}

// outputJSON pretty-prints JSON data, or prints it raw when it is not JSON.
func outputJSON(out io.Writer, data []byte) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Fprintln(out, string(data))
		return
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
