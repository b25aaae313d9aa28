// Package github wraps the gh CLI to reach the GitHub REST API without
// additional dependencies. The gh binary handles authentication, retries
// and host configuration; every call here goes through `gh api` so the
// responses are plain REST JSON.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/pkg/config"
)

// APIError reports a failed gh invocation.
type APIError struct {
	Op     string
	Output string
	Err    error
}

func (e *APIError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("github %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("github %s: %v: %s", e.Op, e.Err, e.Output)
}

func (e *APIError) Unwrap() error { return e.Err }

// Runner executes the gh binary. stdin may be nil.
type Runner interface {
	Run(ctx context.Context, dir string, env []string, stdin []byte, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, dir string, env []string, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Client talks to one repository through gh.
type Client struct {
	ghPath  string
	workDir string
	token   string // optional; if empty, gh uses its stored credentials
	owner   string
	repo    string
	runner  Runner
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// NewClient creates a client for owner/repo.
func NewClient(cfg config.TrackerConfig, opts ...Option) *Client {
	c := &Client{
		ghPath:  cfg.GHPath,
		workDir: cfg.WorkDir,
		token:   cfg.Token,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		runner:  execRunner{},
	}
	if c.ghPath == "" {
		c.ghPath = "gh"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAvailable reports whether gh is installed, the repository is configured
// and credentials are present.
func (c *Client) IsAvailable(ctx context.Context) bool {
	log := logging.Component("github")
	if c.owner == "" || c.repo == "" {
		log.Debug().Msg("tracker owner/repo not configured")
		return false
	}
	if _, ok := c.runner.(execRunner); ok {
		if _, err := exec.LookPath(c.ghPath); err != nil {
			log.Warn().Str("gh_path", c.ghPath).Msg("gh CLI not found")
			return false
		}
	}
	if c.token != "" {
		return true
	}
	if _, err := c.gh(ctx, "auth status", nil, "auth", "status"); err != nil {
		log.Warn().Err(err).Msg("gh is not authenticated")
		return false
	}
	return true
}

func (c *Client) gh(ctx context.Context, op string, stdin []byte, args ...string) ([]byte, error) {
	var env []string
	if c.token != "" {
		env = []string{"GH_TOKEN=" + c.token}
	}
	out, err := c.runner.Run(ctx, c.workDir, env, stdin, c.ghPath, args...)
	if err != nil {
		return nil, &APIError{Op: op, Err: err}
	}
	return out, nil
}

// api issues a REST call. body is JSON-encoded onto stdin when non-nil and
// the response is decoded into out when out is non-nil.
func (c *Client) api(ctx context.Context, op, method, path string, body, out interface{}) error {
	args := []string{"api", "--method", method, path,
		"-H", "Accept: application/vnd.github+json"}
	var stdin []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &APIError{Op: op, Err: err}
		}
		stdin = data
		args = append(args, "--input", "-")
	}
	raw, err := c.gh(ctx, op, stdin, args...)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &APIError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) repoPath(format string, args ...interface{}) string {
	return fmt.Sprintf("repos/%s/%s/", c.owner, c.repo) + fmt.Sprintf(format, args...)
}

type restIssue struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	User    struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

func (r restIssue) toIssue() *Issue {
	labels := make([]string, 0, len(r.Labels))
	for _, l := range r.Labels {
		labels = append(labels, l.Name)
	}
	return &Issue{
		ID:     r.ID,
		Number: r.Number,
		Title:  r.Title,
		Body:   r.Body,
		State:  r.State,
		URL:    r.HTMLURL,
		Author: r.User.Login,
		Labels: labels,
	}
}

// CreateIssue creates a new issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, req CreateIssueRequest) (*Issue, error) {
	body := map[string]interface{}{"title": req.Title}
	if req.Body != "" {
		body["body"] = req.Body
	}
	if len(req.Labels) > 0 {
		body["labels"] = req.Labels
	}
	var r restIssue
	if err := c.api(ctx, "create issue", "POST", c.repoPath("issues"), body, &r); err != nil {
		return nil, err
	}
	if r.Number == 0 {
		return nil, &APIError{Op: "create issue", Err: errors.New("response carried no issue number")}
	}
	return r.toIssue(), nil
}

// GetIssue returns a single issue by number.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var r restIssue
	if err := c.api(ctx, "get issue", "GET", c.repoPath("issues/%d", number), nil, &r); err != nil {
		return nil, err
	}
	return r.toIssue(), nil
}

// CommentOnIssue adds a comment to an issue.
func (c *Client) CommentOnIssue(ctx context.Context, number int, body string) error {
	return c.api(ctx, "comment on issue", "POST", c.repoPath("issues/%d/comments", number),
		map[string]string{"body": body}, nil)
}

// AddLabels adds labels to an issue, creating unknown labels on the fly.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	return c.api(ctx, "add labels", "POST", c.repoPath("issues/%d/labels", number),
		map[string][]string{"labels": labels}, nil)
}

// CloseIssue closes an issue.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	return c.api(ctx, "close issue", "PATCH", c.repoPath("issues/%d", number),
		map[string]string{"state": "closed"}, nil)
}

// issueNumberFromURL extracts N from a .../issues/N content URL.
func issueNumberFromURL(url string) (int, bool) {
	idx := strings.LastIndex(url, "/issues/")
	if idx < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(url[idx+len("/issues/"):])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
