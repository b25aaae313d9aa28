package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Classic project boards: repository projects with columns and cards.

// ListProjects returns the repository's project boards in API order.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	if err := c.api(ctx, "list projects", "GET", c.repoPath("projects?state=open&per_page=100"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateProject creates a repository project board.
func (c *Client) CreateProject(ctx context.Context, name, body string) (*Project, error) {
	var p Project
	err := c.api(ctx, "create project", "POST", c.repoPath("projects"),
		map[string]string{"name": name, "body": body}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListColumns returns the columns of a project in board order.
func (c *Client) ListColumns(ctx context.Context, projectID int64) ([]Column, error) {
	var out []Column
	if err := c.api(ctx, "list columns", "GET", fmt.Sprintf("projects/%d/columns?per_page=100", projectID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateColumn appends a column to a project.
func (c *Client) CreateColumn(ctx context.Context, projectID int64, name string) (*Column, error) {
	var col Column
	err := c.api(ctx, "create column", "POST", fmt.Sprintf("projects/%d/columns", projectID),
		map[string]string{"name": name}, &col)
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// ListCards returns the cards of a column, top first.
func (c *Client) ListCards(ctx context.Context, columnID int64) ([]Card, error) {
	var out []Card
	if err := c.api(ctx, "list cards", "GET", fmt.Sprintf("projects/columns/%d/cards?per_page=100", columnID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateIssueCard adds a card for an issue. issueID is the REST id, not the number.
func (c *Client) CreateIssueCard(ctx context.Context, columnID, issueID int64) (*Card, error) {
	var card Card
	err := c.api(ctx, "create card", "POST", fmt.Sprintf("projects/columns/%d/cards", columnID),
		map[string]interface{}{"content_id": issueID, "content_type": "Issue"}, &card)
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// MoveCard moves a card to the top of another column in a single call.
func (c *Client) MoveCard(ctx context.Context, cardID, columnID int64) error {
	return c.api(ctx, "move card", "POST", fmt.Sprintf("projects/columns/cards/%d/moves", cardID),
		map[string]interface{}{"position": "top", "column_id": columnID}, nil)
}

// Projects v2, driven through `gh project`.

// CreateProjectV2 creates an owner-level project.
func (c *Client) CreateProjectV2(ctx context.Context, title string) (*ProjectV2, error) {
	out, err := c.gh(ctx, "create project", nil,
		"project", "create", "--owner", c.owner, "--title", title, "--format", "json")
	if err != nil {
		return nil, err
	}
	var p ProjectV2
	if err := json.Unmarshal(out, &p); err != nil {
		return nil, &APIError{Op: "create project", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &p, nil
}

// AddIssueToProjectV2 adds an issue to the project with the given number and
// returns the new item id.
func (c *Client) AddIssueToProjectV2(ctx context.Context, projectNumber int, issueURL string) (string, error) {
	out, err := c.gh(ctx, "add project item", nil,
		"project", "item-add", strconv.Itoa(projectNumber),
		"--owner", c.owner, "--url", issueURL, "--format", "json")
	if err != nil {
		return "", err
	}
	var item struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &item); err != nil {
		return "", &APIError{Op: "add project item", Err: fmt.Errorf("decode response: %w", err)}
	}
	return item.ID, nil
}

// UpdateProjectItemStatus sets a single-select status field on a project item.
func (c *Client) UpdateProjectItemStatus(ctx context.Context, s ProjectItemStatus) error {
	_, err := c.gh(ctx, "edit project item", nil,
		"project", "item-edit",
		"--id", s.ItemID,
		"--project-id", s.ProjectID,
		"--field-id", s.FieldID,
		"--single-select-option-id", s.OptionID)
	return err
}

// SetProjectV2Readme replaces the readme of an owner-level project.
func (c *Client) SetProjectV2Readme(ctx context.Context, projectNumber int, readme string) error {
	_, err := c.gh(ctx, "edit project", nil,
		"project", "edit", strconv.Itoa(projectNumber), "--owner", c.owner, "--readme", readme)
	return err
}
