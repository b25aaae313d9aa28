package github

// Issue represents a GitHub issue.
type Issue struct {
	ID     int64    `json:"id"`
	Number int      `json:"number"`
	Title  string   `json:"title"`
	Body   string   `json:"body,omitempty"`
	State  string   `json:"state"`
	URL    string   `json:"url"`
	Author string   `json:"author,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

// CreateIssueRequest holds parameters for creating a GitHub issue.
type CreateIssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// Project is a classic repository project board.
type Project struct {
	ID      int64  `json:"id"`
	Number  int    `json:"number"`
	Name    string `json:"name"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

// Column is a project board column.
type Column struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Card is a project board card. ContentURL is set for issue cards.
type Card struct {
	ID         int64  `json:"id"`
	Note       string `json:"note,omitempty"`
	ContentURL string `json:"content_url,omitempty"`
}

// IssueNumber returns the number of the issue the card points at.
func (c Card) IssueNumber() (int, bool) {
	return issueNumberFromURL(c.ContentURL)
}

// ProjectV2 is an owner-level project.
type ProjectV2 struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// ProjectItemStatus identifies a single-select value on a project item.
type ProjectItemStatus struct {
	ProjectID string
	ItemID    string
	FieldID   string
	OptionID  string
}
