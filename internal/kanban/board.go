// Package kanban manages classic project boards with a fixed four-column
// workflow: epics and their sub-tasks start in Backlog and move right.
package kanban

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jordanhubbard/ouroboros/internal/github"
	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// Column names, left to right.
const (
	ColumnBacklog    = "Backlog"
	ColumnToDo       = "To Do"
	ColumnInProgress = "In Progress"
	ColumnDone       = "Done"
)

// Columns lists the board columns in order.
var Columns = []string{ColumnBacklog, ColumnToDo, ColumnInProgress, ColumnDone}

const (
	labelEpic = "epic"
	labelTask = "task"
)

var (
	// ErrProjectNotFound is returned when no board has the requested name.
	ErrProjectNotFound = errors.New("project not found")
	// ErrColumnNotFound is returned when a board lacks the requested column.
	ErrColumnNotFound = errors.New("column not found")
)

// Tracker is the tracker surface the board adapter drives.
type Tracker interface {
	IsAvailable(ctx context.Context) bool
	CreateIssue(ctx context.Context, req github.CreateIssueRequest) (*github.Issue, error)
	GetIssue(ctx context.Context, number int) (*github.Issue, error)

	ListProjects(ctx context.Context) ([]github.Project, error)
	CreateProject(ctx context.Context, name, body string) (*github.Project, error)
	ListColumns(ctx context.Context, projectID int64) ([]github.Column, error)
	CreateColumn(ctx context.Context, projectID int64, name string) (*github.Column, error)
	ListCards(ctx context.Context, columnID int64) ([]github.Card, error)
	CreateIssueCard(ctx context.Context, columnID, issueID int64) (*github.Card, error)
	MoveCard(ctx context.Context, cardID, columnID int64) error

	CreateProjectV2(ctx context.Context, title string) (*github.ProjectV2, error)
	SetProjectV2Readme(ctx context.Context, projectNumber int, readme string) error
	AddIssueToProjectV2(ctx context.Context, projectNumber int, issueURL string) (string, error)
	UpdateProjectItemStatus(ctx context.Context, s github.ProjectItemStatus) error
}

// BoardInfo describes a created project board.
type BoardInfo struct {
	Project github.Project           `json:"project"`
	Columns map[string]github.Column `json:"columns"`
}

// Epic is an epic issue and, when board creation succeeded, its board.
type Epic struct {
	Issue *github.Issue `json:"issue"`
	Board *BoardInfo    `json:"board,omitempty"`
}

// Adapter performs board operations against a tracker.
type Adapter struct {
	tracker Tracker
	enabled atomic.Bool
}

// NewAdapter creates an adapter. enabled gates the feature-project operations.
func NewAdapter(tracker Tracker, enabled bool) *Adapter {
	a := &Adapter{tracker: tracker}
	a.enabled.Store(enabled)
	return a
}

// SetEnabled toggles the feature-project operations.
func (a *Adapter) SetEnabled(enabled bool) { a.enabled.Store(enabled) }

// BoardName is the project name used for an epic's board.
func BoardName(epicTitle string) string {
	return epicTitle + " - Project Board"
}

// CreateEpic creates an issue labelled epic plus a board with the standard
// columns, carding the epic into Backlog. A board failure is logged and the
// epic is still returned, with a nil Board.
func (a *Adapter) CreateEpic(ctx context.Context, title, description string) (*Epic, error) {
	log := logging.Component("kanban")
	log.Info().Str("title", title).Msg("creating epic")

	issue, err := a.tracker.CreateIssue(ctx, github.CreateIssueRequest{
		Title:  title,
		Body:   description,
		Labels: []string{labelEpic},
	})
	if err != nil {
		return nil, fmt.Errorf("create epic issue: %w", err)
	}
	log.Info().Int("issue", issue.Number).Msg("created epic issue")

	board, err := a.createBoard(ctx, title, issue)
	if err != nil {
		log.Error().Err(err).Int("issue", issue.Number).Msg("failed to create project board for epic")
		return &Epic{Issue: issue}, nil
	}
	return &Epic{Issue: issue, Board: board}, nil
}

func (a *Adapter) createBoard(ctx context.Context, title string, epic *github.Issue) (*BoardInfo, error) {
	project, err := a.tracker.CreateProject(ctx, BoardName(title), "Project board for tracking epic: "+title)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	board := &BoardInfo{Project: *project, Columns: make(map[string]github.Column, len(Columns))}
	for _, name := range Columns {
		col, err := a.tracker.CreateColumn(ctx, project.ID, name)
		if err != nil {
			return nil, fmt.Errorf("create column %q: %w", name, err)
		}
		board.Columns[name] = *col
	}
	if _, err := a.tracker.CreateIssueCard(ctx, board.Columns[ColumnBacklog].ID, epic.ID); err != nil {
		return nil, fmt.Errorf("card epic into backlog: %w", err)
	}
	log := logging.Component("kanban")
	log.Info().Str("project", project.Name).Msg("created project board")
	return board, nil
}

// PopulateBacklog creates one issue labelled task per sub-task and cards it
// into the named board's Backlog. It stops at the first failure and returns
// the issues created so far alongside the error.
func (a *Adapter) PopulateBacklog(ctx context.Context, projectName string, subTasks []string) ([]*github.Issue, error) {
	project, err := a.findProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	backlog, err := a.findColumn(ctx, project, ColumnBacklog)
	if err != nil {
		return nil, err
	}

	log := logging.Component("kanban")
	created := make([]*github.Issue, 0, len(subTasks))
	for _, task := range subTasks {
		issue, err := a.tracker.CreateIssue(ctx, github.CreateIssueRequest{
			Title:  task,
			Labels: []string{labelTask},
		})
		if err != nil {
			return created, fmt.Errorf("create sub-task %q: %w", task, err)
		}
		created = append(created, issue)
		if _, err := a.tracker.CreateIssueCard(ctx, backlog.ID, issue.ID); err != nil {
			return created, fmt.Errorf("card sub-task #%d: %w", issue.Number, err)
		}
		log.Debug().Int("issue", issue.Number).Str("project", projectName).Msg("added sub-task to backlog")
	}
	log.Info().Int("count", len(created)).Str("project", projectName).Msg("populated backlog")
	return created, nil
}

// FetchNextAvailableTask returns the issue behind the top card of the first
// To Do column that has one. It returns nil, nil when no board offers work.
func (a *Adapter) FetchNextAvailableTask(ctx context.Context) (*github.Issue, error) {
	projects, err := a.tracker.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	log := logging.Component("kanban")
	for i := range projects {
		todo, err := a.findColumn(ctx, &projects[i], ColumnToDo)
		if err != nil {
			if !errors.Is(err, ErrColumnNotFound) {
				log.Warn().Err(err).Str("project", projects[i].Name).Msg("failed to read project columns")
			}
			continue
		}
		cards, err := a.tracker.ListCards(ctx, todo.ID)
		if err != nil {
			log.Warn().Err(err).Str("project", projects[i].Name).Msg("failed to list To Do cards")
			continue
		}
		if len(cards) == 0 {
			continue
		}
		number, ok := cards[0].IssueNumber()
		if !ok {
			continue
		}
		issue, err := a.tracker.GetIssue(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("get issue #%d: %w", number, err)
		}
		log.Info().Int("issue", issue.Number).Str("project", projects[i].Name).Msg("found next available task")
		return issue, nil
	}
	log.Debug().Msg("no tasks available in To Do columns")
	return nil, nil
}

// MoveIssueToColumn moves the issue's card to column with a single move call.
// An issue without a card gets a new card in column.
func (a *Adapter) MoveIssueToColumn(ctx context.Context, issueNumber int, projectName, column string) error {
	project, err := a.findProject(ctx, projectName)
	if err != nil {
		return err
	}
	columns, err := a.tracker.ListColumns(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	target, ok := columnByName(columns, column)
	if !ok {
		return fmt.Errorf("%w: %q in project %q", ErrColumnNotFound, column, projectName)
	}

	log := logging.Component("kanban")
	card, err := a.findCard(ctx, columns, issueNumber)
	if err != nil {
		return err
	}
	if card != nil {
		if err := a.tracker.MoveCard(ctx, card.ID, target.ID); err != nil {
			return fmt.Errorf("move card for issue #%d: %w", issueNumber, err)
		}
		log.Info().Int("issue", issueNumber).Str("column", column).Msg("moved issue card")
		return nil
	}

	issue, err := a.tracker.GetIssue(ctx, issueNumber)
	if err != nil {
		return fmt.Errorf("get issue #%d: %w", issueNumber, err)
	}
	if _, err := a.tracker.CreateIssueCard(ctx, target.ID, issue.ID); err != nil {
		return fmt.Errorf("create card for issue #%d: %w", issueNumber, err)
	}
	log.Info().Int("issue", issueNumber).Str("column", column).Msg("created issue card")
	return nil
}

// MarkInProgress moves the issue to In Progress.
func (a *Adapter) MarkInProgress(ctx context.Context, issueNumber int, projectName string) error {
	return a.MoveIssueToColumn(ctx, issueNumber, projectName, ColumnInProgress)
}

// MarkCompleted moves the issue to Done.
func (a *Adapter) MarkCompleted(ctx context.Context, issueNumber int, projectName string) error {
	return a.MoveIssueToColumn(ctx, issueNumber, projectName, ColumnDone)
}

func (a *Adapter) findProject(ctx context.Context, name string) (*github.Project, error) {
	projects, err := a.tracker.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, name)
}

func (a *Adapter) findColumn(ctx context.Context, project *github.Project, name string) (*github.Column, error) {
	columns, err := a.tracker.ListColumns(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	col, ok := columnByName(columns, name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in project %q", ErrColumnNotFound, name, project.Name)
	}
	return col, nil
}

func (a *Adapter) findCard(ctx context.Context, columns []github.Column, issueNumber int) (*github.Card, error) {
	for _, col := range columns {
		cards, err := a.tracker.ListCards(ctx, col.ID)
		if err != nil {
			return nil, fmt.Errorf("list cards in %q: %w", col.Name, err)
		}
		for i := range cards {
			if n, ok := cards[i].IssueNumber(); ok && n == issueNumber {
				return &cards[i], nil
			}
		}
	}
	return nil, nil
}

func columnByName(columns []github.Column, name string) (*github.Column, bool) {
	for i := range columns {
		if columns[i].Name == name {
			return &columns[i], true
		}
	}
	return nil, false
}
