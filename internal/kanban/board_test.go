package kanban

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/github"
)

// fakeBoard is an in-memory classic projects API.
type fakeBoard struct {
	available bool
	nextID    int64
	issues    map[int]*github.Issue
	projects  []github.Project
	columns   map[int64][]github.Column
	cards     map[int64][]github.Card

	failCreateProject bool
	failIssueAfter    int
	failMove          bool
	moves             int
	v2Calls           []string
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{
		available:      true,
		nextID:         1,
		issues:         map[int]*github.Issue{},
		columns:        map[int64][]github.Column{},
		cards:          map[int64][]github.Card{},
		failIssueAfter: -1,
	}
}

func (f *fakeBoard) id() int64 { f.nextID++; return f.nextID }

func (f *fakeBoard) IsAvailable(ctx context.Context) bool { return f.available }

func (f *fakeBoard) CreateIssue(ctx context.Context, req github.CreateIssueRequest) (*github.Issue, error) {
	if f.failIssueAfter == 0 {
		return nil, errors.New("HTTP 502")
	}
	if f.failIssueAfter > 0 {
		f.failIssueAfter--
	}
	number := len(f.issues) + 1
	issue := &github.Issue{ID: 1000 + int64(number), Number: number, Title: req.Title, Labels: req.Labels}
	f.issues[number] = issue
	return issue, nil
}

func (f *fakeBoard) GetIssue(ctx context.Context, number int) (*github.Issue, error) {
	issue, ok := f.issues[number]
	if !ok {
		return nil, errors.New("HTTP 404")
	}
	return issue, nil
}

func (f *fakeBoard) ListProjects(ctx context.Context) ([]github.Project, error) {
	return f.projects, nil
}

func (f *fakeBoard) CreateProject(ctx context.Context, name, body string) (*github.Project, error) {
	if f.failCreateProject {
		return nil, errors.New("HTTP 410 projects disabled")
	}
	p := github.Project{ID: f.id(), Name: name, Body: body}
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakeBoard) ListColumns(ctx context.Context, projectID int64) ([]github.Column, error) {
	return f.columns[projectID], nil
}

func (f *fakeBoard) CreateColumn(ctx context.Context, projectID int64, name string) (*github.Column, error) {
	col := github.Column{ID: f.id(), Name: name}
	f.columns[projectID] = append(f.columns[projectID], col)
	return &col, nil
}

func (f *fakeBoard) ListCards(ctx context.Context, columnID int64) ([]github.Card, error) {
	return f.cards[columnID], nil
}

func (f *fakeBoard) CreateIssueCard(ctx context.Context, columnID, issueID int64) (*github.Card, error) {
	card := github.Card{
		ID:         f.id(),
		ContentURL: fmt.Sprintf("https://api.github.com/repos/acme/widgets/issues/%d", issueID-1000),
	}
	f.cards[columnID] = append(f.cards[columnID], card)
	return &card, nil
}

func (f *fakeBoard) MoveCard(ctx context.Context, cardID, columnID int64) error {
	if f.failMove {
		return errors.New("HTTP 500")
	}
	for colID, cards := range f.cards {
		for i, c := range cards {
			if c.ID == cardID {
				f.cards[colID] = append(cards[:i:i], cards[i+1:]...)
				f.cards[columnID] = append([]github.Card{c}, f.cards[columnID]...)
				f.moves++
				return nil
			}
		}
	}
	return errors.New("card not found")
}

func (f *fakeBoard) CreateProjectV2(ctx context.Context, title string) (*github.ProjectV2, error) {
	f.v2Calls = append(f.v2Calls, "create:"+title)
	return &github.ProjectV2{ID: "PVT_1", Number: 1, Title: title}, nil
}

func (f *fakeBoard) SetProjectV2Readme(ctx context.Context, projectNumber int, readme string) error {
	f.v2Calls = append(f.v2Calls, "readme")
	return nil
}

func (f *fakeBoard) AddIssueToProjectV2(ctx context.Context, projectNumber int, issueURL string) (string, error) {
	f.v2Calls = append(f.v2Calls, "add:"+issueURL)
	return "PVTI_1", nil
}

func (f *fakeBoard) UpdateProjectItemStatus(ctx context.Context, s github.ProjectItemStatus) error {
	f.v2Calls = append(f.v2Calls, "status:"+s.ItemID)
	return nil
}

func (f *fakeBoard) column(t *testing.T, projectName, column string) github.Column {
	t.Helper()
	for _, p := range f.projects {
		if p.Name != projectName {
			continue
		}
		for _, c := range f.columns[p.ID] {
			if c.Name == column {
				return c
			}
		}
	}
	t.Fatalf("column %q not found in %q", column, projectName)
	return github.Column{}
}

func (f *fakeBoard) cardIssues(t *testing.T, projectName, column string) []int {
	t.Helper()
	var out []int
	for _, card := range f.cards[f.column(t, projectName, column).ID] {
		n, _ := card.IssueNumber()
		out = append(out, n)
	}
	return out
}

func TestCreateEpic(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)

	epic, err := a.CreateEpic(context.Background(), "Payments", "Rebuild payments")
	require.NoError(t, err)
	require.NotNil(t, epic.Board)

	assert.Equal(t, []string{"epic"}, epic.Issue.Labels)
	assert.Equal(t, "Payments - Project Board", epic.Board.Project.Name)
	names := make([]string, 0, 4)
	for _, c := range board.columns[epic.Board.Project.ID] {
		names = append(names, c.Name)
	}
	assert.Equal(t, Columns, names)
	assert.Equal(t, []int{epic.Issue.Number}, board.cardIssues(t, "Payments - Project Board", ColumnBacklog))
}

func TestCreateEpic_BoardFailureStillReturnsEpic(t *testing.T) {
	board := newFakeBoard()
	board.failCreateProject = true

	epic, err := NewAdapter(board, true).CreateEpic(context.Background(), "Payments", "x")
	require.NoError(t, err)
	assert.NotNil(t, epic.Issue)
	assert.Nil(t, epic.Board)
}

func TestPopulateBacklog(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	_, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)

	issues, err := a.PopulateBacklog(ctx, "Payments - Project Board", []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, []string{"task"}, issues[0].Labels)
	assert.Equal(t, []int{1, 2, 3}, board.cardIssues(t, "Payments - Project Board", ColumnBacklog))
}

func TestPopulateBacklog_StopsAtFirstFailure(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	_, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)

	board.failIssueAfter = 1
	issues, err := a.PopulateBacklog(ctx, "Payments - Project Board", []string{"a", "b", "c"})
	require.Error(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, "a", issues[0].Title)
}

func TestPopulateBacklog_UnknownProject(t *testing.T) {
	_, err := NewAdapter(newFakeBoard(), true).PopulateBacklog(context.Background(), "nope", []string{"a"})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestFetchNextAvailableTask(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()

	got, err := a.FetchNextAvailableTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	epic, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)
	got, err = a.FetchNextAvailableTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "backlog cards are not available work")

	require.NoError(t, a.MoveIssueToColumn(ctx, epic.Issue.Number, "Payments - Project Board", ColumnToDo))
	got, err = a.FetchNextAvailableTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, epic.Issue.Number, got.Number)
}

func TestMoveIssueToColumn_UsesMovePrimitive(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	epic, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)
	const name = "Payments - Project Board"

	require.NoError(t, a.MarkInProgress(ctx, epic.Issue.Number, name))
	assert.Empty(t, board.cardIssues(t, name, ColumnBacklog))
	assert.Equal(t, []int{epic.Issue.Number}, board.cardIssues(t, name, ColumnInProgress))

	require.NoError(t, a.MarkCompleted(ctx, epic.Issue.Number, name))
	assert.Equal(t, []int{epic.Issue.Number}, board.cardIssues(t, name, ColumnDone))
	assert.Equal(t, 2, board.moves)
}

func TestMoveIssueToColumn_FailedMoveKeepsCard(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	epic, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)
	const name = "Payments - Project Board"

	board.failMove = true
	require.Error(t, a.MarkInProgress(ctx, epic.Issue.Number, name))
	assert.Equal(t, []int{epic.Issue.Number}, board.cardIssues(t, name, ColumnBacklog))
}

func TestMoveIssueToColumn_CreatesMissingCard(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	_, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)
	const name = "Payments - Project Board"

	loose, err := board.CreateIssue(ctx, github.CreateIssueRequest{Title: "loose"})
	require.NoError(t, err)

	require.NoError(t, a.MoveIssueToColumn(ctx, loose.Number, name, ColumnToDo))
	assert.Equal(t, []int{loose.Number}, board.cardIssues(t, name, ColumnToDo))
	assert.Zero(t, board.moves)
}

func TestMoveIssueToColumn_UnknownColumn(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()
	epic, err := a.CreateEpic(ctx, "Payments", "x")
	require.NoError(t, err)

	err = a.MoveIssueToColumn(ctx, epic.Issue.Number, "Payments - Project Board", "Review")
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestFeatureProjects_Gated(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, false)
	ctx := context.Background()

	p, err := a.CreateFeatureProject(ctx, "Search", "Full-text search")
	require.NoError(t, err)
	assert.Nil(t, p)
	itemID, err := a.AddIssueToProject(ctx, 1, "https://github.com/acme/widgets/issues/1")
	require.NoError(t, err)
	assert.Empty(t, itemID)
	assert.Empty(t, board.v2Calls)

	a.SetEnabled(true)
	board.available = false
	p, err = a.CreateFeatureProject(ctx, "Search", "Full-text search")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, board.v2Calls)
}

func TestFeatureProjects(t *testing.T) {
	board := newFakeBoard()
	a := NewAdapter(board, true)
	ctx := context.Background()

	p, err := a.CreateFeatureProject(ctx, "Search", "Full-text search")
	require.NoError(t, err)
	assert.Equal(t, "Feature: Search", p.Title)

	itemID, err := a.AddIssueToProject(ctx, p.Number, "https://github.com/acme/widgets/issues/1")
	require.NoError(t, err)
	assert.Equal(t, "PVTI_1", itemID)

	require.NoError(t, a.UpdateProjectItemStatus(ctx, github.ProjectItemStatus{ProjectID: p.ID, ItemID: itemID}))
	assert.Equal(t, []string{"create:Feature: Search", "readme", "add:https://github.com/acme/widgets/issues/1", "status:PVTI_1"}, board.v2Calls)
	assert.Contains(t, FeatureProjectReadme("Search", "Full-text search"), "**Feature Name:** Search")
}
