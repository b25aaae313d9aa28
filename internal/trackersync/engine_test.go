package trackersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/github"
	"github.com/jordanhubbard/ouroboros/internal/lease"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/store/storetest"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

type fakeTracker struct {
	mu          sync.Mutex
	available   bool
	nextNumber  int
	ops         []string
	bodies      map[int][]string
	failCreate  string
	failComment map[int]bool
	failLabel   bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{available: true, nextNumber: 100, bodies: map[int][]string{}, failComment: map[int]bool{}}
}

func (f *fakeTracker) IsAvailable(ctx context.Context) bool { return f.available }

func (f *fakeTracker) CreateIssue(ctx context.Context, req github.CreateIssueRequest) (*github.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != "" && strings.Contains(req.Title, f.failCreate) {
		return nil, errors.New("HTTP 502")
	}
	n := f.nextNumber
	f.nextNumber++
	f.ops = append(f.ops, fmt.Sprintf("create:%d", n))
	f.bodies[n] = append(f.bodies[n], req.Title, req.Body)
	return &github.Issue{Number: n, Title: req.Title}, nil
}

func (f *fakeTracker) CommentOnIssue(ctx context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failComment[number] {
		return errors.New("HTTP 500")
	}
	f.ops = append(f.ops, fmt.Sprintf("comment:%d", number))
	f.bodies[number] = append(f.bodies[number], body)
	return nil
}

func (f *fakeTracker) AddLabels(ctx context.Context, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLabel {
		return errors.New("HTTP 422")
	}
	f.ops = append(f.ops, fmt.Sprintf("label:%d:%s", number, strings.Join(labels, ",")))
	return nil
}

func (f *fakeTracker) CloseIssue(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("close:%d", number))
	return nil
}

func (f *fakeTracker) opsList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func enabled() Config { return Config{Enabled: true} }

func link(t *testing.T, s store.Store, item *models.WorkItem, number int64) {
	t.Helper()
	require.NoError(t, s.SetExternalTrackerID(context.Background(), item.ID, number))
}

func TestSyncOnce_SkipsWhenDisabled(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "a")
	tracker := newFakeTracker()
	e := NewEngine(s, tracker, Config{Enabled: false})
	before := e.Cursor()

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, SkipDisabled, report.SkipReason)
	assert.Empty(t, tracker.opsList())
	assert.Equal(t, before, e.Cursor())
}

func TestSyncOnce_SkipsWhenUnavailable(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "a")
	tracker := newFakeTracker()
	tracker.available = false
	e := NewEngine(s, tracker, enabled())
	before := e.Cursor()

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipUnavailable, report.SkipReason)
	assert.Empty(t, tracker.opsList())
	assert.Equal(t, before, e.Cursor())
}

func TestSyncOnce_CreatesIssuesForUnlinkedItems(t *testing.T) {
	s := store.NewMemoryStore()
	items := storetest.Seed(t, s, "first", "second")
	tracker := newFakeTracker()
	rec := &recorder{}
	e := NewEngine(s, tracker, enabled(), WithEvents(rec))

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, []string{"create:100", "create:101"}, tracker.opsList())

	got, err := s.FindByID(context.Background(), items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TrackerID())
	assert.Equal(t, items[0].UpdatedAt, got.UpdatedAt, "linking must not bump updated_at")

	assert.Equal(t, "🤖 Agent Task: first", tracker.bodies[100][0])
	body := tracker.bodies[100][1]
	assert.Contains(t, body, "**Description:** first")
	assert.Contains(t, body, "**Status:** PENDING")
	assert.Contains(t, body, "**Created by:** tester")
	assert.Contains(t, body, "**Proposal ID:** "+items[0].ID)

	assert.Contains(t, rec.types(), events.EventTypeWorkItemLinked)
	assert.Contains(t, rec.types(), events.EventTypeTrackerSynced)

	// Already linked items are never re-created.
	_, err = e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, tracker.opsList(), 2)
}

func TestSyncOnce_CreateFailureIsolatedPerItem(t *testing.T) {
	s := store.NewMemoryStore()
	items := storetest.Seed(t, s, "broken", "fine")
	tracker := newFakeTracker()
	tracker.failCreate = "broken"
	e := NewEngine(s, tracker, enabled())

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Failures)

	broken, _ := s.FindByID(context.Background(), items[0].ID)
	assert.False(t, broken.IsLinked())
	fine, _ := s.FindByID(context.Background(), items[1].ID)
	assert.True(t, fine.IsLinked())
}

func TestSyncOnce_CommentsInProgressOnly(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	items := storetest.Seed(t, s, "running", "waiting")
	link(t, s, items[0], 7)
	link(t, s, items[1], 8)
	_, err := s.ClaimPending(ctx, items[0].ID)
	require.NoError(t, err)

	tracker := newFakeTracker()
	e := NewEngine(s, tracker, enabled())
	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Commented)
	assert.Equal(t, []string{"comment:7"}, tracker.opsList())
	assert.Contains(t, tracker.bodies[7][0], "🤖 **Status Update:** Task moved to **IN_PROGRESS** at ")
}

func TestSyncOnce_ClosesTerminalItems(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	items := storetest.Seed(t, s, "done", "broken")
	link(t, s, items[0], 7)
	link(t, s, items[1], 8)
	for i, to := range []models.WorkItemStatus{models.WorkItemStatusCompleted, models.WorkItemStatusFailed} {
		_, err := s.ClaimPending(ctx, items[i].ID)
		require.NoError(t, err)
		_, err = s.Transition(ctx, items[i].ID, models.WorkItemStatusInProgress, to, "r")
		require.NoError(t, err)
	}

	tracker := newFakeTracker()
	e := NewEngine(s, tracker, enabled())
	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Closed)
	assert.Equal(t, []string{
		"comment:7", "label:7:status:completed", "close:7",
		"comment:8", "label:8:status:failed", "close:8",
	}, tracker.opsList())
	assert.True(t, strings.HasPrefix(tracker.bodies[7][0], "✅ **Task completed** at "))
	assert.True(t, strings.HasPrefix(tracker.bodies[8][0], "❌ **Task failed** at "))
}

func TestSyncOnce_CloseStopsAtFirstFailingStep(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	items := storetest.Seed(t, s, "done")
	link(t, s, items[0], 7)
	_, err := s.ClaimPending(ctx, items[0].ID)
	require.NoError(t, err)
	_, err = s.Transition(ctx, items[0].ID, models.WorkItemStatusInProgress, models.WorkItemStatusCompleted, "ok")
	require.NoError(t, err)

	tracker := newFakeTracker()
	tracker.failLabel = true
	e := NewEngine(s, tracker, enabled())
	report, err := e.SyncOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Closed)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, []string{"comment:7"}, tracker.opsList())
}

func TestSyncOnce_CursorAdvancesToCycleStart(t *testing.T) {
	s := store.NewMemoryStore()
	e := NewEngine(s, newFakeTracker(), enabled())
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return start }

	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, start, report.Start)
	assert.Equal(t, start, e.Cursor())
	assert.Same(t, report, e.LastReport())
}

func TestNewEngine_CursorLookback(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), newFakeTracker(), Config{CursorLookback: 2 * time.Hour})
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), e.Cursor(), time.Minute)
}

// midCycleStore changes an item while the first cycle is running.
type midCycleStore struct {
	*store.MemoryStore
	once   sync.Once
	change func(ctx context.Context)
}

func (m *midCycleStore) FindWithNullExternalID(ctx context.Context) ([]*models.WorkItem, error) {
	m.once.Do(func() { m.change(ctx) })
	return m.MemoryStore.FindWithNullExternalID(ctx)
}

// runCycles runs a cycle whose start precedes the mid-cycle change, then two
// cycles on the real clock.
func runCycles(t *testing.T, e *Engine) (first, all []string) {
	t.Helper()
	tracker := e.tracker.(*fakeTracker)
	start := time.Now().UTC().Add(-time.Second)
	e.now = func() time.Time { return start }
	_, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	first = tracker.opsList()

	e.now = time.Now
	for i := 0; i < 2; i++ {
		_, err := e.SyncOnce(context.Background())
		require.NoError(t, err)
	}
	return first, tracker.opsList()
}

func TestSyncOnce_ItemFinishedMidCycleClosedOnce(t *testing.T) {
	ctx := context.Background()
	s := &midCycleStore{MemoryStore: store.NewMemoryStore()}
	items := storetest.Seed(t, s, "finishes during sync")
	link(t, s, items[0], 7)
	_, err := s.ClaimPending(ctx, items[0].ID)
	require.NoError(t, err)
	s.change = func(ctx context.Context) {
		_, err := s.MemoryStore.Transition(ctx, items[0].ID, models.WorkItemStatusInProgress, models.WorkItemStatusCompleted, "ok")
		require.NoError(t, err)
	}

	first, all := runCycles(t, NewEngine(s, newFakeTracker(), enabled()))
	assert.Empty(t, first, "changes after the cycle start wait for the next cycle")
	assert.Equal(t, []string{"comment:7", "label:7:status:completed", "close:7"}, all)
}

func TestSyncOnce_ItemClaimedMidCycleCommentedOnce(t *testing.T) {
	s := &midCycleStore{MemoryStore: store.NewMemoryStore()}
	items := storetest.Seed(t, s, "claimed during sync")
	link(t, s, items[0], 7)
	s.change = func(ctx context.Context) {
		_, err := s.MemoryStore.ClaimPending(ctx, items[0].ID)
		require.NoError(t, err)
	}

	first, all := runCycles(t, NewEngine(s, newFakeTracker(), enabled()))
	assert.Empty(t, first)
	assert.Equal(t, []string{"comment:7"}, all)
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) FindLinkedUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error) {
	return nil, errors.New("connection reset")
}

func TestSyncOnce_StoreFailureLeavesCursor(t *testing.T) {
	s := failingStore{store.NewMemoryStore()}
	storetest.Seed(t, s, "a")
	tracker := newFakeTracker()
	e := NewEngine(s, tracker, enabled())
	before := e.Cursor()

	_, err := e.SyncOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, before, e.Cursor())
	// Pass A ran before the failing query.
	assert.Equal(t, []string{"create:100"}, tracker.opsList())
}

func TestSyncOnce_SkipsWhenLeaseHeld(t *testing.T) {
	s := store.NewMemoryStore()
	storetest.Seed(t, s, "a")
	locker := lease.NewMemoryLocker()
	held, err := locker.Acquire(context.Background(), LeaseName, time.Minute)
	require.NoError(t, err)

	tracker := newFakeTracker()
	e := NewEngine(s, tracker, enabled(), WithLease(locker))
	report, err := e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SkipLeaseHeld, report.SkipReason)
	assert.Empty(t, tracker.opsList())

	require.NoError(t, held.Release(context.Background()))
	report, err = e.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Created)
}

func TestSetEnabled(t *testing.T) {
	e := NewEngine(store.NewMemoryStore(), newFakeTracker(), Config{})
	assert.False(t, e.Enabled())
	e.SetEnabled(true)
	assert.True(t, e.Enabled())
}

func TestIssueTitle_Truncates(t *testing.T) {
	long := strings.Repeat("x", 150)
	title := IssueTitle(&models.WorkItem{Description: long})
	assert.Equal(t, "🤖 Agent Task: "+strings.Repeat("x", 100)+"...", title)

	exact := strings.Repeat("y", 100)
	assert.Equal(t, "🤖 Agent Task: "+exact, IssueTitle(&models.WorkItem{Description: exact}))
}

func TestIssueBody_DefaultCreator(t *testing.T) {
	item := models.NewWorkItem("x", "")
	assert.Contains(t, IssueBody(item), "**Created by:** System")
}

type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
