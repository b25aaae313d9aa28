// Package storetest holds the behavioural suite every store.Store must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, newStore(t)) })
	t.Run("OrderedByCreatedAt", func(t *testing.T) { testOrdering(t, newStore(t)) })
	t.Run("ClaimNextPending", func(t *testing.T) { testClaimNextPending(t, newStore(t)) })
	t.Run("ClaimPending", func(t *testing.T) { testClaimPending(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("SetExternalTrackerID", func(t *testing.T) { testSetExternalTrackerID(t, newStore(t)) })
	t.Run("UpdatedSinceQueries", func(t *testing.T) { testUpdatedSince(t, newStore(t)) })
	t.Run("Save", func(t *testing.T) { testSave(t, newStore(t)) })
}

// Seed creates n pending items with strictly increasing CreatedAt.
func Seed(t *testing.T, s store.Store, descriptions ...string) []*models.WorkItem {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	out := make([]*models.WorkItem, 0, len(descriptions))
	for i, d := range descriptions {
		item := models.NewWorkItem(d, "tester")
		item.CreatedAt = base.Add(time.Duration(i) * time.Second)
		item.UpdatedAt = item.CreatedAt
		require.NoError(t, s.Create(context.Background(), item))
		out = append(out, item)
	}
	return out
}

func testCreateAndFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "one")

	got, err := s.FindByID(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "one", got.Description)
	assert.Equal(t, models.WorkItemStatusPending, got.Status)
	assert.Equal(t, "tester", got.CreatedBy)
	assert.Nil(t, got.ExternalTrackerID)

	_, err = s.FindByID(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	Seed(t, s, "a", "b", "c")

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, descriptions(all))

	pending, err := s.FindByStatus(ctx, models.WorkItemStatusPending)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, descriptions(pending))
}

func testClaimNextPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	Seed(t, s, "first", "second")

	claimed, err := s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "first", claimed.Description)
	assert.Equal(t, models.WorkItemStatusInProgress, claimed.Status)

	claimed, err = s.ClaimNextPending(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "second", claimed.Description)

	claimed, err = s.ClaimNextPending(ctx)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func testClaimPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "only")

	claimed, err := s.ClaimPending(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusInProgress, claimed.Status)

	_, err = s.ClaimPending(ctx, items[0].ID)
	assert.True(t, errors.Is(err, store.ErrAlreadyClaimed))

	_, err = s.ClaimPending(ctx, "missing")
	assert.Error(t, err)
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "contended")

	const claimants = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimNextPending(ctx)
			if err == nil && claimed != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one claimant wins")
	got, err := s.FindByID(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusInProgress, got.Status)
}

func testTransition(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "x")
	id := items[0].ID

	_, err := s.Transition(ctx, id, models.WorkItemStatusPending, models.WorkItemStatusCompleted, "skip")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))

	_, err = s.Transition(ctx, id, models.WorkItemStatusInProgress, models.WorkItemStatusCompleted, "stale")
	assert.True(t, errors.Is(err, store.ErrStaleStatus))

	_, err = s.ClaimPending(ctx, id)
	require.NoError(t, err)

	done, err := s.Transition(ctx, id, models.WorkItemStatusInProgress, models.WorkItemStatusCompleted, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.WorkItemStatusCompleted, done.Status)
	assert.Equal(t, "ok", done.Result)
	assert.False(t, done.UpdatedAt.Before(done.CreatedAt))

	got, err := s.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Result)
}

func testSetExternalTrackerID(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "link me", "leave me")
	before, err := s.FindByID(ctx, items[0].ID)
	require.NoError(t, err)

	require.NoError(t, s.SetExternalTrackerID(ctx, items[0].ID, 42))
	err = s.SetExternalTrackerID(ctx, items[0].ID, 43)
	assert.True(t, errors.Is(err, store.ErrAlreadyLinked))

	got, err := s.FindByID(ctx, items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExternalTrackerID)
	assert.Equal(t, int64(42), *got.ExternalTrackerID)
	assert.True(t, got.UpdatedAt.Equal(before.UpdatedAt), "linking does not bump updated_at")

	unlinked, err := s.FindWithNullExternalID(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"leave me"}, descriptions(unlinked))
}

func testUpdatedSince(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "old", "linked-progress", "unlinked-progress")
	cursor := time.Now().UTC().Add(-time.Minute)

	require.NoError(t, s.SetExternalTrackerID(ctx, items[1].ID, 7))
	_, err := s.ClaimPending(ctx, items[1].ID)
	require.NoError(t, err)
	_, err = s.ClaimPending(ctx, items[2].ID)
	require.NoError(t, err)

	updated, err := s.FindUpdatedSince(ctx, cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"linked-progress", "unlinked-progress"}, descriptions(updated))

	linked, err := s.FindLinkedUpdatedSince(ctx, cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"linked-progress"}, descriptions(linked))

	inProgress, err := s.FindByStatusUpdatedSince(ctx, models.WorkItemStatusInProgress, cursor)
	require.NoError(t, err)
	assert.Len(t, inProgress, 2)

	none, err := s.FindByStatusUpdatedSince(ctx, models.WorkItemStatusInProgress, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSave(t *testing.T, s store.Store) {
	ctx := context.Background()
	items := Seed(t, s, "before")
	item := items[0]
	prev := item.UpdatedAt

	item.Description = "after"
	require.NoError(t, s.Save(ctx, item))

	got, err := s.FindByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Description)
	assert.True(t, got.UpdatedAt.After(prev))

	missing := models.NewWorkItem("ghost", "")
	assert.True(t, errors.Is(s.Save(ctx, missing), store.ErrNotFound))
}

func descriptions(items []*models.WorkItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Description)
	}
	return out
}
