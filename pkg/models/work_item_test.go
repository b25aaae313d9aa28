package models

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkItem(t *testing.T) {
	item := NewWorkItem("Generate X", "alice")

	assert.NotEmpty(t, item.ID)
	assert.Equal(t, WorkItemStatusPending, item.Status)
	assert.Equal(t, "alice", item.CreatedBy)
	assert.Nil(t, item.ExternalTrackerID)
	assert.False(t, item.IsLinked())
	assert.Equal(t, item.CreatedAt, item.UpdatedAt)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WorkItemStatus
		want     bool
	}{
		{WorkItemStatusPending, WorkItemStatusInProgress, true},
		{WorkItemStatusInProgress, WorkItemStatusCompleted, true},
		{WorkItemStatusInProgress, WorkItemStatusFailed, true},
		{WorkItemStatusPending, WorkItemStatusCompleted, false},
		{WorkItemStatusPending, WorkItemStatusFailed, false},
		{WorkItemStatusInProgress, WorkItemStatusPending, false},
		{WorkItemStatusCompleted, WorkItemStatusFailed, false},
		{WorkItemStatusFailed, WorkItemStatusPending, false},
		{WorkItemStatusCompleted, WorkItemStatusInProgress, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestWorkItem_Transition(t *testing.T) {
	item := NewWorkItem("Generate X", "")
	before := item.UpdatedAt
	time.Sleep(time.Millisecond)

	require.NoError(t, item.Transition(WorkItemStatusInProgress, "ignored"))
	assert.Equal(t, WorkItemStatusInProgress, item.Status)
	assert.Empty(t, item.Result, "result is only set on terminal states")
	assert.True(t, item.UpdatedAt.After(before))

	require.NoError(t, item.Transition(WorkItemStatusCompleted, "done"))
	assert.Equal(t, "done", item.Result)

	err := item.Transition(WorkItemStatusFailed, "nope")
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, WorkItemStatusCompleted, item.Status)
}

func TestWorkItem_SkipInProgressRejected(t *testing.T) {
	item := NewWorkItem("Generate X", "")
	err := item.Transition(WorkItemStatusCompleted, "done")
	require.Error(t, err)
	assert.Equal(t, WorkItemStatusPending, item.Status)
}

func TestWorkItem_Clone(t *testing.T) {
	id := int64(42)
	item := NewWorkItem("Generate X", "")
	item.ExternalTrackerID = &id

	c := item.Clone()
	*c.ExternalTrackerID = 7
	c.Description = "changed"

	assert.Equal(t, int64(42), item.TrackerID())
	assert.Equal(t, "Generate X", item.Description)
}

func TestParseWorkItemStatus(t *testing.T) {
	for _, s := range AllWorkItemStatuses() {
		got, err := ParseWorkItemStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)

		got, err = ParseWorkItemStatus(s.Label())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseWorkItemStatus("archived")
	assert.Error(t, err)
}

func TestWorkItemStatus_IsTerminal(t *testing.T) {
	assert.False(t, WorkItemStatusPending.IsTerminal())
	assert.False(t, WorkItemStatusInProgress.IsTerminal())
	assert.True(t, WorkItemStatusCompleted.IsTerminal())
	assert.True(t, WorkItemStatusFailed.IsTerminal())
}

func TestValidateDescription(t *testing.T) {
	assert.NoError(t, ValidateDescription("Generate X"))
	assert.NoError(t, ValidateDescription(strings.Repeat("é", DescriptionMaxLen)))

	for _, d := range []string{"", "  \n", strings.Repeat("x", DescriptionMaxLen+1)} {
		assert.ErrorIs(t, ValidateDescription(d), ErrInvalidDescription)
	}
}
