package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DescriptionMaxLen is the longest description the submission surface accepts.
// The lifecycle engine does not enforce it.
const DescriptionMaxLen = 1000

// ErrInvalidDescription is returned for empty or over-long descriptions.
var ErrInvalidDescription = errors.New("invalid description")

// ValidateDescription checks a submitted description against DescriptionMaxLen.
func ValidateDescription(description string) error {
	if strings.TrimSpace(description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidDescription)
	}
	if n := utf8.RuneCountInString(description); n > DescriptionMaxLen {
		return fmt.Errorf("%w: %d characters, the limit is %d", ErrInvalidDescription, n, DescriptionMaxLen)
	}
	return nil
}

// ErrInvalidTransition is returned when a status change is not allowed by the lifecycle.
var ErrInvalidTransition = errors.New("invalid work item transition")

// WorkItemStatus represents the lifecycle state of a work item
type WorkItemStatus string

const (
	WorkItemStatusPending    WorkItemStatus = "pending"
	WorkItemStatusInProgress WorkItemStatus = "in_progress"
	WorkItemStatusCompleted  WorkItemStatus = "completed"
	WorkItemStatusFailed     WorkItemStatus = "failed"
)

// allowedTransitions is the forward-only lifecycle chain.
var allowedTransitions = map[WorkItemStatus]map[WorkItemStatus]struct{}{
	WorkItemStatusPending: {
		WorkItemStatusInProgress: {},
	},
	WorkItemStatusInProgress: {
		WorkItemStatusCompleted: {},
		WorkItemStatusFailed:    {},
	},
}

// AllWorkItemStatuses lists the statuses in lifecycle order.
func AllWorkItemStatuses() []WorkItemStatus {
	return []WorkItemStatus{
		WorkItemStatusPending,
		WorkItemStatusInProgress,
		WorkItemStatusCompleted,
		WorkItemStatusFailed,
	}
}

// ParseWorkItemStatus accepts the canonical lower-case form as well as the
// upper-case labels used in tracker comments.
func ParseWorkItemStatus(s string) (WorkItemStatus, error) {
	switch s {
	case "pending", "PENDING":
		return WorkItemStatusPending, nil
	case "in_progress", "IN_PROGRESS":
		return WorkItemStatusInProgress, nil
	case "completed", "COMPLETED":
		return WorkItemStatusCompleted, nil
	case "failed", "FAILED":
		return WorkItemStatusFailed, nil
	}
	return "", fmt.Errorf("unknown work item status %q", s)
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s WorkItemStatus) IsTerminal() bool {
	return s == WorkItemStatusCompleted || s == WorkItemStatusFailed
}

// Label returns the upper-case form used in tracker comments (e.g. IN_PROGRESS).
func (s WorkItemStatus) Label() string {
	switch s {
	case WorkItemStatusPending:
		return "PENDING"
	case WorkItemStatusInProgress:
		return "IN_PROGRESS"
	case WorkItemStatusCompleted:
		return "COMPLETED"
	case WorkItemStatusFailed:
		return "FAILED"
	}
	return string(s)
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to WorkItemStatus) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// WorkItem is the unit of autonomous work tracked through the lifecycle.
type WorkItem struct {
	ID                string         `json:"id"`
	Description       string         `json:"description"`
	Status            WorkItemStatus `json:"status"`
	ExternalTrackerID *int64         `json:"external_tracker_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CreatedBy         string         `json:"created_by,omitempty"`
	Result            string         `json:"result,omitempty"`
}

// NewWorkItem creates a pending work item with a fresh id.
func NewWorkItem(description, createdBy string) *WorkItem {
	now := time.Now().UTC()
	return &WorkItem{
		ID:          uuid.New().String(),
		Description: description,
		Status:      WorkItemStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   createdBy,
	}
}

// Transition moves the item to the next status, bumping UpdatedAt.
// Result is only recorded for terminal statuses.
func (w *WorkItem) Transition(to WorkItemStatus, result string) error {
	if !CanTransition(w.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, to)
	}
	w.Status = to
	if to.IsTerminal() {
		w.Result = result
	}
	w.Touch()
	return nil
}

// Touch bumps UpdatedAt, never letting it fall behind CreatedAt.
func (w *WorkItem) Touch() {
	now := time.Now().UTC()
	if now.Before(w.CreatedAt) {
		now = w.CreatedAt
	}
	w.UpdatedAt = now
}

// IsLinked reports whether a tracker issue has been created for the item.
func (w *WorkItem) IsLinked() bool {
	return w.ExternalTrackerID != nil
}

// TrackerID returns the tracker issue number, or 0 when unlinked.
func (w *WorkItem) TrackerID() int64 {
	if w.ExternalTrackerID == nil {
		return 0
	}
	return *w.ExternalTrackerID
}

// Clone returns a deep copy so stores can hand out items without sharing state.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	if w.ExternalTrackerID != nil {
		id := *w.ExternalTrackerID
		c.ExternalTrackerID = &id
	}
	return &c
}
