// Package store defines the persistence contract for work items.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jordanhubbard/ouroboros/pkg/models"
)

var (
	// ErrNotFound is returned when no work item has the requested id.
	ErrNotFound = errors.New("work item not found")
	// ErrAlreadyClaimed is returned when a claim loses to another claimant.
	ErrAlreadyClaimed = errors.New("work item already claimed")
	// ErrAlreadyLinked is returned when a tracker id is already recorded.
	ErrAlreadyLinked = errors.New("work item already linked to a tracker issue")
	// ErrStaleStatus is returned when a conditional transition finds a different current status.
	ErrStaleStatus = errors.New("work item status changed concurrently")
)

// Store persists work items. Every list result is ordered by CreatedAt ascending.
type Store interface {
	Create(ctx context.Context, item *models.WorkItem) error
	// Save writes every mutable field and bumps UpdatedAt.
	Save(ctx context.Context, item *models.WorkItem) error
	FindByID(ctx context.Context, id string) (*models.WorkItem, error)
	FindByStatus(ctx context.Context, status models.WorkItemStatus) ([]*models.WorkItem, error)
	FindWithNullExternalID(ctx context.Context) ([]*models.WorkItem, error)
	FindUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error)
	FindByStatusUpdatedSince(ctx context.Context, status models.WorkItemStatus, since time.Time) ([]*models.WorkItem, error)
	FindLinkedUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error)

	// ClaimNextPending atomically moves the oldest pending item to in_progress.
	// It returns nil, nil when nothing is pending.
	ClaimNextPending(ctx context.Context) (*models.WorkItem, error)
	// ClaimPending atomically claims one specific item or returns ErrAlreadyClaimed.
	ClaimPending(ctx context.Context, id string) (*models.WorkItem, error)
	// Transition changes status only if the stored status is still from.
	Transition(ctx context.Context, id string, from, to models.WorkItemStatus, result string) (*models.WorkItem, error)
	// SetExternalTrackerID records the tracker issue number once. It does not bump UpdatedAt.
	SetExternalTrackerID(ctx context.Context, id string, trackerID int64) error

	List(ctx context.Context) ([]*models.WorkItem, error)
}

// Counts tallies items per status.
func Counts(items []*models.WorkItem) map[models.WorkItemStatus]int {
	out := make(map[models.WorkItemStatus]int, 4)
	for _, s := range models.AllWorkItemStatuses() {
		out[s] = 0
	}
	for _, item := range items {
		out[item.Status]++
	}
	return out
}
