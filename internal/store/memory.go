package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*models.WorkItem
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*models.WorkItem)}
}

func (s *MemoryStore) Create(ctx context.Context, item *models.WorkItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("work item id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("work item %s already exists", item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, item *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		return ErrNotFound
	}
	item.Touch()
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

func (s *MemoryStore) FindByStatus(ctx context.Context, status models.WorkItemStatus) ([]*models.WorkItem, error) {
	return s.filter(func(w *models.WorkItem) bool { return w.Status == status }), nil
}

func (s *MemoryStore) FindWithNullExternalID(ctx context.Context) ([]*models.WorkItem, error) {
	return s.filter(func(w *models.WorkItem) bool { return !w.IsLinked() }), nil
}

func (s *MemoryStore) FindUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error) {
	return s.filter(func(w *models.WorkItem) bool { return w.UpdatedAt.After(since) }), nil
}

func (s *MemoryStore) FindByStatusUpdatedSince(ctx context.Context, status models.WorkItemStatus, since time.Time) ([]*models.WorkItem, error) {
	return s.filter(func(w *models.WorkItem) bool {
		return w.Status == status && w.UpdatedAt.After(since)
	}), nil
}

func (s *MemoryStore) FindLinkedUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error) {
	return s.filter(func(w *models.WorkItem) bool {
		return w.IsLinked() && w.UpdatedAt.After(since)
	}), nil
}

func (s *MemoryStore) ClaimNextPending(ctx context.Context) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.WorkItem
	for _, item := range s.items {
		if item.Status != models.WorkItemStatusPending {
			continue
		}
		if next == nil || item.CreatedAt.Before(next.CreatedAt) ||
			(item.CreatedAt.Equal(next.CreatedAt) && item.ID < next.ID) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Transition(models.WorkItemStatusInProgress, ""); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (s *MemoryStore) ClaimPending(ctx context.Context, id string) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Status != models.WorkItemStatusPending {
		return nil, ErrAlreadyClaimed
	}
	if err := item.Transition(models.WorkItemStatusInProgress, ""); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to models.WorkItemStatus, result string) (*models.WorkItem, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Status != from {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStaleStatus, from, item.Status)
	}
	if err := item.Transition(to, result); err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

func (s *MemoryStore) SetExternalTrackerID(ctx context.Context, id string, trackerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.ExternalTrackerID != nil {
		return ErrAlreadyLinked
	}
	item.ExternalTrackerID = &trackerID
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.WorkItem, error) {
	return s.filter(func(*models.WorkItem) bool { return true }), nil
}

func (s *MemoryStore) filter(keep func(*models.WorkItem) bool) []*models.WorkItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.WorkItem, 0)
	for _, item := range s.items {
		if keep(item) {
			out = append(out, item.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
