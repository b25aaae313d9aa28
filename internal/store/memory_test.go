package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/internal/store/storetest"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestCounts(t *testing.T) {
	items := []*models.WorkItem{
		{Status: models.WorkItemStatusPending},
		{Status: models.WorkItemStatusPending},
		{Status: models.WorkItemStatusFailed},
	}
	counts := store.Counts(items)
	assert.Equal(t, 2, counts[models.WorkItemStatusPending])
	assert.Equal(t, 0, counts[models.WorkItemStatusCompleted])
	assert.Equal(t, 1, counts[models.WorkItemStatusFailed])
}
