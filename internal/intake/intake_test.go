package intake

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/messagebus"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

type recorder struct {
	events []*events.Event
}

func (r *recorder) Publish(e *events.Event) error {
	r.events = append(r.events, e)
	return nil
}

type fakeSubscriber struct {
	subject, durable string
	handler          func(context.Context, *messagebus.SubmissionMessage) error
}

func (f *fakeSubscriber) SubscribeSubmissions(subject, durable string, handler func(context.Context, *messagebus.SubmissionMessage) error) error {
	f.subject, f.durable, f.handler = subject, durable, handler
	return nil
}

type brokenStore struct {
	*store.MemoryStore
}

func (brokenStore) Create(ctx context.Context, item *models.WorkItem) error {
	return errors.New("disk full")
}

func TestHandle_CreatesPendingItem(t *testing.T) {
	s := store.NewMemoryStore()
	rec := &recorder{}
	in := New(s, rec, nil)

	require.NoError(t, in.Handle(context.Background(), &messagebus.SubmissionMessage{
		Description: "Generate a tokenizer",
		CreatedBy:   "planner",
	}))

	items, err := s.FindByStatus(context.Background(), models.WorkItemStatusPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "planner", items[0].CreatedBy)
	assert.False(t, items[0].IsLinked())

	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventTypeWorkItemCreated, rec.events[0].Type)
	assert.Equal(t, items[0].ID, rec.events[0].WorkItemID)
}

func TestHandle_InvalidIsDiscarded(t *testing.T) {
	s := store.NewMemoryStore()
	in := New(s, nil, nil)

	for _, d := range []string{"", strings.Repeat("x", models.DescriptionMaxLen+1)} {
		err := in.Handle(context.Background(), &messagebus.SubmissionMessage{Description: d})
		assert.ErrorIs(t, err, messagebus.ErrDiscard)
	}
	items, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHandle_StoreErrorIsRetryable(t *testing.T) {
	in := New(brokenStore{store.NewMemoryStore()}, nil, nil)
	err := in.Handle(context.Background(), &messagebus.SubmissionMessage{Description: "Generate X"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, messagebus.ErrDiscard))
}

func TestStart_Subscribes(t *testing.T) {
	s := store.NewMemoryStore()
	in := New(s, nil, nil)
	sub := &fakeSubscriber{}

	require.NoError(t, in.Start(sub, "ouroboros.submit", "ouroboros-intake"))
	assert.Equal(t, "ouroboros.submit", sub.subject)
	assert.Equal(t, "ouroboros-intake", sub.durable)

	require.NoError(t, sub.handler(context.Background(), &messagebus.SubmissionMessage{Description: "Generate Y"}))
	items, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
