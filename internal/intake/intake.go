// Package intake turns submissions received over the message bus into
// pending work items.
package intake

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/messagebus"
	"github.com/jordanhubbard/ouroboros/internal/metrics"
	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

// Intake creates work items from submissions.
type Intake struct {
	store   store.Store
	events  events.Publisher
	metrics *metrics.Metrics
}

// New creates an intake writing to s. events and m may be nil.
func New(s store.Store, eb events.Publisher, m *metrics.Metrics) *Intake {
	return &Intake{store: s, events: eb, metrics: m}
}

// Start subscribes to subject through the durable consumer durable.
func (in *Intake) Start(sub messagebus.SubmissionSubscriber, subject, durable string) error {
	return sub.SubscribeSubmissions(subject, durable, in.Handle)
}

// Handle validates and stores one submission. Invalid submissions are
// wrapped with messagebus.ErrDiscard so they are not redelivered.
func (in *Intake) Handle(ctx context.Context, msg *messagebus.SubmissionMessage) error {
	log := logging.Component("intake")
	if err := models.ValidateDescription(msg.Description); err != nil {
		log.Warn().Err(err).Str("created_by", msg.CreatedBy).Msg("rejecting submission")
		return fmt.Errorf("%w: %v", messagebus.ErrDiscard, err)
	}

	item := models.NewWorkItem(msg.Description, msg.CreatedBy)
	if err := in.store.Create(ctx, item); err != nil {
		return fmt.Errorf("create work item: %w", err)
	}
	ctx = logging.WithWorkItemID(ctx, item.ID)
	log.Info().Ctx(ctx).Str("created_by", item.CreatedBy).Msg("work item submitted")

	if in.events != nil {
		err := in.events.Publish(&events.Event{
			Type:       events.EventTypeWorkItemCreated,
			Source:     "intake",
			WorkItemID: item.ID,
			Data:       map[string]interface{}{"created_by": item.CreatedBy},
		})
		if err == nil && in.metrics != nil {
			in.metrics.RecordEvent(string(events.EventTypeWorkItemCreated))
		}
	}
	return nil
}
