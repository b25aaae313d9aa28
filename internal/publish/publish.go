// Package publish delivers generated content once a work item succeeds.
package publish

import (
	"context"
	"errors"

	"github.com/jordanhubbard/ouroboros/internal/logging"
	"github.com/jordanhubbard/ouroboros/internal/messagebus"
)

const previewLen = 100

// Publisher delivers generated content. false with a nil error is a plain
// refusal; any error is treated by callers as a failed publish.
type Publisher interface {
	Publish(ctx context.Context, content string) (bool, error)
}

// LogPublisher records the content in the log and always succeeds.
type LogPublisher struct{}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(ctx context.Context, content string) (bool, error) {
	log := logging.Component("publish")
	log.Info().Ctx(ctx).
		Int("length", len(content)).
		Str("preview", preview(content)).
		Msg("published generated content")
	return true, nil
}

// NATSPublisher publishes content durably to JetStream. The work item id is
// taken from the context, where the lifecycle engine places it.
type NATSPublisher struct {
	bus messagebus.ContentPublisher
}

// NewNATSPublisher wraps a content publisher.
func NewNATSPublisher(bus messagebus.ContentPublisher) *NATSPublisher {
	return &NATSPublisher{bus: bus}
}

func (p *NATSPublisher) Publish(ctx context.Context, content string) (bool, error) {
	id := logging.GetWorkItemID(ctx)
	if id == "" {
		return false, errors.New("work item id missing from context")
	}
	if err := p.bus.PublishContent(ctx, id, content); err != nil {
		return false, err
	}
	return true, nil
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen]) + "..."
}
