package messagebus

import "context"

// ContentPublisher abstracts durable content publishing for testability.
type ContentPublisher interface {
	PublishContent(ctx context.Context, workItemID, content string) error
}

// EventPublisher abstracts event publishing for testability.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *EventMessage) error
}

// EventSubscriber abstracts event subscription for testability.
type EventSubscriber interface {
	SubscribeEvents(key string, handler func(*EventMessage)) error
}

// SubmissionSubscriber abstracts durable submission intake for testability.
type SubmissionSubscriber interface {
	SubscribeSubmissions(subject, durable string, handler func(context.Context, *SubmissionMessage) error) error
}

// Verify NatsMessageBus implements all interfaces at compile time.
var (
	_ ContentPublisher = (*NatsMessageBus)(nil)
	_ EventPublisher   = (*NatsMessageBus)(nil)
	_ EventSubscriber  = (*NatsMessageBus)(nil)

	_ SubmissionSubscriber = (*NatsMessageBus)(nil)
)
