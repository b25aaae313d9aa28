// Package messagebus carries published content and lifecycle events over NATS JetStream.
package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

const subjectRoot = "ouroboros"

// PublishedSubject is the subject generated content for a work item is published on.
func PublishedSubject(workItemID string) string {
	return fmt.Sprintf("%s.published.%s", subjectRoot, workItemID)
}

// EventSubject is the subject a lifecycle event type is published on.
func EventSubject(eventType string) string {
	return fmt.Sprintf("%s.events.%s", subjectRoot, eventType)
}

// PublishedMessage is the payload written for a successfully generated work item.
type PublishedMessage struct {
	WorkItemID  string    `json:"work_item_id"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
}

// EventMessage is a lifecycle event as carried between replicas.
type EventMessage struct {
	Type           string                 `json:"type"`
	Source         string                 `json:"source"`
	WorkItemID     string                 `json:"work_item_id,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	SourceInstance string                 `json:"source_instance,omitempty"`
}

// SubmissionMessage asks for a new work item to be created.
type SubmissionMessage struct {
	Description string `json:"description"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// ErrDiscard tells SubscribeSubmissions to terminate a message instead of
// redelivering it.
var ErrDiscard = errors.New("discard message")

// NatsMessageBus implements a message bus using NATS with JetStream
type NatsMessageBus struct {
	conn          *nats.Conn
	js            nats.JetStreamContext
	mu            sync.Mutex
	subscriptions map[string]*nats.Subscription
	streamName    string
	url           string
}

// Config holds NATS configuration
type Config struct {
	URL        string        // NATS server URL (e.g., "nats://nats:4222")
	StreamName string        // JetStream stream name (default: "OUROBOROS")
	Timeout    time.Duration // Connection timeout
}

// NewNatsMessageBus creates a new NATS message bus with JetStream
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "OUROBOROS"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	log := logging.Component("messagebus")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("ouroboros"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	mb := &NatsMessageBus{
		conn:          nc,
		js:            js,
		subscriptions: make(map[string]*nats.Subscription),
		streamName:    cfg.StreamName,
		url:           cfg.URL,
	}

	if err := mb.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("connected to NATS")
	return mb, nil
}

// streamConfig uses LimitsPolicy so several consumers can read the same subjects.
func (mb *NatsMessageBus) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}
}

// ensureStream creates or updates the JetStream stream.
func (mb *NatsMessageBus) ensureStream() error {
	cfg := mb.streamConfig()
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if _, err := mb.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishContent durably publishes generated content for a work item.
func (mb *NatsMessageBus) PublishContent(ctx context.Context, workItemID, content string) error {
	return mb.publish(ctx, PublishedSubject(workItemID), &PublishedMessage{
		WorkItemID:  workItemID,
		Content:     content,
		PublishedAt: time.Now().UTC(),
	})
}

// PublishEvent publishes a lifecycle event.
func (mb *NatsMessageBus) PublishEvent(ctx context.Context, event *EventMessage) error {
	return mb.publish(ctx, EventSubject(event.Type), event)
}

func (mb *NatsMessageBus) publish(ctx context.Context, subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := mb.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeEvents receives every replica's lifecycle events over core NATS (fan-out).
func (mb *NatsMessageBus) SubscribeEvents(key string, handler func(*EventMessage)) error {
	log := logging.Component("messagebus")
	sub, err := mb.conn.Subscribe(EventSubject(">"), func(msg *nats.Msg) {
		var event EventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Warn().Err(err).Msg("failed to unmarshal event message")
			return
		}
		handler(&event)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	mb.mu.Lock()
	mb.subscriptions[key] = sub
	mb.mu.Unlock()
	return nil
}

// PublishSubmission durably publishes a work item submission on subject.
func (mb *NatsMessageBus) PublishSubmission(ctx context.Context, subject string, sub *SubmissionMessage) error {
	return mb.publish(ctx, subject, sub)
}

// SubscribeSubmissions consumes subject through the durable consumer
// durable. A nil handler result acks the message, ErrDiscard (or an
// undecodable payload) terminates it and any other error asks for redelivery.
func (mb *NatsMessageBus) SubscribeSubmissions(subject, durable string, handler func(context.Context, *SubmissionMessage) error) error {
	log := logging.Component("messagebus")
	sub, err := mb.js.Subscribe(subject, func(msg *nats.Msg) {
		var submission SubmissionMessage
		if err := json.Unmarshal(msg.Data, &submission); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("failed to unmarshal submission")
			_ = msg.Term()
			return
		}
		err := handler(context.Background(), &submission)
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrDiscard):
			log.Warn().Err(err).Msg("discarding submission")
			_ = msg.Term()
		default:
			log.Error().Err(err).Msg("submission failed, requesting redelivery")
			_ = msg.Nak()
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(5),
		nats.AckWait(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.mu.Lock()
	mb.subscriptions[durable] = sub
	mb.mu.Unlock()
	log.Info().Str("subject", subject).Str("durable", durable).Msg("subscribed to submissions")
	return nil
}

// Close drains subscriptions and closes the NATS connection
func (mb *NatsMessageBus) Close() error {
	mb.mu.Lock()
	for key, sub := range mb.subscriptions {
		_ = sub.Unsubscribe()
		delete(mb.subscriptions, key)
	}
	mb.mu.Unlock()

	mb.conn.Close()
	return nil
}
