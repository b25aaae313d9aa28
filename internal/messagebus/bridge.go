package messagebus

import (
	"context"
	"sync"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/logging"
)

const bridgeSubscriberID = "nats-bridge-out"

// remoteMarker is set on events injected from NATS so they are not echoed back.
const remoteMarker = "from_nats"

// Bus is what the bridge needs from the remote side.
type Bus interface {
	EventPublisher
	EventSubscriber
}

// Bridge forwards local lifecycle events to NATS and injects other
// replicas' events into the local EventBus, so every replica's websocket
// clients see the whole fleet.
type Bridge struct {
	bus        Bus
	eventBus   *events.EventBus
	instanceID string

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBridge creates a bridge between the local EventBus and NATS.
func NewBridge(bus Bus, eb *events.EventBus, instanceID string) *Bridge {
	return &Bridge{bus: bus, eventBus: eb, instanceID: instanceID}
}

// Start begins bridging events in both directions.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	b.mu.Unlock()

	sub := b.eventBus.Subscribe(bridgeSubscriberID, func(e *events.Event) bool {
		_, remote := e.Data[remoteMarker]
		return !remote
	})

	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-sub.Channel:
				if !ok {
					return
				}
				b.forward(ctx, event)
			}
		}
	}()

	if err := b.bus.SubscribeEvents("bridge-event-inbound", b.inject); err != nil {
		return err
	}

	log := logging.Component("bridge")
	log.Info().Str("instance", b.instanceID).Msg("started event bridge")
	return nil
}

// Stop halts forwarding.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.cancel()
	<-b.done
	b.eventBus.Unsubscribe(bridgeSubscriberID)
	b.started = false
}

func (b *Bridge) forward(ctx context.Context, event *events.Event) {
	msg := &EventMessage{
		Type:           string(event.Type),
		Source:         event.Source,
		WorkItemID:     event.WorkItemID,
		Data:           event.Data,
		Timestamp:      event.Timestamp,
		SourceInstance: b.instanceID,
	}
	if err := b.bus.PublishEvent(ctx, msg); err != nil {
		log := logging.Component("bridge")
		log.Warn().Err(err).Str("type", msg.Type).Msg("failed to forward event to NATS")
	}
}

func (b *Bridge) inject(msg *EventMessage) {
	if msg.SourceInstance == b.instanceID {
		return
	}
	data := make(map[string]interface{}, len(msg.Data)+2)
	for k, v := range msg.Data {
		data[k] = v
	}
	data[remoteMarker] = true
	data["source_instance"] = msg.SourceInstance

	_ = b.eventBus.Publish(&events.Event{
		Type:       events.EventType(msg.Type),
		Source:     msg.Source,
		WorkItemID: msg.WorkItemID,
		Timestamp:  msg.Timestamp,
		Data:       data,
	})
}
