// Package events is the in-process pub/sub hub for work item lifecycle events.
package events

import (
	"container/ring"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/ouroboros/internal/logging"
)

// EventType names a lifecycle or system event.
type EventType string

const (
	EventTypeWorkItemCreated   EventType = "work_item.created"
	EventTypeWorkItemClaimed   EventType = "work_item.claimed"
	EventTypeWorkItemCompleted EventType = "work_item.completed"
	EventTypeWorkItemFailed    EventType = "work_item.failed"
	EventTypeWorkItemLinked    EventType = "work_item.linked"
	EventTypeTrackerSynced     EventType = "tracker.synced"
	EventTypeConfigUpdated     EventType = "config.updated"
)

const (
	defaultQueueSize  = 1000
	historySize       = 500
	subscriberBacklog = 100
)

var (
	ErrNilEvent  = errors.New("event cannot be nil")
	ErrBusClosed = errors.New("event bus is closed")
	ErrQueueFull = errors.New("event queue is full")
)

// Event is one published occurrence. Source names the emitting component.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Timestamp  time.Time              `json:"timestamp"`
	Source     string                 `json:"source"`
	WorkItemID string                 `json:"work_item_id,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Subscriber receives matching events on Channel until it is unsubscribed
// or the bus closes.
type Subscriber struct {
	ID      string
	Channel chan *Event
	Filter  func(*Event) bool
	dropped int
}

func (s *Subscriber) wants(e *Event) bool {
	return s.Filter == nil || s.Filter(e)
}

// Publisher is the narrow interface engines depend on.
type Publisher interface {
	Publish(event *Event) error
}

// EventBus queues published events and delivers them from a single goroutine,
// so publishers never block on slow subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	history     *ring.Ring
	queue       chan *Event
	stop        chan struct{}
	stopped     chan struct{}
	closeOnce   sync.Once
}

// NewEventBus starts a bus with the given queue size (0 selects the default).
func NewEventBus(queueSize int) *EventBus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	eb := &EventBus{
		subscribers: make(map[string]*Subscriber),
		history:     ring.New(historySize),
		queue:       make(chan *Event, queueSize),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go eb.run()
	return eb
}

// Publish stamps and queues an event.
func (eb *EventBus) Publish(event *Event) error {
	if event == nil {
		return ErrNilEvent
	}
	select {
	case <-eb.stop:
		return ErrBusClosed
	default:
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case eb.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers a subscriber. Subscribing twice with the same id returns
// the existing subscription.
func (eb *EventBus) Subscribe(subscriberID string, filter func(*Event) bool) *Subscriber {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if sub, ok := eb.subscribers[subscriberID]; ok {
		return sub
	}
	sub := &Subscriber{
		ID:      subscriberID,
		Channel: make(chan *Event, subscriberBacklog),
		Filter:  filter,
	}
	eb.subscribers[subscriberID] = sub
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (eb *EventBus) Unsubscribe(subscriberID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.drop(subscriberID)
}

func (eb *EventBus) drop(id string) {
	sub, ok := eb.subscribers[id]
	if !ok {
		return
	}
	if sub.dropped > 0 {
		log := logging.Component("events")
		log.Debug().Str("subscriber", id).Int("dropped", sub.dropped).Msg("subscriber missed events")
	}
	close(sub.Channel)
	delete(eb.subscribers, id)
}

// Close stops delivery and closes every subscriber channel. Queued events that
// were not yet delivered are discarded.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		close(eb.stop)
		<-eb.stopped

		eb.mu.Lock()
		defer eb.mu.Unlock()
		for id := range eb.subscribers {
			eb.drop(id)
		}
	})
}

func (eb *EventBus) run() {
	defer close(eb.stopped)
	for {
		select {
		case <-eb.stop:
			return
		case ev := <-eb.queue:
			eb.deliver(ev)
		}
	}
}

func (eb *EventBus) deliver(ev *Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.history.Value = ev
	eb.history = eb.history.Next()

	for _, sub := range eb.subscribers {
		if !sub.wants(ev) {
			continue
		}
		select {
		case sub.Channel <- ev:
		default:
			sub.dropped++
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers)
}

// RecentEvents returns up to limit delivered events, newest first, optionally
// restricted to one type. A non-positive limit returns the whole history.
func (eb *EventBus) RecentEvents(limit int, eventType EventType) []*Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var out []*Event
	for r := eb.history.Prev(); r != eb.history; r = r.Prev() {
		if limit > 0 && len(out) >= limit {
			break
		}
		ev, ok := r.Value.(*Event)
		if !ok {
			break
		}
		if eventType != "" && ev.Type != eventType {
			continue
		}
		out = append(out, ev)
	}
	return out
}
