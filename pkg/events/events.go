package events

import (
	"sync"
	"time"
)

// Topic identifies the kind of event flowing through the broker.
type Topic string

const (
	TopicDownloadProgress Topic = "models.download.progress"
	TopicChanged          Topic = "models.changed"
	TopicRefreshed        Topic = "models.refreshed"
	TopicCASGC            Topic = "models.cas.gc"
	TopicManifestWritten  Topic = "models.manifest.written"
	TopicEgressPreview    Topic = "egress.preview"
	TopicEgressLedger     Topic = "egress.ledger.appended"
)

// Event is a single message flowing through the broker. Payload carries the
// topic-specific body (a progress envelope, a catalog delta, a GC summary,
// ...); callers type-assert it against the shape documented for Topic.
type Event struct {
	Topic     Topic
	Timestamp time.Time
	Payload   any
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Publisher is the narrow contract the Model Steward depends on for event
// delivery. The event bus transport itself (pub/sub fan-out to remote
// consumers) is an external collaborator per the specification; Broker is
// the in-process default implementation used for embedding and tests.
type Publisher interface {
	Publish(event *Event)
}

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256), // Buffer up to 256 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
