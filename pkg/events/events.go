package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventStepStarted      EventType = "step.started"
	EventStepFinished     EventType = "step.finished"
	EventStepFailed       EventType = "step.failed"
	EventHostProvisioned  EventType = "host.provisioned"
	EventHostFailed       EventType = "host.failed"
	EventClusterFormed    EventType = "cluster.formed"
	EventFormationFailed  EventType = "cluster.formation_failed"
	EventEndpointChecked  EventType = "endpoint.checked"
	EventValidated        EventType = "cluster.validated"
	EventValidationFailed EventType = "cluster.validation_failed"
	EventMonitoringFailed EventType = "monitoring.failed"
	EventRollbackFinished EventType = "rollback.finished"
)

// Event represents one progress event of a run
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Host      string
	Step      string
	Message   string
	Metadata  map[string]string
}

// Failed reports whether the event marks a failure
func (e *Event) Failed() bool {
	switch e.Type {
	case EventStepFailed, EventHostFailed, EventFormationFailed, EventValidationFailed, EventMonitoringFailed:
		return true
	}
	return false
}

// Publisher accepts events. A nil *Broker is a valid Publisher that drops
// everything.
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	// subscribers maps each channel to whether it is lossless
	subscribers map[Subscriber]bool
	dropped     atomic.Uint64
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop delivers queued events, closes every subscriber and waits for the
// distribution loop to exit. It must only be called after Start.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 128)
	b.subscribers[sub] = false
	return sub
}

// SubscribeAll creates a subscription that never misses an event. Delivery
// waits for the reader, so the reader must keep receiving until the
// channel is closed and must not call Unsubscribe while events flow.
func (b *Broker) SubscribeAll() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 128)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			b.drain()
			return
		}
	}
}

func (b *Broker) drain() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		default:
			b.mu.Lock()
			for sub := range b.subscribers {
				delete(b.subscribers, sub)
				close(sub)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, lossless := range b.subscribers {
		if lossless {
			sub <- event
			continue
		}
		select {
		case sub <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a Subscribe
// channel was full
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
