package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventPurchase          EventType = "purchase"
	EventTransaction       EventType = "transaction"
	EventProductCreate     EventType = "product_create"
	EventProductUpdate     EventType = "product_update"
	EventProductDelete     EventType = "product_delete"
	EventAisleStatusChange EventType = "aisle_status_change"
	EventAgentStatusChange EventType = "agent_status_change"
	EventCrafterIdle       EventType = "crafter_idle"
	EventWorkerIdle        EventType = "worker_idle"
	EventCraftComplete     EventType = "craft_complete"
	EventCraftFailed       EventType = "craft_failed"
	EventHistoryUndo       EventType = "history_undo"
)

// Event represents an observable coordinator event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Data      map[string]any
}

// New builds an event with a fresh ID and the given payload.
func New(t EventType, msg string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   msg,
		Data:      data,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
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

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
