package events

import (
	"sync"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
)

// Buffer sizes. The publish queue absorbs bursts from the control
// plane (a node failure emits one event per affected pool plus one per
// started rebuild); the per-subscriber buffer bounds how far a slow
// consumer can lag before it starts losing live copies.
const (
	publishBuffer    = 100
	subscriberBuffer = 50
)

// Subscriber is a channel that receives events
type Subscriber chan *types.EventRecord

// Broker fans cluster events out to in-process subscribers.
// Persistence of EventRecords is the storage layer's job; the broker
// only distributes live copies, so a dropped delivery loses nothing
// durable.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}

	eventCh chan *types.EventRecord
	stopCh  chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]struct{}),
		eventCh:     make(chan *types.EventRecord, publishBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Events published after Stop are discarded.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe registers a new subscriber and returns its channel
func (b *Broker) Subscribe() Subscriber {
	sub := make(Subscriber, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()

	close(sub)
}

// Publish queues an event for distribution, stamping CreatedAt when
// the publisher left it zero
func (b *Broker) Publish(event *types.EventRecord) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.deliver(event)
		case <-b.stopCh:
			return
		}
	}
}

// deliver hands the event to every subscriber whose buffer has room.
// A full subscriber is skipped; the broker never blocks on a consumer.
func (b *Broker) deliver(event *types.EventRecord) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
