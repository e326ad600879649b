package task

import (
	"sync"
	"time"
)

const completionEventDefaultBuffer = 8

// CompletionEvent notifies listeners that a queued offline submission
// finished a delivery attempt with a final outcome.
type CompletionEvent struct {
	EntryID   uint
	Success   bool
	Timestamp time.Time
}

// CompletionBroadcaster fans completion events out to subscribed listeners.
// Slow listeners drop events rather than blocking the sync run.
type CompletionBroadcaster struct {
	mutex        sync.Mutex
	nextID       int64
	subscribers  map[int64]chan CompletionEvent
	closed       bool
	bufferLength int
}

// NewCompletionBroadcaster constructs a broadcaster for completion events.
func NewCompletionBroadcaster() *CompletionBroadcaster {
	return &CompletionBroadcaster{
		subscribers:  make(map[int64]chan CompletionEvent),
		bufferLength: completionEventDefaultBuffer,
	}
}

// Subscribe registers a listener and returns its subscription, or nil when
// the broadcaster is already closed.
func (broadcaster *CompletionBroadcaster) Subscribe() *CompletionSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}

	subscriptionID := broadcaster.nextID
	broadcaster.nextID++
	eventChannel := make(chan CompletionEvent, broadcaster.bufferLength)
	broadcaster.subscribers[subscriptionID] = eventChannel

	return &CompletionSubscription{
		broadcaster: broadcaster,
		identifier:  subscriptionID,
		events:      eventChannel,
	}
}

// Broadcast delivers the event to every active subscriber without blocking.
func (broadcaster *CompletionBroadcaster) Broadcast(event CompletionEvent) {
	if broadcaster == nil {
		return
	}
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for _, eventChannel := range broadcaster.subscribers {
		select {
		case eventChannel <- event:
		default:
		}
	}
}

// Close stops the broadcaster and closes every subscriber channel.
func (broadcaster *CompletionBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, eventChannel := range broadcaster.subscribers {
		close(eventChannel)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *CompletionBroadcaster) remove(identifier int64) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	eventChannel, exists := broadcaster.subscribers[identifier]
	if exists {
		delete(broadcaster.subscribers, identifier)
		close(eventChannel)
	}
}

// CompletionSubscription is a single listener's view of the event stream.
type CompletionSubscription struct {
	broadcaster *CompletionBroadcaster
	identifier  int64
	events      chan CompletionEvent
	once        sync.Once
}

// Events exposes the receive-only event channel.
func (subscription *CompletionSubscription) Events() <-chan CompletionEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

// Close detaches the subscription from the broadcaster.
func (subscription *CompletionSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		subscription.broadcaster.remove(subscription.identifier)
	})
}
