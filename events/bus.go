// Package events provides a lightweight pub/sub event bus for call lifecycle observability.
//
// Listeners (metrics, tracing, the active-call registry) subscribe to the bus;
// per-call emitters publish to it. Delivery is asynchronous and never blocks the
// publisher: when a worker queue is full the event is dropped and Publish
// reports false. Events that share a call id are always handled by the same
// worker, so listeners observe each call's events in publish order.
package events

import (
	"hash/fnv"
	"sync"
)

const (
	defaultWorkerPoolSize  = 4
	defaultEventBufferSize = 256
)

// Listener is a function that handles events.
type Listener func(*Event)

// Option configures an EventBus.
type Option func(*busOptions)

type busOptions struct {
	workers    int
	bufferSize int
}

// WithWorkerPoolSize sets the number of delivery workers. Non-positive values are ignored.
func WithWorkerPoolSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithEventBufferSize sets the per-worker queue size. Non-positive values are ignored.
func WithEventBufferSize(n int) Option {
	return func(o *busOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

type subscription struct {
	id       uint64
	listener Listener
}

// EventBus manages event distribution to listeners.
type EventBus struct {
	mu              sync.RWMutex
	listeners       map[EventType][]subscription
	globalListeners []subscription
	nextID          uint64

	queues    []chan *Event
	closeOnce sync.Once
	closed    bool
	wg        sync.WaitGroup
}

// NewEventBus creates a new event bus and starts its workers.
func NewEventBus(opts ...Option) *EventBus {
	o := busOptions{workers: defaultWorkerPoolSize, bufferSize: defaultEventBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	eb := &EventBus{
		listeners: make(map[EventType][]subscription),
		queues:    make([]chan *Event, o.workers),
	}
	for i := range eb.queues {
		q := make(chan *Event, o.bufferSize)
		eb.queues[i] = q
		eb.wg.Add(1)
		go eb.worker(q)
	}
	return eb
}

// Subscribe registers a listener for a specific event type and returns a
// function that removes it.
func (eb *EventBus) Subscribe(eventType EventType, listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.listeners[eventType] = append(eb.listeners[eventType], subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.listeners[eventType] = removeSubscription(eb.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for all event types and returns a
// function that removes it.
func (eb *EventBus) SubscribeAll(listener Listener) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.globalListeners = append(eb.globalListeners, subscription{id: id, listener: listener})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.globalListeners = removeSubscription(eb.globalListeners, id)
	}
}

// Publish queues an event for asynchronous delivery. It returns false when the
// bus is closed or the target queue is full.
func (eb *EventBus) Publish(event *Event) bool {
	if event == nil {
		return false
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return false
	}

	select {
	case eb.queues[eb.shard(event.CallID)] <- event:
		return true
	default:
		return false
	}
}

// Clear removes all listeners.
func (eb *EventBus) Clear() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.listeners = make(map[EventType][]subscription)
	eb.globalListeners = nil
}

// Close stops accepting events, drains queued events and waits for the workers.
// It is safe to call more than once.
func (eb *EventBus) Close() {
	eb.closeOnce.Do(func() {
		eb.mu.Lock()
		eb.closed = true
		for _, q := range eb.queues {
			close(q)
		}
		eb.mu.Unlock()
		eb.wg.Wait()
	})
}

func (eb *EventBus) worker(q <-chan *Event) {
	defer eb.wg.Done()
	for event := range q {
		eb.dispatch(event)
	}
}

func (eb *EventBus) dispatch(event *Event) {
	eb.mu.RLock()
	typeListeners := eb.listeners[event.Type]
	specific := make([]Listener, 0, len(typeListeners))
	for _, s := range typeListeners {
		specific = append(specific, s.listener)
	}
	global := make([]Listener, 0, len(eb.globalListeners))
	for _, s := range eb.globalListeners {
		global = append(global, s.listener)
	}
	eb.mu.RUnlock()

	for _, listener := range specific {
		safeInvoke(listener, event)
	}
	for _, listener := range global {
		safeInvoke(listener, event)
	}
}

func (eb *EventBus) shard(callID string) int {
	if len(eb.queues) == 1 || callID == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return int(h.Sum32() % uint32(len(eb.queues)))
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

func safeInvoke(listener Listener, event *Event) {
	defer func() { _ = recover() }()
	listener(event)
}
