package pipeline

import (
	"slices"
	"sync"
)

// EventBus fans analysis results out to subscribers in registration order.
// The driver publishes to it as its single ResultHandler.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID int
	closed bool
}

type subscriber struct {
	id      int
	accept  func(*FrameResult) bool // nil accepts everything
	deliver func(*FrameResult)
	release func() // Runs once when the subscriber is removed
}

// HasDetections accepts results that carry at least one detection
func HasDetections(r *FrameResult) bool {
	return len(r.Detections) > 0
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a handler for every analyzed frame. Handlers run on
// the driver goroutine, so results arrive in frame order. The returned
// function unsubscribes and may be called more than once.
func (b *EventBus) Subscribe(handler ResultHandler) func() {
	return b.subscribe(nil, handler.OnFrameResult, nil)
}

// SubscribeChannel returns a channel of results that contain detections.
// Results are dropped while the channel is full. Unsubscribing or closing
// the bus closes the channel.
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *FrameResult, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *FrameResult, bufferSize)
	send := func(r *FrameResult) {
		select {
		case ch <- r:
		default:
		}
	}
	return ch, b.subscribe(HasDetections, send, func() { close(ch) })
}

func (b *EventBus) subscribe(accept func(*FrameResult) bool, deliver func(*FrameResult), release func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		if release != nil {
			release()
		}
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, accept: accept, deliver: deliver, release: release})

	var once sync.Once
	return func() { once.Do(func() { b.remove(id) }) }
}

func (b *EventBus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscriber) bool { return s.id == id })
	if i < 0 {
		return
	}
	if release := b.subs[i].release; release != nil {
		release()
	}
	b.subs = slices.Delete(b.subs, i, i+1)
}

// OnFrameResult implements ResultHandler
func (b *EventBus) OnFrameResult(result *FrameResult) {
	if result == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.accept == nil || s.accept(result) {
			s.deliver(result)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber and closes their channels. Later
// subscriptions receive an already closed channel.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		if s.release != nil {
			s.release()
		}
	}
	b.subs = nil
	b.closed = true
}

var _ ResultHandler = (*EventBus)(nil)
