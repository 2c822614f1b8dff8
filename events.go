package nuagent

import "sync"

// Event topics.
const (
	TopicExchangeCompleted = "exchange_completed"
	TopicUserInputReceived = "user_input_received"
)

// EventHandler receives published event data.
type EventHandler func(data any)

// Bus is a single-process publish/subscribe bus. Handlers run
// synchronously in the publisher's goroutine, in registration order.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]EventHandler
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish invokes every handler registered for the topic with data.
// The handler list is snapshotted under the lock so handlers may
// subscribe without deadlocking.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	hs := make([]EventHandler, len(b.handlers[topic]))
	copy(hs, b.handlers[topic])
	b.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}
