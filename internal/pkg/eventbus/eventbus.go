package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/otabridge/pkg/log"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventDeviceReconfigure EventType = "device_reconfigure"
	EventDevicesChanged    EventType = "devices_changed"
	EventDeviceRemoved     EventType = "device_removed"
)

// Event is one lifecycle notification. DeviceID is empty for fleet-wide events.
type Event struct {
	Type     EventType `json:"type"`
	DeviceID string    `json:"deviceId,omitempty"`
	Device   string    `json:"device,omitempty"`
	Time     time.Time `json:"time"`
}

// HandlerFunc consumes events. Handlers run on the dispatch goroutine.
type HandlerFunc func(ctx context.Context, event Event)

const defaultQueueSize = 64

// Bus delivers events to subscribers in emission order.
type Bus struct {
	queue chan Event

	mu       sync.RWMutex
	handlers map[EventType][]HandlerFunc
}

// New returns a Bus with a bounded queue.
func New() *Bus {
	return &Bus{
		queue:    make(chan Event, defaultQueueSize),
		handlers: make(map[EventType][]HandlerFunc),
	}
}

// Subscribe registers h for the given event types.
func (b *Bus) Subscribe(h HandlerFunc, types ...EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], h)
	}
}

// Emit queues an event without blocking. Events are dropped while the queue is full.
func (b *Bus) Emit(e Event) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case b.queue <- e:
		return true
	default:
		log.Warn("Lifecycle event dropped, queue full", "type", e.Type, "device", e.Device)
		return false
	}
}

// Start dispatches queued events until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.queue:
			b.dispatch(ctx, e)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := append([]HandlerFunc(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
}
