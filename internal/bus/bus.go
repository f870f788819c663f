// Package bus provides the publish-only telemetry event stream consumed by
// dashboards and other external presentation layers.
//
// The core never blocks on a subscriber: each subscriber gets a buffered
// channel and events are dropped (and counted) when the buffer is full.
package bus

import (
	"sync"

	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/metrics"
	"github.com/moolen/quorum/internal/models"
)

// DefaultBufferSize is the per-subscriber channel buffer.
const DefaultBufferSize = 256

// Bus fans incident events out to subscribers without backpressure.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan models.Event
	nextID  int
	bufSize int
	closed  bool
	logger  *logging.Logger
}

// New creates a Bus with the given per-subscriber buffer size.
// A non-positive size falls back to DefaultBufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[int]chan models.Event),
		bufSize: bufferSize,
		logger:  logging.GetLogger("bus"),
	}
}

// Subscribe registers a new subscriber and returns its event channel plus a
// cancel function. The channel is closed on cancel or bus close.
func (b *Bus) Subscribe() (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan models.Event)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan models.Event, b.bufSize)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers. Delivery is best-effort:
// a full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(event models.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			metrics.ObserveTelemetryDrop()
			b.logger.Debug("dropped telemetry event %s for slow subscriber", event.Type)
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
