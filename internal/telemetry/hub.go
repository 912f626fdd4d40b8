package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 64

// ErrHubClosed is returned by Publish after Close.
var ErrHubClosed = errors.New("telemetry hub closed")

type subscriber struct {
	tube int
	ch   chan Envelope
}

// Hub fans envelopes out to live subscribers. A subscriber whose buffer is
// full misses the envelope; the hub never blocks a publisher.
type Hub struct {
	buffer int
	onDrop func()

	mu     sync.Mutex
	subs   map[string]subscriber
	closed bool

	dropped atomic.Uint64
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber buffer.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropObserver registers a callback invoked once per dropped envelope.
func WithDropObserver(fn func()) HubOption {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{buffer: DefaultSubscriberBuffer, subs: make(map[string]subscriber)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for tube, or for every tube when tube is
// zero. The returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(tube int) (<-chan Envelope, func()) {
	ch := make(chan Envelope, h.buffer)
	id := uuid.NewString()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[id] = subscriber{tube: tube, ch: ch}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers env to every matching subscriber without blocking.
func (h *Hub) Publish(_ context.Context, env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, s := range h.subs {
		if s.tube != 0 && s.tube != env.Tube {
			continue
		}
		select {
		case s.ch <- env:
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return nil
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the number of envelopes dropped so far.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Close closes every subscriber channel. Later publishes fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		close(s.ch)
		delete(h.subs, id)
	}
}
