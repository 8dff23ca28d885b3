// Package notify wakes change-feed consumers when new entries are appended.
package notify

import (
	"sync"
	"sync/atomic"
)

// signalBuffer bounds each subscriber channel. Signals are hints; a consumer
// that falls behind reads everything on its next wake.
const signalBuffer = 16

// Signal announces that the entry SeqNum was appended
type Signal struct {
	Origin string
	SeqNum uint64
}

// Filter selects signals by origin; empty matches everything
type Filter struct {
	Origins []string
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Signal
	closed atomic.Bool
}

func (s *subscription) matches(origin string) bool {
	if len(s.filter.Origins) == 0 {
		return true
	}
	for _, o := range s.filter.Origins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub fans signals out to subscribers without blocking the sender
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal notifies matching subscribers. Full channels are skipped.
func (h *Hub) Signal(origin string, seq uint64) {
	sig := Signal{Origin: origin, SeqNum: seq}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(origin) {
			continue
		}
		select {
		case sub.ch <- sig:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel closes the channel
// and may be called more than once.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Signal, signalBuffer),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Dropped counts signals skipped because a subscriber buffer was full
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close cancels every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
