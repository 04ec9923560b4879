package application

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
)

// PinHub fans pin events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber only,
// which is harmless because the next event supersedes it.
// All methods are safe for concurrent use.
type PinHub struct {
	mu         sync.RWMutex
	subs       map[*PinSubscription]struct{}
	bufferSize int
	closed     bool
	dropped    atomic.Uint64
	cleanupWg  sync.WaitGroup
}

// PinSubscription receives events from a PinHub until it is closed.
type PinSubscription struct {
	hub  *PinHub
	ch   chan model.PinEvent
	quit chan struct{}
	once sync.Once
}

// NewPinHub creates a hub whose subscribers buffer up to bufferSize events.
// A minimum buffer of 1 is enforced.
func NewPinHub(bufferSize int) *PinHub {
	return &PinHub{
		subs:       make(map[*PinSubscription]struct{}),
		bufferSize: max(bufferSize, 1),
	}
}

// Subscribe registers a new subscriber. The subscription is closed when ctx
// is cancelled or Close is called. Subscribing to a closed hub returns an
// already-closed subscription.
func (h *PinHub) Subscribe(ctx context.Context) *PinSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &PinSubscription{
		hub:  h,
		ch:   make(chan model.PinEvent, h.bufferSize),
		quit: make(chan struct{}),
	}
	if h.closed {
		sub.closeChannel()
		return sub
	}

	h.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		h.cleanupWg.Add(1)
		go func() {
			defer h.cleanupWg.Done()
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.quit:
			}
		}()
	}

	return sub
}

// Publish delivers ev to every subscriber without blocking.
func (h *PinHub) Publish(ev model.PinEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *PinHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *PinHub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close closes every subscription. It is safe to call more than once.
func (h *PinHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.closeChannel()
	}
	clear(h.subs)
	h.mu.Unlock()

	h.cleanupWg.Wait()
}

// Events returns the channel events are delivered on. It is closed when the
// subscription ends.
func (s *PinSubscription) Events() <-chan model.PinEvent {
	return s.ch
}

// Close unsubscribes. It is safe to call more than once.
func (s *PinSubscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	delete(s.hub.subs, s)
	s.closeChannel()
}

// closeChannel must be called with the hub lock held.
func (s *PinSubscription) closeChannel() {
	s.once.Do(func() {
		close(s.ch)
		close(s.quit)
	})
}
