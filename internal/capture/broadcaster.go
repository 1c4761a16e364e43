package capture

import (
	"sync"
)

// Subscriber receives the most recent frame. A viewer that falls behind
// skips frames instead of building a backlog.
type Subscriber struct {
	ch chan []byte
}

// Frames is closed when the subscriber is removed or the broadcaster closes.
func (s *Subscriber) Frames() <-chan []byte { return s.ch }

// offer replaces any frame the viewer has not picked up yet.
func (s *Subscriber) offer(frame []byte) {
	select {
	case s.ch <- frame:
		return
	default:
	}
	select {
	case <-s.ch:
		FramesDropped.Inc()
	default:
	}
	select {
	case s.ch <- frame:
	default:
	}
}

// Broadcaster fans captured frames out to connected viewers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
	latest      []byte
	closed      bool
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe registers a viewer. The latest frame, if any, is queued
// immediately so a new viewer does not wait for the next capture.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan []byte, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	if b.latest != nil {
		s.ch <- b.latest
	}
	b.subscribers[s] = struct{}{}
	Viewers.Inc()
	return s
}

// Unsubscribe removes a viewer and closes its channel.
func (b *Broadcaster) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[s]; !ok {
		return
	}
	delete(b.subscribers, s)
	close(s.ch)
	Viewers.Dec()
}

// Broadcast publishes frame to every viewer. The slice must not be modified
// afterwards.
func (b *Broadcaster) Broadcast(frame []byte) {
	b.mu.Lock()
	b.latest = frame
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		s.offer(frame)
	}
}

// Latest returns the most recent frame or nil before the first capture.
func (b *Broadcaster) Latest() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest
}

// Len returns the number of connected viewers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close disconnects every viewer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subscribers {
		close(s.ch)
		Viewers.Dec()
	}
	b.subscribers = make(map[*Subscriber]struct{})
}
