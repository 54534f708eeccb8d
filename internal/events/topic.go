// Package events provides the publish-only topics the engine uses to report
// levels, live waveforms, finished recordings and device faults.
package events

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the subscription channel capacity when none is given
const DefaultBuffer = 64

// Subscription receives values published on a Topic.
type Subscription[T any] struct {
	C    <-chan T
	c    chan T
	done chan struct{}
}

// Done is closed once the subscription has been removed from its topic
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Topic fans values out to every subscriber. Publish never blocks: the
// subscriber list is read through an atomic pointer and a value is dropped
// for any subscriber whose buffer is full.
type Topic[T any] struct {
	mu      sync.Mutex // serializes subscribe/unsubscribe
	subs    atomic.Pointer[[]*Subscription[T]]
	dropped atomic.Uint64
}

// Subscribe registers a new subscriber with the given channel capacity.
func (t *Topic[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	c := make(chan T, buffer)
	s := &Subscription[T]{C: c, c: c, done: make(chan struct{})}

	t.mu.Lock()
	defer t.mu.Unlock()

	var next []*Subscription[T]
	if cur := t.subs.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, s)
	t.subs.Store(&next)
	return s
}

// Unsubscribe removes s and closes its Done channel. The value channel is
// left open since a publisher may still hold the previous list.
func (t *Topic[T]) Unsubscribe(s *Subscription[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.subs.Load()
	if cur == nil {
		return
	}
	next := make([]*Subscription[T], 0, len(*cur))
	found := false
	for _, sub := range *cur {
		if sub == s {
			found = true
			continue
		}
		next = append(next, sub)
	}
	if !found {
		return
	}
	t.subs.Store(&next)
	close(s.done)
}

// Publish delivers v to every subscriber without blocking
func (t *Topic[T]) Publish(v T) {
	cur := t.subs.Load()
	if cur == nil {
		return
	}
	for _, s := range *cur {
		select {
		case s.c <- v:
		default:
			t.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count
func (t *Topic[T]) Subscribers() int {
	cur := t.subs.Load()
	if cur == nil {
		return 0
	}
	return len(*cur)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (t *Topic[T]) Dropped() uint64 {
	return t.dropped.Load()
}
