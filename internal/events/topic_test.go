package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	var topic Topic[int]

	s1 := topic.Subscribe(1)
	s2 := topic.Subscribe(1)
	if topic.Subscribers() != 2 {
		t.Errorf("Subscribers() = %d, want 2", topic.Subscribers())
	}

	topic.Unsubscribe(s1)
	if topic.Subscribers() != 1 {
		t.Errorf("After unsubscribe: Subscribers() = %d, want 1", topic.Subscribers())
	}
	select {
	case <-s1.Done():
	default:
		t.Error("Done() not closed after unsubscribe")
	}

	// second unsubscribe is a no-op
	topic.Unsubscribe(s1)
	topic.Unsubscribe(s2)
	if topic.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", topic.Subscribers())
	}
}

func TestPublishDelivers(t *testing.T) {
	var topic Topic[string]
	subs := []*Subscription[string]{topic.Subscribe(4), topic.Subscribe(4)}

	topic.Publish("hello")

	for i, s := range subs {
		select {
		case got := <-s.C:
			if got != "hello" {
				t.Errorf("subscriber %d got %q", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	var topic Topic[int]
	s := topic.Subscribe(2)

	done := make(chan struct{})
	go func() {
		for i := range 100 {
			topic.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if len(s.C) != 2 {
		t.Errorf("buffered = %d, want 2", len(s.C))
	}
	if topic.Dropped() != 98 {
		t.Errorf("Dropped() = %d, want 98", topic.Dropped())
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	var topic Topic[float64]
	topic.Publish(1.0)
	if topic.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", topic.Dropped())
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup

	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				bus.Level.Publish(0.5)
			}
		}
	}()

	for range 50 {
		s := bus.Level.Subscribe(1)
		bus.Level.Unsubscribe(s)
	}
	close(stop)
	wg.Wait()

	if bus.Level.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d, want 0", bus.Level.Subscribers())
	}
}
