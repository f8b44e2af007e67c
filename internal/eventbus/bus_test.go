package eventbus

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: TypeDispatch, Data: 42})

	select {
	case e := <-ch:
		if e.Type != TypeDispatch {
			t.Errorf("type = %q", e.Type)
		}
		if e.Time.IsZero() {
			t.Error("publish should stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeUsageReset})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()

	b.Publish(Event{Type: TypeChatJoined})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("unsubscribed channel should not receive events")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
