package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TaskAdded, Data: TaskData{Description: "A"}})

	for i, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != TaskAdded || e.Time.IsZero() {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: TaskFired})
	b.Publish(Event{Type: TaskFired}) // must not block
	if len(ch) != 1 {
		t.Fatalf("len = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: TaskFired}) // after unsubscribe: no panic
}
