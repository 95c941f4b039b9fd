package eventbus

import "testing"

func TestPublishFansOutAndDropsWhenFull(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TaskExecuting})
	b.Publish(Event{Type: TaskFailed}) // a is full; dropped for a only

	if e := <-a; e.Type != TaskExecuting {
		t.Fatalf("a got %q", e.Type)
	}
	if len(c) != 2 {
		t.Fatalf("c buffered %d events, want 2", len(c))
	}
	if e := <-c; e.Time.IsZero() {
		t.Fatal("expected Publish to stamp time")
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	b.Publish(Event{Type: TickDone}) // must not panic
}
