package stream

import (
	"context"
	"testing"
	"time"

	"toolgrid.org/internal/audit"
)

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	if err := s.Record(ctx, audit.Event{ID: "ev-1", Action: "membership.add"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.ID != "ev-1" || ev.Action != "membership.add" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsubscribeOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Subscribe(ctx)
	cancel()

	// The channel closes once the context ends.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel was not closed")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than the subscriber buffer holds.
		for i := 0; i < 100; i++ {
			s.Publish(audit.Event{ID: "ev", Action: "grant.company.create"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
