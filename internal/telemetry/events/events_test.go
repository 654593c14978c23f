package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	if err := bus.Publish(Event{Category: CategoryTrigger, Type: TriggerEnqueued}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-sub.C():
		if ev.Type != TriggerEnqueued {
			t.Fatalf("expected type %q, got %q", TriggerEnqueued, ev.Type)
		}
	default:
		t.Fatalf("expected an event to be delivered")
	}
}

func TestPublishDropsOnFullSubscriberBuffer(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := bus.Publish(Event{Category: CategoryTrigger, Type: TriggerEnqueued}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	stats := bus.Stats()
	if stats.Dropped == 0 {
		t.Fatalf("expected at least one dropped event once the subscriber buffer filled")
	}
}

func TestPublishRejectsMissingCategory(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Publish(Event{}); err == nil {
		t.Fatalf("expected an error for an event with no category")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	sub, err := bus.Subscribe(1)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Unsubscribe(sub); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("expected the subscriber channel to be closed")
	}
}
