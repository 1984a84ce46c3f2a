package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribePublishUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	if b.Count() != 1 {
		t.Fatalf("Count = %d, want 1", b.Count())
	}

	b.Publish(Event{Type: EventAssetsSaved, Profile: "alice", Count: 2})

	select {
	case ev := <-ch:
		if ev.Type != EventAssetsSaved || ev.Profile != "alice" || ev.Count != 2 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Timestamp == 0 {
			t.Fatal("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	b.Unsubscribe(ch)
	if b.Count() != 0 {
		t.Fatalf("Count = %d after Unsubscribe, want 0", b.Count())
	}
	if _, open := <-ch; open {
		t.Fatal("channel should be closed after Unsubscribe")
	}
}

func TestPublishToMultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(Event{Type: EventProfileOpened, Profile: "alice"})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != EventProfileOpened {
				t.Fatalf("unexpected event type %q", ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Overfill the buffer; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Type: EventExternalChange})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
}

func TestMarshalEvent(t *testing.T) {
	data, err := MarshalEvent(Event{Type: EventProfileSwitched, Profile: "alice", Timestamp: 42})
	if err != nil {
		t.Fatal(err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != EventProfileSwitched || decoded.Profile != "alice" || decoded.Timestamp != 42 {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
