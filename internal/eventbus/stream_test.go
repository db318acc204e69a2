package eventbus

import (
	"testing"
	"time"
)

func TestLiveStreamPublishDeliversToSubscriber(t *testing.T) {
	ls := NewLiveStream(4)
	ch := ls.Subscribe("sub1")

	evt := New("evt-1", TypeAgentRegistered, map[string]string{"agent_id": "a1"})
	ls.Publish(evt)

	select {
	case got := <-ch:
		if got.ID != "evt-1" {
			t.Fatalf("got event id %q, want evt-1", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestLiveStreamDropsForFullBuffer(t *testing.T) {
	ls := NewLiveStream(1)
	ls.Subscribe("sub1")

	ls.Publish(New("a", TypeAgentRegistered, nil))
	ls.Publish(New("b", TypeAgentRegistered, nil)) // should be dropped, not block

	if ls.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", ls.SubscriberCount())
	}
}

func TestLiveStreamUnsubscribeClosesChannel(t *testing.T) {
	ls := NewLiveStream(4)
	ch := ls.Subscribe("sub1")
	ls.Unsubscribe("sub1")

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	if ls.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount() = %d, want 0", ls.SubscriberCount())
	}
}
