package stats

import "testing"

type fakeSubscriber struct {
	received []string
}

func (f *fakeSubscriber) Feed(channel string, payload []byte) {
	f.received = append(f.received, channel+":"+string(payload))
}

func TestPubSubHubPublishDeliversToSubscribers(t *testing.T) {
	h := NewPubSubHub()
	sub1 := &fakeSubscriber{}
	sub2 := &fakeSubscriber{}
	h.Subscribe("news", "conn1", sub1)
	h.Subscribe("news", "conn2", sub2)

	n := h.Publish("news", []byte("hello"))
	if n != 2 {
		t.Fatalf("Publish returned %d, want 2", n)
	}
	if len(sub1.received) != 1 || sub1.received[0] != "news:hello" {
		t.Fatalf("sub1 got %v", sub1.received)
	}
	if len(sub2.received) != 1 || sub2.received[0] != "news:hello" {
		t.Fatalf("sub2 got %v", sub2.received)
	}
}

func TestPubSubHubPublishToUnknownChannel(t *testing.T) {
	h := NewPubSubHub()
	if n := h.Publish("nobody-listening", []byte("x")); n != 0 {
		t.Fatalf("Publish on channel with no subscribers = %d, want 0", n)
	}
}

func TestPubSubHubUnsubscribe(t *testing.T) {
	h := NewPubSubHub()
	sub := &fakeSubscriber{}
	h.Subscribe("ch", "conn1", sub)
	h.Unsubscribe("ch", "conn1")
	if n := h.Publish("ch", []byte("x")); n != 0 {
		t.Fatalf("expected no subscribers after Unsubscribe, got %d", n)
	}
	if n := h.ChannelSubscriberCount("ch"); n != 0 {
		t.Fatalf("ChannelSubscriberCount after unsubscribe = %d, want 0", n)
	}
}

func TestPubSubHubUnsubscribeAll(t *testing.T) {
	h := NewPubSubHub()
	sub := &fakeSubscriber{}
	h.Subscribe("a", "conn1", sub)
	h.Subscribe("b", "conn1", sub)
	h.UnsubscribeAll("conn1", []string{"a", "b"})
	if n := h.Publish("a", []byte("x")); n != 0 {
		t.Fatalf("expected 0 subscribers on a after UnsubscribeAll, got %d", n)
	}
	if n := h.Publish("b", []byte("x")); n != 0 {
		t.Fatalf("expected 0 subscribers on b after UnsubscribeAll, got %d", n)
	}
	if len(h.Channels()) != 0 {
		t.Fatalf("expected no channels left, got %v", h.Channels())
	}
}

func TestPubSubHubChannels(t *testing.T) {
	h := NewPubSubHub()
	sub := &fakeSubscriber{}
	h.Subscribe("a", "conn1", sub)
	h.Subscribe("b", "conn2", sub)
	channels := h.Channels()
	if len(channels) != 2 {
		t.Fatalf("Channels() = %v, want 2 entries", channels)
	}
}

func TestPubSubHubResubscribeReplaces(t *testing.T) {
	h := NewPubSubHub()
	sub1 := &fakeSubscriber{}
	sub2 := &fakeSubscriber{}
	h.Subscribe("ch", "conn1", sub1)
	h.Subscribe("ch", "conn1", sub2) // same connID, different subscriber
	h.Publish("ch", []byte("x"))
	if len(sub1.received) != 0 {
		t.Fatalf("expected the replaced subscriber to receive nothing, got %v", sub1.received)
	}
	if len(sub2.received) != 1 {
		t.Fatalf("expected the replacing subscriber to receive the publish, got %v", sub2.received)
	}
}
