// bus/bus_test.go
package bus

import (
	"testing"
	"time"
)

func expectOneOf(t *testing.T, sub *Subscription, want any) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		if got.Payload != want {
			t.Errorf("expected payload %v, got %v", want, got.Payload)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("timeout waiting for %v on %s", want, sub.Topic())
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Errorf("unexpected message on %s: %v", sub.Topic(), got.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("settings", "desired_transmission"))

	conn.Publish(conn.NewMessage(T("settings", "desired_transmission"), 0.3, false))

	expectOneOf(t, sub, 0.3)
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.PublishRetained(T("sys", "moving"), true)

	sub := conn.Subscribe(T("sys", "moving"))
	expectOneOf(t, sub, true)
}

func TestRetainedClearedByNilPayload(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.PublishRetained(T("sys", "fault"), "misconfigured")
	conn.PublishRetained(T("sys", "fault"), nil)

	sub := conn.Subscribe(T("sys", "fault"))
	expectNoMessage(t, sub)
}

func TestWildcardSingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("motor", "+", "state"))
	s2 := c.Subscribe(T("motor", "+", "+"))
	s3 := c.Subscribe(T("motor", "2", "+"))
	sNo := c.Subscribe(T("motor", "+", "status"))

	c.Publish(b.NewMessage(T("motor", "2", "state"), 1, false))

	expectOneOf(t, s1, 1)
	expectOneOf(t, s2, 1)
	expectOneOf(t, s3, 1)
	expectNoMessage(t, sNo)

	c.Publish(b.NewMessage(T("motor", "5", "status"), "up", false))

	expectOneOf(t, s2, "up")
	expectOneOf(t, sNo, "up")
	expectNoMessage(t, s1)
	expectNoMessage(t, s3)
}

func TestWildcardReceivesRetained(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	c.PublishRetained(T("motor", "0", "state"), 2)
	c.PublishRetained(T("motor", "1", "state"), 1)

	sub := c.Subscribe(T("motor", "+", "state"))

	got := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Channel():
			got[msg.Payload] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for retained messages")
		}
	}
	if !got[2] || !got[1] {
		t.Errorf("expected retained payloads {2,1}, got %v", got)
	}
}

func TestDropOldestWhenQueueFull(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("beam", "energy", "actual"))
	for i := 0; i < 5; i++ {
		c.Publish(b.NewMessage(T("beam", "energy", "actual"), i, false))
	}

	// Oldest messages dropped; the latest two remain.
	expectOneOf(t, sub, 3)
	expectOneOf(t, sub, 4)
	expectNoMessage(t, sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	sub := c.Subscribe(T("cmd", "run"))
	sub.Unsubscribe()

	// Publishing after unsubscribe must not panic or deliver.
	c.Publish(b.NewMessage(T("cmd", "run"), true, false))

	if _, ok := <-sub.Channel(); ok {
		t.Error("expected closed channel after unsubscribe")
	}
}

func TestDisconnectClosesAllSubscriptions(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("a"))
	s2 := c.Subscribe(T("b"))
	c.Disconnect()

	if _, ok := <-s1.Channel(); ok {
		t.Error("s1 still open after disconnect")
	}
	if _, ok := <-s2.Channel(); ok {
		t.Error("s2 still open after disconnect")
	}
}
