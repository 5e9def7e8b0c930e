package hub

import (
	"encoding/json"
	"testing"
)

func TestAttachRegistersConnection(t *testing.T) {
	h := New(10)
	c := h.Attach("c1")
	if c.ID != "c1" {
		t.Fatalf("connection id = %s, want c1", c.ID)
	}
	if h.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", h.ConnectionCount())
	}
}

func TestSubscribeAddsToRoomAndBroadcastDeliversToMembers(t *testing.T) {
	h := New(10)
	c1 := h.Attach("c1")
	h.Attach("c2")
	h.Subscribe("c1", "room-a")

	h.Broadcast("room-a", map[string]string{"hello": "world"})

	select {
	case data := <-c1.SendCh():
		var got map[string]string
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["hello"] != "world" {
			t.Fatalf("payload = %v, want hello=world", got)
		}
	default:
		t.Fatal("expected c1 to receive the broadcast")
	}
}

func TestBroadcastDoesNotReachNonMembers(t *testing.T) {
	h := New(10)
	h.Attach("c1")
	c2 := h.Attach("c2")
	h.Subscribe("c1", "room-a")

	h.Broadcast("room-a", "msg")

	select {
	case <-c2.SendCh():
		t.Fatal("c2 should not receive a broadcast for a room it never joined")
	default:
	}
}

func TestUnsubscribeStopsFutureBroadcasts(t *testing.T) {
	h := New(10)
	c1 := h.Attach("c1")
	h.Subscribe("c1", "room-a")
	h.Unsubscribe("c1", "room-a")

	h.Broadcast("room-a", "msg")

	select {
	case <-c1.SendCh():
		t.Fatal("c1 should not receive broadcasts after unsubscribing")
	default:
	}
	if h.RoomSize("room-a") != 0 {
		t.Fatalf("RoomSize = %d, want 0 after last member unsubscribes", h.RoomSize("room-a"))
	}
}

func TestDetachRemovesConnectionFromAllRooms(t *testing.T) {
	h := New(10)
	c1 := h.Attach("c1")
	h.Subscribe("c1", "room-a")
	h.Subscribe("c1", "room-b")

	h.Detach("c1")

	if h.ConnectionCount() != 0 {
		t.Fatalf("ConnectionCount = %d, want 0 after detach", h.ConnectionCount())
	}
	if h.RoomSize("room-a") != 0 || h.RoomSize("room-b") != 0 {
		t.Fatal("expected rooms to be emptied after detach")
	}
	select {
	case <-c1.Done():
	default:
		t.Fatal("expected Done channel to be closed after Detach")
	}
}

func TestBroadcastDropsWhenBufferFullWithoutBlocking(t *testing.T) {
	h := New(1)
	c1 := h.Attach("c1")
	h.Subscribe("c1", "room-a")

	h.Broadcast("room-a", "first")
	h.Broadcast("room-a", "second") // buffer full, should drop not block

	if h.DroppedCount("c1") != 1 {
		t.Fatalf("DroppedCount = %d, want 1", h.DroppedCount("c1"))
	}
	select {
	case <-c1.SendCh():
	default:
		t.Fatal("expected the first message to still be queued")
	}
}

func TestSendTargetsSingleConnection(t *testing.T) {
	h := New(10)
	c1 := h.Attach("c1")
	c2 := h.Attach("c2")

	if ok := h.Send("c1", "hi"); !ok {
		t.Fatal("expected Send to succeed for a known connection")
	}
	select {
	case <-c1.SendCh():
	default:
		t.Fatal("expected c1 to receive the direct send")
	}
	select {
	case <-c2.SendCh():
		t.Fatal("c2 should not receive a message addressed to c1")
	default:
	}
}

func TestSendToUnknownConnectionReturnsFalse(t *testing.T) {
	h := New(10)
	if ok := h.Send("ghost", "hi"); ok {
		t.Fatal("expected Send to a never-attached connection to return false")
	}
}

func TestSubscribeIgnoresUnknownConnection(t *testing.T) {
	h := New(10)
	h.Subscribe("ghost", "room-a")
	if h.RoomSize("room-a") != 0 {
		t.Fatalf("RoomSize = %d, want 0; subscribe from an unattached connection should be a no-op", h.RoomSize("room-a"))
	}
}
