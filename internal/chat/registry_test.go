package chat

import (
	"reflect"
	"testing"

	"parley/internal/models"
)

func TestRegisterAndDeliver(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	conn := &mockConn{}

	if prev := r.Register("u1", conn); prev != nil {
		t.Fatalf("Register() returned prev = %v for first registration", prev)
	}

	if !r.Deliver("u1", models.Event("PING", nil)) {
		t.Fatal("Deliver() = false for a registered user")
	}
	if got := conn.types(); len(got) != 1 || got[0] != "PING" {
		t.Errorf("delivered types = %v, want [PING]", got)
	}
}

func TestRegisterReplacesPrevious(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	first := &mockConn{}
	second := &mockConn{}

	r.Register("u1", first)
	prev := r.Register("u1", second)

	if prev != Conn(first) {
		t.Fatalf("Register() prev = %v, want the first connection", prev)
	}
	if !first.isClosed() {
		t.Error("superseded connection was not closed")
	}
	if second.isClosed() {
		t.Error("new connection must stay open")
	}

	r.Deliver("u1", models.Event("PING", nil))
	if len(first.envelopes()) != 0 {
		t.Error("superseded connection still receives deliveries")
	}
	if len(second.envelopes()) != 1 {
		t.Error("replacement connection missed the delivery")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestReleaseIgnoresStaleConn(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	first := &mockConn{}
	second := &mockConn{}

	r.Register("u1", first)
	r.Register("u1", second)

	// The first connection's read pump winds down after the replace; its
	// release must not evict the successor.
	if r.Release("u1", first) {
		t.Error("Release() of a stale connection reported true")
	}
	if !r.IsOnline("u1") {
		t.Fatal("user went offline after a stale release")
	}

	if !r.Release("u1", second) {
		t.Error("Release() of the current connection reported false")
	}
	if r.IsOnline("u1") {
		t.Error("user still online after releasing the current connection")
	}

	// Releasing the same connection again reports false, so callers
	// gating their offline announcement on it announce once.
	if r.Release("u1", second) {
		t.Error("second Release() of the same connection reported true")
	}
}

func TestRemoveUnbinds(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	conn := &mockConn{}
	r.Register("u1", conn)

	r.Remove("u1")
	if r.IsOnline("u1") {
		t.Error("user still online after Remove()")
	}
	if !conn.isClosed() {
		t.Error("Remove() left the connection open")
	}

	// A second remove, or removing an id never seen, is a no-op.
	r.Remove("u1")
	r.Remove("ghost")
}

func TestDeliverOffline(t *testing.T) {
	r := NewRegistry(testLogger(), nil)

	if r.Deliver("ghost", models.Event("PING", nil)) {
		t.Error("Deliver() = true for an offline user")
	}
}

func TestDeliverDropsOnFullQueue(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	conn := &mockConn{failSend: true}
	r.Register("u1", conn)

	if r.Deliver("u1", models.Event("PING", nil)) {
		t.Error("Deliver() = true when the send queue rejected the envelope")
	}
	// The user stays registered; a full queue is not a disconnect.
	if !r.IsOnline("u1") {
		t.Error("user was dropped from the registry on a failed send")
	}
}

func TestBroadcastSkipsSender(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	a, b, c := &mockConn{}, &mockConn{}, &mockConn{}
	r.Register("a", a)
	r.Register("b", b)
	r.Register("c", c)

	n := r.Broadcast(models.Event("PING", nil), "b")
	if n != 2 {
		t.Errorf("Broadcast() = %d, want 2", n)
	}
	if len(b.envelopes()) != 0 {
		t.Error("excluded user received the broadcast")
	}
	if len(a.envelopes()) != 1 || len(c.envelopes()) != 1 {
		t.Error("broadcast missed a connected user")
	}
}

func TestOnlineSorted(t *testing.T) {
	r := NewRegistry(testLogger(), nil)
	for _, id := range []string{"zoe", "adam", "mia"} {
		r.Register(id, &mockConn{})
	}

	got := r.Online()
	want := []string{"adam", "mia", "zoe"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Online() = %v, want %v", got, want)
	}
}
