package server

import (
	"encoding/json"
	"reflect"
	"testing"
)

// TestGroupRegisterDistinctNames verifies that members with distinct names
// all register and appear in the roster.
func TestGroupRegisterDistinctNames(t *testing.T) {
	group := NewGroup("encrypted")

	if !group.Register(newFakeConn("a"), "alice") {
		t.Fatal("first registration should succeed")
	}
	if !group.Register(newFakeConn("b"), "bob") {
		t.Fatal("second registration should succeed")
	}
	if group.Count() != 2 {
		t.Fatalf("Count = %d, want 2", group.Count())
	}
}

// TestGroupRegisterRejectsCaseInsensitiveDuplicate verifies that usernames
// differing only by case collide within a group.
func TestGroupRegisterRejectsCaseInsensitiveDuplicate(t *testing.T) {
	group := NewGroup("encrypted")
	group.Register(newFakeConn("a"), "Alice")

	for _, name := range []string{"alice", "ALICE", "aLiCe"} {
		if group.Register(newFakeConn("b"), name) {
			t.Errorf("Register(%q) should collide with %q", name, "Alice")
		}
	}
	if group.Count() != 1 {
		t.Fatalf("Count = %d after rejected registrations, want 1", group.Count())
	}
}

// TestGroupSameNameAcrossGroups verifies that uniqueness is scoped to one
// group: the same name may be live in both groups at once.
func TestGroupSameNameAcrossGroups(t *testing.T) {
	encrypted := NewGroup("encrypted")
	unencrypted := NewGroup("unencrypted")

	if !encrypted.Register(newFakeConn("a"), "alice") {
		t.Fatal("registration in the encrypted group should succeed")
	}
	if !unencrypted.Register(newFakeConn("b"), "alice") {
		t.Fatal("the same name must be allowed in the other group")
	}
}

// TestGroupUnregisterIdempotent verifies that removing a member twice
// reports the username only the first time.
func TestGroupUnregisterIdempotent(t *testing.T) {
	group := NewGroup("encrypted")
	conn := newFakeConn("a")
	group.Register(conn, "alice")

	username, ok := group.Unregister(conn)
	if !ok || username != "alice" {
		t.Fatalf("Unregister = (%q, %v), want (alice, true)", username, ok)
	}
	if _, ok := group.Unregister(conn); ok {
		t.Fatal("second Unregister for the same conn should report absence")
	}
}

// TestGroupUsernamesRegistrationOrder verifies that the roster preserves
// registration order across removals.
func TestGroupUsernamesRegistrationOrder(t *testing.T) {
	group := NewGroup("encrypted")
	a, b, c := newFakeConn("a"), newFakeConn("b"), newFakeConn("c")
	group.Register(a, "alice")
	group.Register(b, "bob")
	group.Register(c, "carol")

	if got := group.Usernames(); !reflect.DeepEqual(got, []string{"alice", "bob", "carol"}) {
		t.Fatalf("Usernames = %v, want registration order", got)
	}

	group.Unregister(b)
	if got := group.Usernames(); !reflect.DeepEqual(got, []string{"alice", "carol"}) {
		t.Fatalf("Usernames after removal = %v, want [alice carol]", got)
	}
}

// TestGroupBroadcastExcludesSender verifies that a broadcast reaches every
// member except the excluded connection.
func TestGroupBroadcastExcludesSender(t *testing.T) {
	group := NewGroup("encrypted")
	sender, other := newFakeConn("a"), newFakeConn("b")
	group.Register(sender, "alice")
	group.Register(other, "bob")

	group.Broadcast(ChatMessage{Username: "alice", Payload: "hi"}, sender)

	if len(sender.sentLines()) != 0 {
		t.Fatalf("sender received %v, want nothing", sender.sentLines())
	}
	lines := other.sentLines()
	if len(lines) != 1 {
		t.Fatalf("other member received %d frames, want 1", len(lines))
	}

	var msg ChatMessage
	if err := json.Unmarshal([]byte(lines[0]), &msg); err != nil {
		t.Fatalf("broadcast frame is not valid JSON: %v", err)
	}
	if msg.Username != "alice" || msg.Payload != "hi" {
		t.Fatalf("broadcast frame = %+v, want the original message", msg)
	}
}

// TestGroupBroadcastNilExcludeReachesEveryone verifies that presence-style
// broadcasts with no exclusion reach the whole group.
func TestGroupBroadcastNilExcludeReachesEveryone(t *testing.T) {
	group := NewGroup("encrypted")
	a, b := newFakeConn("a"), newFakeConn("b")
	group.Register(a, "alice")
	group.Register(b, "bob")

	group.Broadcast(presenceMessage(group.Usernames()), nil)

	for _, conn := range []*fakeConn{a, b} {
		if len(conn.sentLines()) != 1 {
			t.Fatalf("%s received %d frames, want 1", conn.RemoteAddr(), len(conn.sentLines()))
		}
	}
}

// TestGroupBroadcastRemovesFailedConn verifies that a write failure removes
// only the failed member, closes it, and delivery to the rest continues.
func TestGroupBroadcastRemovesFailedConn(t *testing.T) {
	group := NewGroup("encrypted")
	broken, healthy := newFakeConn("a"), newFakeConn("b")
	group.Register(broken, "alice")
	group.Register(healthy, "bob")
	broken.setFailWrites(true)

	group.Broadcast(systemText("hello"), nil)

	if len(healthy.sentLines()) != 1 {
		t.Fatalf("healthy member received %d frames, want 1", len(healthy.sentLines()))
	}
	if group.Count() != 1 {
		t.Fatalf("Count = %d after write failure, want 1", group.Count())
	}
	if !broken.isClosed() {
		t.Fatal("failed member's connection should be closed")
	}
	if _, ok := group.Unregister(broken); ok {
		t.Fatal("failed member should already be unregistered")
	}
}
