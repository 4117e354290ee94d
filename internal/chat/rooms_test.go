package chat

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/store"
)

func TestCanonicalRoomID(t *testing.T) {
	tests := []struct {
		viewer  string
		channel string
		want    string
		wantErr error
	}{
		{"alice", "general", "general", nil},
		{"alice", "dm-bob", "dm:alice:bob", nil},
		{"bob", "dm-alice", "dm:alice:bob", nil},
		{"zoe", "dm-adam", "dm:adam:zoe", nil},
		{"alice", "", "", ErrBadChannel},
		{"alice", "dm-", "", ErrBadChannel},
		{"alice", "dm-alice", "", ErrBadChannel},
		{"alice", "dm:alice:bob", "", ErrBadChannel},
	}
	for _, tt := range tests {
		got, err := CanonicalRoomID(tt.viewer, tt.channel)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("CanonicalRoomID(%q, %q) error = %v, want %v", tt.viewer, tt.channel, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalRoomID(%q, %q) = %q, want %q", tt.viewer, tt.channel, got, tt.want)
		}
	}
}

func TestDMCanonicalizationSymmetric(t *testing.T) {
	fromAlice, err := CanonicalRoomID("alice", "dm-bob")
	if err != nil {
		t.Fatalf("CanonicalRoomID() error = %v", err)
	}
	fromBob, err := CanonicalRoomID("bob", "dm-alice")
	if err != nil {
		t.Fatalf("CanonicalRoomID() error = %v", err)
	}
	if fromAlice != fromBob {
		t.Errorf("both sides must share one room: %q vs %q", fromAlice, fromBob)
	}
}

func TestChannelFor(t *testing.T) {
	room := dmRoomKey("alice", "bob")

	if got := ChannelFor("alice", room); got != "dm-bob" {
		t.Errorf("ChannelFor(alice) = %q, want dm-bob", got)
	}
	if got := ChannelFor("bob", room); got != "dm-alice" {
		t.Errorf("ChannelFor(bob) = %q, want dm-alice", got)
	}
	if got := ChannelFor("alice", "general"); got != "general" {
		t.Errorf("ChannelFor() rewrote a group room: %q", got)
	}
}

func TestRoomEvictsOldest(t *testing.T) {
	room := newRoom("general", 3, nil)
	for i := 0; i < 5; i++ {
		room.Append(models.Message{ID: fmt.Sprintf("m%d", i), Content: "x"})
	}

	history := room.History()
	if len(history) != 3 {
		t.Fatalf("History() has %d messages, want 3", len(history))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if history[i].ID != want {
			t.Errorf("History()[%d].ID = %q, want %q", i, history[i].ID, want)
		}
	}
}

func TestRoomSeedTrimmedToLimit(t *testing.T) {
	seed := make([]models.Message, 10)
	for i := range seed {
		seed[i] = models.Message{ID: fmt.Sprintf("m%d", i)}
	}

	room := newRoom("general", 4, seed)
	history := room.History()
	if len(history) != 4 {
		t.Fatalf("History() has %d messages, want 4", len(history))
	}
	if history[0].ID != "m6" || history[3].ID != "m9" {
		t.Errorf("seed kept wrong tail: first %q last %q", history[0].ID, history[3].ID)
	}
}

// One past the cap is the eviction boundary: exactly the single oldest
// entry goes.
func TestRoomCapBoundary(t *testing.T) {
	room := newRoom("general", 3, nil)
	for i := 0; i < 4; i++ {
		room.Append(models.Message{ID: fmt.Sprintf("m%d", i)})
	}

	history := room.History()
	if len(history) != 3 {
		t.Fatalf("History() has %d messages at cap+1, want 3", len(history))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if history[i].ID != want {
			t.Errorf("History()[%d].ID = %q, want %q", i, history[i].ID, want)
		}
	}
}

func TestRoomKindAndMembers(t *testing.T) {
	direct := newRoom(dmRoomKey("bob", "alice"), 10, nil)
	if direct.Kind() != RoomDirect {
		t.Error("dm room not recognized as direct")
	}
	members := direct.Members()
	if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
		t.Errorf("Members() = %v, want [alice bob]", members)
	}

	broadcast := newRoom("general", 10, nil)
	if broadcast.Kind() != RoomBroadcast {
		t.Error("plain room not recognized as broadcast")
	}
	if got := broadcast.Members(); got != nil {
		t.Errorf("broadcast Members() = %v, want nil", got)
	}
}

func TestRoomHistoryIsACopy(t *testing.T) {
	room := newRoom("general", 10, nil)
	room.Append(models.Message{ID: "m1", Content: "original"})

	history := room.History()
	history[0].Content = "tampered"

	if got := room.History()[0].Content; got != "original" {
		t.Errorf("room log changed through a History() copy: %q", got)
	}
}

func TestRoomEdit(t *testing.T) {
	room := newRoom("general", 10, nil)
	room.Append(models.Message{ID: "m1", AuthorID: "alice", Content: "helo"})

	now := time.Now()
	var emitted *models.Message
	got, err := room.EditThen("m1", "alice", "hello", now, func(m models.Message) {
		emitted = &m
	})
	if err != nil {
		t.Fatalf("EditThen() error = %v", err)
	}
	if got.Content != "hello" || !got.Edited || got.EditedAt == nil {
		t.Errorf("EditThen() = %+v, want edited content with timestamp", got)
	}
	if emitted == nil || emitted.Content != "hello" {
		t.Error("emit did not receive the updated message")
	}
	if stored := room.History()[0]; stored.Content != "hello" || !stored.Edited {
		t.Errorf("log not updated: %+v", stored)
	}
}

func TestRoomEditOnlyAuthor(t *testing.T) {
	room := newRoom("general", 10, nil)
	room.Append(models.Message{ID: "m1", AuthorID: "alice", Content: "mine"})

	_, err := room.EditThen("m1", "bob", "hijacked", time.Now(), nil)
	if !errors.Is(err, ErrNotAuthor) {
		t.Errorf("EditThen() by non-author error = %v, want ErrNotAuthor", err)
	}
	if got := room.History()[0].Content; got != "mine" {
		t.Errorf("content changed despite rejection: %q", got)
	}
}

func TestRoomEditMissing(t *testing.T) {
	room := newRoom("general", 2, nil)
	room.Append(models.Message{ID: "m1", AuthorID: "alice"})
	room.Append(models.Message{ID: "m2", AuthorID: "alice"})
	room.Append(models.Message{ID: "m3", AuthorID: "alice"}) // evicts m1

	_, err := room.EditThen("m1", "alice", "too late", time.Now(), nil)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("EditThen() of evicted message error = %v, want ErrMessageNotFound", err)
	}
}

func TestRoomsPersistAndReload(t *testing.T) {
	st := store.NewMemory()
	rooms := NewRooms(5, st, testLogger())

	room := rooms.Get("general")
	room.Append(models.Message{ID: "m1", ChannelID: "general", Content: "hi"})
	room.Append(models.Message{ID: "m2", ChannelID: "general", Content: "there"})
	if err := rooms.Persist(context.Background(), room); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	// A fresh collection simulates a restart on the same store.
	reloaded := NewRooms(5, st, testLogger()).Get("general")
	history := reloaded.History()
	if len(history) != 2 {
		t.Fatalf("reloaded history has %d messages, want 2", len(history))
	}
	if history[0].ID != "m1" || history[1].ID != "m2" {
		t.Errorf("reloaded history out of order: %q, %q", history[0].ID, history[1].ID)
	}
}

func TestRoomsCorruptHistoryDiscarded(t *testing.T) {
	st := store.NewMemory()
	st.Put(context.Background(), store.MessagesKey("general"), []byte("not json"))

	room := NewRooms(5, st, testLogger()).Get("general")
	if room.Len() != 0 {
		t.Errorf("corrupt history produced %d messages, want 0", room.Len())
	}
}

func TestRoomsGetSameInstance(t *testing.T) {
	rooms := NewRooms(5, store.NewMemory(), testLogger())
	if rooms.Get("general") != rooms.Get("general") {
		t.Error("Get() returned different instances for one id")
	}
}
