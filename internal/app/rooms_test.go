package app

import (
	"errors"
	"testing"
	"time"

	"github.com/carelink/signaling/internal/domain"
)

func TestRoomRegistryCreateAndCollision(t *testing.T) {
	r := NewRoomRegistry()
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	room, err := r.Create("alice-bob", "alice", "bob", start)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if room.State != domain.StateRinging {
		t.Errorf("state = %q, want ringing", room.State)
	}

	_, err = r.Create("alice-bob", "bob", "alice", start.Add(time.Second))
	if !errors.Is(err, ErrRoomExists) {
		t.Fatalf("second Create err = %v, want ErrRoomExists", err)
	}

	// The first room must be untouched by the failed create.
	got, ok := r.Get("alice-bob")
	if !ok {
		t.Fatal("original room vanished")
	}
	if !got.StartTime.Equal(start) || got.Caller != "alice" {
		t.Error("original room was overwritten")
	}
	if r.Rooms() != 1 {
		t.Errorf("Rooms = %d, want 1", r.Rooms())
	}
}

func TestRoomRegistryAddParticipantIdempotent(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("alice-bob", "alice", "bob", time.Now())

	r.AddParticipant("alice-bob", "bob")
	r.AddParticipant("alice-bob", "bob")

	room, _ := r.Get("alice-bob")
	if len(room.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(room.Participants))
	}
}

func TestRoomRegistryEmptyRoomIsDeleted(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("alice-bob", "alice", "bob", time.Now())

	r.RemoveParticipant("alice-bob", "alice")
	if room, ok := r.Get("alice-bob"); !ok || room.Empty() {
		t.Fatal("room with one participant left must still exist and be non-empty")
	}

	r.RemoveParticipant("alice-bob", "bob")
	if _, ok := r.Get("alice-bob"); ok {
		t.Fatal("empty room must be deleted in the same step")
	}
	if r.Rooms() != 0 {
		t.Errorf("Rooms = %d, want 0", r.Rooms())
	}
}

func TestRoomRegistryRoomsWith(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("alice-bob", "alice", "bob", time.Now())
	r.Create("alice-carol", "carol", "alice", time.Now())

	rooms := r.RoomsWith("alice")
	if len(rooms) != 2 {
		t.Fatalf("RoomsWith(alice) = %d rooms, want 2", len(rooms))
	}
	if got := r.RoomsWith("bob"); len(got) != 1 || got[0].ID != "alice-bob" {
		t.Errorf("RoomsWith(bob) = %v", got)
	}
	if got := r.RoomsWith("dave"); len(got) != 0 {
		t.Errorf("RoomsWith(dave) = %v, want none", got)
	}
}

func TestRoomRegistryGetReturnsDetachedCopy(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("alice-bob", "alice", "bob", time.Now())

	room, _ := r.Get("alice-bob")
	room.Remove("alice")
	room.Remove("bob")

	stored, ok := r.Get("alice-bob")
	if !ok || len(stored.Participants) != 2 {
		t.Error("mutating a returned room leaked into the registry")
	}
}

func TestRoomRegistrySetState(t *testing.T) {
	r := NewRoomRegistry()
	r.Create("alice-bob", "alice", "bob", time.Now())
	r.SetState("alice-bob", domain.StateActive)

	room, _ := r.Get("alice-bob")
	if room.State != domain.StateActive {
		t.Errorf("state = %q, want active", room.State)
	}
}
