package domain

import (
	"testing"
	"time"
)

func TestNewRoomIDIsOrderIndependent(t *testing.T) {
	ab := NewRoomID("alice", "bob")
	ba := NewRoomID("bob", "alice")
	if ab != ba {
		t.Errorf("room id depends on call direction: %q vs %q", ab, ba)
	}
	if ab != "alice-bob" {
		t.Errorf("unexpected room id: %q", ab)
	}
}

func TestNewRoomStartsRingingWithBothParticipants(t *testing.T) {
	now := time.Now()
	room := NewRoom("alice-bob", "alice", "bob", now)

	if room.State != StateRinging {
		t.Errorf("new room state = %q, want %q", room.State, StateRinging)
	}
	if !room.Has("alice") || !room.Has("bob") {
		t.Error("new room must contain both endpoints")
	}
	if got := room.Others("alice"); len(got) != 1 || got[0] != "bob" {
		t.Errorf("Others(alice) = %v, want [bob]", got)
	}
}

func TestRoomDuration(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	room := NewRoom("alice-bob", "alice", "bob", start)

	cases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"immediate", start, 0},
		{"whole seconds", start.Add(90 * time.Second), 90},
		{"rounds up", start.Add(4500 * time.Millisecond), 5},
		{"rounds down", start.Add(4400 * time.Millisecond), 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := room.Duration(tc.now); got != tc.want {
				t.Errorf("Duration = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRoomAddIsIdempotent(t *testing.T) {
	room := NewRoom("alice-bob", "alice", "bob", time.Now())
	room.Add("bob")
	room.Add("bob")
	if len(room.Participants) != 2 {
		t.Errorf("participants = %d, want 2", len(room.Participants))
	}
}

func TestRoomCloneIsDetached(t *testing.T) {
	room := NewRoom("alice-bob", "alice", "bob", time.Now())
	cp := room.Clone()
	cp.Remove("bob")
	if !room.Has("bob") {
		t.Error("mutating a clone leaked into the original")
	}
}
