// Package domain contains the identities and entities shared by the
// signaling registries and the coordinator.
package domain

import (
	"math"
	"sort"
	"time"
)

type (
	// UserID is the durable application identity a client registers with.
	UserID string
	// ConnectionID identifies one live transport connection.
	ConnectionID string
	// RoomID identifies one call.
	RoomID string
)

// CallState tracks where a call is in its setup lifecycle. Rooms are
// deleted on teardown rather than kept in a terminal state.
type CallState string

const (
	StateRinging CallState = "ringing"
	StateActive  CallState = "active"
)

// NewRoomID derives the room id for a 1:1 call from its two participants.
// The pair is ordered lexicographically so that A calling B and B calling
// A resolve to the same room; the second initiation then fails with
// "already in progress" instead of silently creating a twin room.
func NewRoomID(a, b UserID) RoomID {
	if b < a {
		a, b = b, a
	}
	return RoomID(string(a) + "-" + string(b))
}

// Room is the bookkeeping unit for one in-progress call.
type Room struct {
	ID           RoomID
	Caller       UserID
	Target       UserID
	Participants map[UserID]struct{}
	StartTime    time.Time
	State        CallState
}

// NewRoom creates a ringing room with both endpoints as participants.
func NewRoom(id RoomID, caller, target UserID, now time.Time) *Room {
	return &Room{
		ID:     id,
		Caller: caller,
		Target: target,
		Participants: map[UserID]struct{}{
			caller: {},
			target: {},
		},
		StartTime: now,
		State:     StateRinging,
	}
}

func (r *Room) Has(u UserID) bool {
	_, ok := r.Participants[u]
	return ok
}

func (r *Room) Add(u UserID) {
	r.Participants[u] = struct{}{}
}

func (r *Room) Remove(u UserID) {
	delete(r.Participants, u)
}

func (r *Room) Empty() bool {
	return len(r.Participants) == 0
}

// Others returns every participant except the given one, sorted for
// deterministic fan-out order.
func (r *Room) Others(except UserID) []UserID {
	out := make([]UserID, 0, len(r.Participants))
	for u := range r.Participants {
		if u != except {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All returns every participant, sorted.
func (r *Room) All() []UserID {
	out := make([]UserID, 0, len(r.Participants))
	for u := range r.Participants {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Duration reports the whole seconds elapsed since the room was created.
func (r *Room) Duration(now time.Time) int {
	return int(math.Round(now.Sub(r.StartTime).Seconds()))
}

// Clone returns a copy with its own participant set, safe to hand out
// of a registry.
func (r *Room) Clone() *Room {
	parts := make(map[UserID]struct{}, len(r.Participants))
	for u := range r.Participants {
		parts[u] = struct{}{}
	}
	cp := *r
	cp.Participants = parts
	return &cp
}
