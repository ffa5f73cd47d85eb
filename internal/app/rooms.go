package app

import (
	"errors"
	"sync"
	"time"

	"github.com/carelink/signaling/internal/domain"
)

// ErrRoomExists reports a call-initiation against a room id already in
// use. The existing room is left untouched.
var ErrRoomExists = errors.New("room already exists")

// RoomRegistry tracks which users are jointly engaged in a call and for
// how long. All mutating methods are called from the coordinator loop
// only; Rooms may be read concurrently for snapshots.
//
// Returned rooms are detached copies. State lives in the registry and is
// changed only through these methods.
type RoomRegistry interface {
	Create(id domain.RoomID, caller, target domain.UserID, now time.Time) (*domain.Room, error)
	Get(id domain.RoomID) (*domain.Room, bool)
	// AddParticipant is a no-op if the user is already present.
	AddParticipant(id domain.RoomID, u domain.UserID)
	SetState(id domain.RoomID, s domain.CallState)
	// RemoveParticipant deletes the room in the same step when the
	// participant set becomes empty; an empty room is never observable.
	RemoveParticipant(id domain.RoomID, u domain.UserID)
	// RoomsWith returns every room the user belongs to, for disconnect
	// cleanup.
	RoomsWith(u domain.UserID) []*domain.Room
	// Rooms reports the number of active rooms.
	Rooms() int
}

// MemoryRoomRegistry is the single-instance in-memory implementation.
type MemoryRoomRegistry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*domain.Room
}

func NewRoomRegistry() *MemoryRoomRegistry {
	return &MemoryRoomRegistry{rooms: make(map[domain.RoomID]*domain.Room)}
}

func (r *MemoryRoomRegistry) Create(id domain.RoomID, caller, target domain.UserID, now time.Time) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[id]; ok {
		return nil, ErrRoomExists
	}
	room := domain.NewRoom(id, caller, target, now)
	r.rooms[id] = room
	return room.Clone(), nil
}

func (r *MemoryRoomRegistry) Get(id domain.RoomID) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	return room.Clone(), true
}

func (r *MemoryRoomRegistry) AddParticipant(id domain.RoomID, u domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.Add(u)
	}
}

func (r *MemoryRoomRegistry) SetState(id domain.RoomID, s domain.CallState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[id]; ok {
		room.State = s
	}
}

func (r *MemoryRoomRegistry) RemoveParticipant(id domain.RoomID, u domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[id]
	if !ok {
		return
	}
	room.Remove(u)
	if room.Empty() {
		delete(r.rooms, id)
	}
}

func (r *MemoryRoomRegistry) RoomsWith(u domain.UserID) []*domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Room
	for _, room := range r.rooms {
		if room.Has(u) {
			out = append(out, room.Clone())
		}
	}
	return out
}

func (r *MemoryRoomRegistry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
