package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/carelink/signaling/internal/domain"
)

// Shared-store key layout. One hash per direction of the connection
// mapping, one JSON document per room, plus index sets for counting and
// per-user cleanup.
const (
	keyUsers     = "signal:users"
	keyConns     = "signal:conns"
	keyRoomSet   = "signal:rooms"
	keyRoom      = "signal:room:"
	keyUserRooms = "signal:userrooms:"
)

// RedisConnectionRegistry externalizes the user-to-connection mapping so
// any instance can see who is registered. Store errors degrade to
// "absent": routing then reports the user offline instead of failing the
// coordinator.
type RedisConnectionRegistry struct {
	ctx context.Context
	rdb *redis.Client
}

func NewRedisConnectionRegistry(ctx context.Context, rdb *redis.Client) *RedisConnectionRegistry {
	return &RedisConnectionRegistry{ctx: ctx, rdb: rdb}
}

func (r *RedisConnectionRegistry) Register(userID domain.UserID, connID domain.ConnectionID) {
	old, err := r.rdb.HGet(r.ctx, keyUsers, string(userID)).Result()
	if err != nil && err != redis.Nil {
		log.Error().Err(err).Str("module", "app.redis").Msg("register: read old connection")
	}
	_, err = r.rdb.Pipelined(r.ctx, func(p redis.Pipeliner) error {
		p.HSet(r.ctx, keyUsers, string(userID), string(connID))
		p.HSet(r.ctx, keyConns, string(connID), string(userID))
		if old != "" && old != string(connID) {
			p.HDel(r.ctx, keyConns, old)
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("user", string(userID)).Msg("register")
	}
}

func (r *RedisConnectionRegistry) Lookup(userID domain.UserID) (domain.ConnectionID, bool) {
	v, err := r.rdb.HGet(r.ctx, keyUsers, string(userID)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("user", string(userID)).Msg("lookup")
		return "", false
	}
	return domain.ConnectionID(v), true
}

func (r *RedisConnectionRegistry) UserOf(connID domain.ConnectionID) (domain.UserID, bool) {
	v, err := r.rdb.HGet(r.ctx, keyConns, string(connID)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("conn", string(connID)).Msg("user of")
		return "", false
	}
	return domain.UserID(v), true
}

func (r *RedisConnectionRegistry) RemoveConn(connID domain.ConnectionID) {
	uid, ok := r.UserOf(connID)
	if err := r.rdb.HDel(r.ctx, keyConns, string(connID)).Err(); err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("conn", string(connID)).Msg("remove conn")
	}
	if !ok {
		return
	}
	cur, found := r.Lookup(uid)
	if found && cur == connID {
		if err := r.rdb.HDel(r.ctx, keyUsers, string(uid)).Err(); err != nil {
			log.Error().Err(err).Str("module", "app.redis").Str("user", string(uid)).Msg("remove user")
		}
	}
}

func (r *RedisConnectionRegistry) Users() int {
	n, err := r.rdb.HLen(r.ctx, keyUsers).Result()
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Msg("count users")
		return 0
	}
	return int(n)
}

// roomDoc is the JSON shape a room is stored under in the shared store.
type roomDoc struct {
	ID           string    `json:"id"`
	Caller       string    `json:"caller"`
	Target       string    `json:"target"`
	Participants []string  `json:"participants"`
	StartTime    time.Time `json:"startTime"`
	State        string    `json:"state"`
}

func docFromRoom(room *domain.Room) roomDoc {
	parts := make([]string, 0, len(room.Participants))
	for _, u := range room.All() {
		parts = append(parts, string(u))
	}
	return roomDoc{
		ID:           string(room.ID),
		Caller:       string(room.Caller),
		Target:       string(room.Target),
		Participants: parts,
		StartTime:    room.StartTime,
		State:        string(room.State),
	}
}

func (d roomDoc) toRoom() *domain.Room {
	parts := make(map[domain.UserID]struct{}, len(d.Participants))
	for _, u := range d.Participants {
		parts[domain.UserID(u)] = struct{}{}
	}
	return &domain.Room{
		ID:           domain.RoomID(d.ID),
		Caller:       domain.UserID(d.Caller),
		Target:       domain.UserID(d.Target),
		Participants: parts,
		StartTime:    d.StartTime,
		State:        domain.CallState(d.State),
	}
}

// RedisRoomRegistry externalizes room state behind the same interface as
// the in-memory registry. Each coordinator instance is still the sole
// writer for the rooms it created.
type RedisRoomRegistry struct {
	ctx context.Context
	rdb *redis.Client
}

func NewRedisRoomRegistry(ctx context.Context, rdb *redis.Client) *RedisRoomRegistry {
	return &RedisRoomRegistry{ctx: ctx, rdb: rdb}
}

func (r *RedisRoomRegistry) Create(id domain.RoomID, caller, target domain.UserID, now time.Time) (*domain.Room, error) {
	room := domain.NewRoom(id, caller, target, now)
	data, err := json.Marshal(docFromRoom(room))
	if err != nil {
		return nil, err
	}
	created, err := r.rdb.SetNX(r.ctx, keyRoom+string(id), data, 0).Result()
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrRoomExists
	}
	_, err = r.rdb.Pipelined(r.ctx, func(p redis.Pipeliner) error {
		p.SAdd(r.ctx, keyRoomSet, string(id))
		p.SAdd(r.ctx, keyUserRooms+string(caller), string(id))
		p.SAdd(r.ctx, keyUserRooms+string(target), string(id))
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("index room")
	}
	return room, nil
}

func (r *RedisRoomRegistry) Get(id domain.RoomID) (*domain.Room, bool) {
	data, err := r.rdb.Get(r.ctx, keyRoom+string(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("get room")
		return nil, false
	}
	var d roomDoc
	if err := json.Unmarshal(data, &d); err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("decode room")
		return nil, false
	}
	return d.toRoom(), true
}

func (r *RedisRoomRegistry) AddParticipant(id domain.RoomID, u domain.UserID) {
	room, ok := r.Get(id)
	if !ok || room.Has(u) {
		return
	}
	room.Add(u)
	r.store(room)
	if err := r.rdb.SAdd(r.ctx, keyUserRooms+string(u), string(id)).Err(); err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("index participant")
	}
}

func (r *RedisRoomRegistry) SetState(id domain.RoomID, s domain.CallState) {
	room, ok := r.Get(id)
	if !ok {
		return
	}
	room.State = s
	r.store(room)
}

func (r *RedisRoomRegistry) RemoveParticipant(id domain.RoomID, u domain.UserID) {
	room, ok := r.Get(id)
	if !ok {
		return
	}
	room.Remove(u)
	if err := r.rdb.SRem(r.ctx, keyUserRooms+string(u), string(id)).Err(); err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("unindex participant")
	}
	if !room.Empty() {
		r.store(room)
		return
	}
	_, err := r.rdb.Pipelined(r.ctx, func(p redis.Pipeliner) error {
		p.Del(r.ctx, keyRoom+string(id))
		p.SRem(r.ctx, keyRoomSet, string(id))
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(id)).Msg("delete room")
	}
}

func (r *RedisRoomRegistry) RoomsWith(u domain.UserID) []*domain.Room {
	ids, err := r.rdb.SMembers(r.ctx, keyUserRooms+string(u)).Result()
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("user", string(u)).Msg("rooms with")
		return nil
	}
	var out []*domain.Room
	for _, id := range ids {
		if room, ok := r.Get(domain.RoomID(id)); ok && room.Has(u) {
			out = append(out, room)
		}
	}
	return out
}

func (r *RedisRoomRegistry) Rooms() int {
	n, err := r.rdb.SCard(r.ctx, keyRoomSet).Result()
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Msg("count rooms")
		return 0
	}
	return int(n)
}

func (r *RedisRoomRegistry) store(room *domain.Room) {
	data, err := json.Marshal(docFromRoom(room))
	if err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(room.ID)).Msg("encode room")
		return
	}
	if err := r.rdb.Set(r.ctx, keyRoom+string(room.ID), data, 0).Err(); err != nil {
		log.Error().Err(err).Str("module", "app.redis").Str("room", string(room.ID)).Msg("store room")
	}
}
