package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carelink/signaling/internal/domain"
	"github.com/carelink/signaling/internal/protocol"
)

// Sender is the transport endpoint the coordinator routes messages to.
// Owned by the adapter; the adapter closes it.
type Sender interface {
	TrySend(data []byte) error
}

// Failure reasons surfaced to clients in call-failed messages.
const (
	ReasonOffline       = "User not found or offline"
	ReasonCallerOffline = "Caller not found or offline"
	ReasonInProgress    = "Call already in progress"
	ReasonCallNotFound  = "Call not found"
)

type eventKind int

const (
	evAttach eventKind = iota
	evMessage
	evDetach
	evRingExpired
)

type event struct {
	kind   eventKind
	connID domain.ConnectionID
	sender Sender
	data   []byte
	roomID domain.RoomID
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
}

// Coordinator owns the connection and room registries and runs the call
// setup protocol. All inbound events funnel through one channel into a
// single loop, so registry mutations are sequential and messages from
// one sender are relayed in the order they arrived.
type Coordinator struct {
	// RingTimeout, when positive, tears down a call still unanswered
	// after the given duration through the same path as end-call.
	// Zero disables the timer.
	RingTimeout time.Duration

	users ConnectionRegistry
	rooms RoomRegistry

	conns     map[domain.ConnectionID]Sender
	events    chan event
	done      chan struct{}
	connCount atomic.Int64

	now func() time.Time
}

func NewCoordinator(users ConnectionRegistry, rooms RoomRegistry) *Coordinator {
	return &Coordinator{
		users:  users,
		rooms:  rooms,
		conns:  make(map[domain.ConnectionID]Sender),
		events: make(chan event, 256),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Run processes events until the context is cancelled. It must run in
// exactly one goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	log.Info().Str("module", "app.coordinator").Msg("coordinator loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.coordinator").Msg("coordinator loop stopped")
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

// enqueue queues an event for the loop. Once Run has exited, events are
// discarded instead of blocking the producer goroutines on a full
// buffer.
func (c *Coordinator) enqueue(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Attach hands a new transport connection to the coordinator.
func (c *Coordinator) Attach(connID domain.ConnectionID, s Sender) {
	c.enqueue(event{kind: evAttach, connID: connID, sender: s})
}

// Message queues one inbound frame from a connection.
func (c *Coordinator) Message(connID domain.ConnectionID, data []byte) {
	c.enqueue(event{kind: evMessage, connID: connID, data: data})
}

// Detach reports a closed connection. Cleanup is best-effort and never
// fails.
func (c *Coordinator) Detach(connID domain.ConnectionID) {
	c.enqueue(event{kind: evDetach, connID: connID})
}

// Snapshot returns current counts without touching the event loop.
func (c *Coordinator) Snapshot() Stats {
	return Stats{
		Connections: int(c.connCount.Load()),
		Rooms:       c.rooms.Rooms(),
		Users:       c.users.Users(),
	}
}

func (c *Coordinator) dispatch(ev event) {
	switch ev.kind {
	case evAttach:
		c.conns[ev.connID] = ev.sender
		c.connCount.Add(1)
		log.Info().Str("module", "app.coordinator").Str("conn", string(ev.connID)).Msg("connection attached")
	case evMessage:
		c.handleMessage(ev.connID, ev.data)
	case evDetach:
		c.handleDisconnect(ev.connID)
	case evRingExpired:
		c.handleRingExpired(ev.roomID)
	}
}

func (c *Coordinator) handleMessage(connID domain.ConnectionID, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(connID)).Msg("malformed frame dropped")
		return
	}
	switch env.Type {
	case protocol.TypeRegister:
		c.handleRegister(connID, env.Payload)
	case protocol.TypeCallRequest:
		c.handleCallRequest(connID, env.Payload)
	case protocol.TypeAnswer:
		c.handleAnswer(connID, env.Payload)
	case protocol.TypeICECandidate:
		c.handleCandidate(connID, env.Payload)
	case protocol.TypeConnectionQuality:
		c.handleQuality(connID, env.Payload)
	case protocol.TypeEndCall:
		c.handleEndCall(connID, env.Payload)
	default:
		log.Warn().Str("module", "app.coordinator").Str("type", string(env.Type)).Msg("unknown message type dropped")
	}
}

func (c *Coordinator) handleRegister(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.Register
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad register payload")
		return
	}
	c.users.Register(domain.UserID(p.UserID), connID)
	log.Info().Str("module", "app.coordinator").Str("user", p.UserID).Str("conn", string(connID)).Msg("user registered")
	if s, ok := c.conns[connID]; ok {
		c.send(s, protocol.TypeRegistered, protocol.Registered{UserID: p.UserID})
	}
}

func (c *Coordinator) handleCallRequest(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.CallRequest
	if err := json.Unmarshal(raw, &p); err != nil || p.TargetUserID == "" || p.CallerID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad call-request payload")
		return
	}
	sender, ok := c.conns[connID]
	if !ok {
		return
	}
	caller := domain.UserID(p.CallerID)
	target := domain.UserID(p.TargetUserID)

	targetSender := c.senderOf(target)
	if targetSender == nil {
		log.Info().Str("module", "app.coordinator").Str("caller", p.CallerID).Str("target", p.TargetUserID).Msg("call failed: target offline")
		c.send(sender, protocol.TypeCallFailed, protocol.CallFailed{TargetUserID: p.TargetUserID, Reason: ReasonOffline})
		return
	}

	roomID := domain.NewRoomID(caller, target)
	if _, err := c.rooms.Create(roomID, caller, target, c.now()); err != nil {
		if errors.Is(err, ErrRoomExists) {
			log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("call failed: room already in progress")
			c.send(sender, protocol.TypeCallFailed, protocol.CallFailed{TargetUserID: p.TargetUserID, Reason: ReasonInProgress})
			return
		}
		log.Error().Err(err).Str("module", "app.coordinator").Str("room", string(roomID)).Msg("create room")
		c.send(sender, protocol.TypeCallFailed, protocol.CallFailed{TargetUserID: p.TargetUserID, Reason: ReasonOffline})
		return
	}

	c.send(targetSender, protocol.TypeIncomingCall, protocol.IncomingCall{
		CallerID: p.CallerID,
		Offer:    p.Offer,
		RoomID:   string(roomID),
	})
	log.Info().Str("module", "app.coordinator").Str("caller", p.CallerID).Str("target", p.TargetUserID).Str("room", string(roomID)).Msg("call initiated")

	if c.RingTimeout > 0 {
		time.AfterFunc(c.RingTimeout, func() {
			c.enqueue(event{kind: evRingExpired, roomID: roomID})
		})
	}
}

func (c *Coordinator) handleAnswer(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.Answer
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" || p.CallerID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad answer payload")
		return
	}
	sender, ok := c.conns[connID]
	if !ok {
		return
	}
	roomID := domain.RoomID(p.RoomID)

	room, found := c.rooms.Get(roomID)
	if !found {
		log.Info().Str("module", "app.coordinator").Str("room", p.RoomID).Msg("answer failed: room gone")
		c.send(sender, protocol.TypeCallFailed, protocol.CallFailed{CallerID: p.CallerID, Reason: ReasonCallNotFound})
		return
	}
	if room.State != domain.StateRinging {
		// Duplicate answer for an established call carries no new
		// information; drop it like a late candidate.
		log.Debug().Str("module", "app.coordinator").Str("room", p.RoomID).Msg("answer for non-ringing room dropped")
		return
	}

	uid, registered := c.users.UserOf(connID)
	if !registered {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Str("room", p.RoomID).Msg("answer from unregistered connection dropped")
		return
	}
	c.rooms.AddParticipant(roomID, uid)

	callerSender := c.senderOf(domain.UserID(p.CallerID))
	if callerSender == nil {
		log.Info().Str("module", "app.coordinator").Str("room", p.RoomID).Str("caller", p.CallerID).Msg("answer failed: caller offline")
		c.send(sender, protocol.TypeCallFailed, protocol.CallFailed{CallerID: p.CallerID, Reason: ReasonCallerOffline})
		return
	}

	c.send(callerSender, protocol.TypeCallAnswered, protocol.CallAnswered{
		Answer: p.Answer,
		RoomID: p.RoomID,
	})
	c.rooms.SetState(roomID, domain.StateActive)
	log.Info().Str("module", "app.coordinator").Str("room", p.RoomID).Str("caller", p.CallerID).Msg("call answered")
}

func (c *Coordinator) handleCandidate(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.Candidate
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad candidate payload")
		return
	}
	room, found := c.rooms.Get(domain.RoomID(p.RoomID))
	if !found {
		// Late or duplicate candidate after teardown is not an error.
		log.Debug().Str("module", "app.coordinator").Str("room", p.RoomID).Msg("candidate for absent room dropped")
		return
	}
	uid, ok := c.users.UserOf(connID)
	if !ok {
		return
	}
	for _, other := range room.Others(uid) {
		c.sendToUser(other, protocol.TypeICECandidate, protocol.Candidate{
			RoomID:    p.RoomID,
			Candidate: p.Candidate,
		})
	}
}

func (c *Coordinator) handleQuality(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.Quality
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad quality payload")
		return
	}
	room, found := c.rooms.Get(domain.RoomID(p.RoomID))
	if !found {
		log.Debug().Str("module", "app.coordinator").Str("room", p.RoomID).Msg("quality report for absent room dropped")
		return
	}
	uid, ok := c.users.UserOf(connID)
	if !ok {
		return
	}
	for _, other := range room.Others(uid) {
		c.sendToUser(other, protocol.TypeQualityUpdate, protocol.QualityUpdate{
			Quality: p.Quality,
			UserID:  string(uid),
		})
	}
}

func (c *Coordinator) handleEndCall(connID domain.ConnectionID, raw json.RawMessage) {
	var p protocol.EndCall
	if err := json.Unmarshal(raw, &p); err != nil || p.RoomID == "" {
		log.Warn().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("bad end-call payload")
		return
	}
	c.endCall(domain.RoomID(p.RoomID), "end-call")
}

// endCall broadcasts call-ended with the call duration to every
// participant and deletes the room. No-op when the room is already gone.
func (c *Coordinator) endCall(roomID domain.RoomID, cause string) {
	room, found := c.rooms.Get(roomID)
	if !found {
		log.Debug().Str("module", "app.coordinator").Str("room", string(roomID)).Msg("end-call for absent room ignored")
		return
	}
	duration := room.Duration(c.now())
	for _, u := range room.All() {
		c.sendToUser(u, protocol.TypeCallEnded, protocol.CallEnded{
			RoomID:   string(roomID),
			Duration: duration,
		})
		c.rooms.RemoveParticipant(roomID, u)
	}
	log.Info().Str("module", "app.coordinator").Str("room", string(roomID)).Int("duration", duration).Str("cause", cause).Msg("call ended")
}

func (c *Coordinator) handleRingExpired(roomID domain.RoomID) {
	room, found := c.rooms.Get(roomID)
	if !found || room.State != domain.StateRinging {
		return
	}
	c.endCall(roomID, "ring timeout")
}

func (c *Coordinator) handleDisconnect(connID domain.ConnectionID) {
	if _, ok := c.conns[connID]; ok {
		delete(c.conns, connID)
		c.connCount.Add(-1)
	}

	uid, ok := c.users.UserOf(connID)
	if !ok {
		log.Info().Str("module", "app.coordinator").Str("conn", string(connID)).Msg("unregistered connection detached")
		return
	}
	c.users.RemoveConn(connID)
	log.Info().Str("module", "app.coordinator").Str("user", string(uid)).Str("conn", string(connID)).Msg("user disconnected")

	for _, room := range c.rooms.RoomsWith(uid) {
		for _, other := range room.Others(uid) {
			c.sendToUser(other, protocol.TypeParticipantDisconnected, protocol.ParticipantDisconnected{
				UserID: string(uid),
			})
		}
		// The call cannot continue without its peer; remove every
		// participant so the room is deleted rather than left behind
		// half-populated.
		for _, u := range room.All() {
			c.rooms.RemoveParticipant(room.ID, u)
		}
		log.Info().Str("module", "app.coordinator").Str("room", string(room.ID)).Str("user", string(uid)).Msg("room closed on disconnect")
	}
}

// senderOf resolves a user to a locally attached transport. A user
// registered through a shared store but connected to another instance is
// unreachable from here and treated as offline.
func (c *Coordinator) senderOf(u domain.UserID) Sender {
	connID, ok := c.users.Lookup(u)
	if !ok {
		return nil
	}
	s, ok := c.conns[connID]
	if !ok {
		log.Debug().Str("module", "app.coordinator").Str("user", string(u)).Msg("user registered on another instance")
		return nil
	}
	return s
}

func (c *Coordinator) sendToUser(u domain.UserID, t protocol.Type, payload any) {
	if s := c.senderOf(u); s != nil {
		c.send(s, t, payload)
	}
}

func (c *Coordinator) send(s Sender, t protocol.Type, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coordinator").Str("type", string(t)).Msg("encode frame")
		return
	}
	if err := s.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("type", string(t)).Msg("frame dropped")
	}
}
