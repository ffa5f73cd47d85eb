// Package protocol defines the JSON messages exchanged with signaling
// clients. Offers, answers, and ICE candidates are opaque blobs relayed
// unmodified; this package never inspects them.
package protocol

import "encoding/json"

// Type identifies the kind of signaling message.
type Type string

// Client-to-server message types.
const (
	TypeRegister          Type = "register"
	TypeCallRequest       Type = "call-request"
	TypeAnswer            Type = "answer"
	TypeICECandidate      Type = "ice-candidate"
	TypeConnectionQuality Type = "connection-quality"
	TypeEndCall           Type = "end-call"
)

// Server-to-client message types. TypeICECandidate is used in both
// directions.
const (
	TypeRegistered              Type = "registered"
	TypeIncomingCall            Type = "incoming-call"
	TypeCallAnswered            Type = "call-answered"
	TypeQualityUpdate           Type = "connection-quality-update"
	TypeCallEnded               Type = "call-ended"
	TypeParticipantDisconnected Type = "participant-disconnected"
	TypeCallFailed              Type = "call-failed"
)

// Envelope is the wire frame wrapping every message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Register announces "I am user X, reachable on this connection".
type Register struct {
	UserID string `json:"userId"`
}

// CallRequest initiates a call to another registered user.
type CallRequest struct {
	TargetUserID string          `json:"targetUserId"`
	Offer        json.RawMessage `json:"offer"`
	CallerID     string          `json:"callerId"`
}

// Answer accepts an incoming call.
type Answer struct {
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
	RoomID   string          `json:"roomId"`
}

// Candidate carries one ICE candidate in either direction.
type Candidate struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
}

// Quality is a client's self-reported connection quality.
type Quality struct {
	RoomID  string          `json:"roomId"`
	Quality json.RawMessage `json:"quality"`
}

// EndCall hangs up the identified call.
type EndCall struct {
	RoomID string `json:"roomId"`
}

// Registered acknowledges a successful registration.
type Registered struct {
	UserID string `json:"userId"`
}

// IncomingCall notifies the target of a new call.
type IncomingCall struct {
	CallerID string          `json:"callerId"`
	Offer    json.RawMessage `json:"offer"`
	RoomID   string          `json:"roomId"`
}

// CallAnswered delivers the answer back to the caller.
type CallAnswered struct {
	Answer json.RawMessage `json:"answer"`
	RoomID string          `json:"roomId"`
}

// QualityUpdate relays a peer's quality report, tagged with the sender.
type QualityUpdate struct {
	Quality json.RawMessage `json:"quality"`
	UserID  string          `json:"userId"`
}

// CallEnded reports teardown with the call duration in whole seconds.
type CallEnded struct {
	RoomID   string `json:"roomId"`
	Duration int    `json:"duration"`
}

// ParticipantDisconnected notifies the remaining participants of a drop.
type ParticipantDisconnected struct {
	UserID string `json:"userId"`
}

// CallFailed reports a setup failure back to its originator.
type CallFailed struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	CallerID     string `json:"callerId,omitempty"`
	Reason       string `json:"reason"`
}

// Encode wraps a payload in an envelope of the given type and marshals
// the whole frame.
func Encode(t Type, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Decode parses an inbound frame into its envelope. Payload stays raw
// until the coordinator knows which struct it maps to.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
