package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

// MessageType enumerates every wire message. The set is closed: anything else
// is a malformed message and is dropped with a generic error.
type MessageType string

const (
	TypeJoinRoom       MessageType = "join-room"
	TypeLeaveRoom      MessageType = "leave-room"
	TypePlay           MessageType = "play"
	TypePause          MessageType = "pause"
	TypeSeek           MessageType = "seek"
	TypeSyncRequest    MessageType = "sync-request"
	TypeSyncResponse   MessageType = "sync-response"
	TypeSyncConflict   MessageType = "sync-conflict"
	TypeRoomState      MessageType = "room-state"
	TypeUserJoined     MessageType = "user-joined"
	TypeUserLeft       MessageType = "user-left"
	TypeHostChanged    MessageType = "host-changed"
	TypePing           MessageType = "ping"
	TypePong           MessageType = "pong"
	TypeChatMessage    MessageType = "chat-message"
	TypeNewChat        MessageType = "new-chat-message"
	TypePositionUpdate MessageType = "position-update"
	TypeEventBatch     MessageType = "event-batch"
	TypeError          MessageType = "error"
)

// Envelope is the outer frame of every message: a type tag and a raw payload.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// JoinRoom is the client's request to enter a room.
type JoinRoom struct {
	RoomID uuid.UUID `json:"room_id"`
}

// LeaveRoom is the client's request to leave a room.
type LeaveRoom struct {
	RoomID uuid.UUID `json:"room_id"`
}

// PlaybackCommand is the shared payload of play, pause and seek. PlaybackRate
// and SyncVersion are optional: a nil rate keeps the previous rate, a nil
// version skips the staleness check.
type PlaybackCommand struct {
	Position     float64   `json:"position"`
	Timestamp    time.Time `json:"timestamp"`
	PlaybackRate *float64  `json:"playback_rate,omitempty"`
	SyncVersion  *uint64   `json:"sync_version,omitempty"`
}

// SyncRequest asks the server for the current authoritative state.
type SyncRequest struct {
	LastKnownVersion *uint64 `json:"last_known_version,omitempty"`
}

// SyncResponse carries the authoritative state plus the server clock, so the
// client can extrapolate position without trusting its own send timestamp.
type SyncResponse struct {
	State      models.SyncState `json:"state"`
	ServerTime time.Time        `json:"server_time"`
}

// SyncConflict tells the sender its command was stale and hands back the
// winning state.
type SyncConflict struct {
	Message      string           `json:"message"`
	CorrectState models.SyncState `json:"correct_state"`
}

// Broadcast is an accepted command fanned out to the other room members,
// tagged with the new version and the server clock.
type Broadcast struct {
	Command      MessageType      `json:"command"` // play, pause or seek
	State        models.SyncState `json:"state"`
	SenderUserID uuid.UUID        `json:"sender_user_id"`
	ServerTime   time.Time        `json:"server_time"`
}

// RoomStateSnapshot is the full room snapshot sent on join.
type RoomStateSnapshot struct {
	Room       models.RoomState `json:"room"`
	ServerTime time.Time        `json:"server_time"`
}

// MemberDelta announces a member joining or leaving.
type MemberDelta struct {
	RoomID uuid.UUID      `json:"room_id"`
	Member *models.Member `json:"member"`
}

// HostChanged announces host reassignment after a disconnect.
type HostChanged struct {
	RoomID    uuid.UUID `json:"room_id"`
	NewHostID uuid.UUID `json:"new_host_id"`
}

// Ping is the heartbeat probe; Timestamp is echoed back in the pong.
type Ping struct {
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a ping. ServerTime is set only on server-originated pongs.
type Pong struct {
	Timestamp  time.Time  `json:"timestamp"`
	ServerTime *time.Time `json:"server_time,omitempty"`
}

// ChatMessage is an inbound chat line.
type ChatMessage struct {
	Text string `json:"text"`
}

// NewChatMessage is a chat line broadcast with author metadata.
type NewChatMessage struct {
	Text        string    `json:"text"`
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	SentAt      time.Time `json:"sent_at"`
}

// PositionUpdate is periodic position telemetry, not tied to a user action.
// It is throttled, never versioned, and never mutates authoritative state.
type PositionUpdate struct {
	Position  float64   `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// Error is a generic protocol-level error; the connection stays open.
type Error struct {
	Message string `json:"message"`
}

// NewEnvelope marshals a payload into an envelope of the given type.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// MustEnvelope is NewEnvelope for payloads built from our own structs, where a
// marshal failure is a programming error.
func MustEnvelope(t MessageType, payload interface{}) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// DecodeEnvelope parses a raw frame into an envelope, rejecting unknown types.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed message frame: %w", err)
	}
	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	return env, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("message %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", e.Type, err)
	}
	return nil
}

// Valid reports whether the type belongs to the closed message set.
func (t MessageType) Valid() bool {
	switch t {
	case TypeJoinRoom, TypeLeaveRoom, TypePlay, TypePause, TypeSeek,
		TypeSyncRequest, TypeSyncResponse, TypeSyncConflict, TypeRoomState,
		TypeUserJoined, TypeUserLeft, TypeHostChanged, TypePing, TypePong,
		TypeChatMessage, TypeNewChat, TypePositionUpdate, TypeEventBatch, TypeError:
		return true
	}
	return false
}

// IsPlaybackCommand reports whether the type is one of the three commands the
// sync coordinator accepts.
func (t MessageType) IsPlaybackCommand() bool {
	return t == TypePlay || t == TypePause || t == TypeSeek
}
