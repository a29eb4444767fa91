package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncState is the authoritative playback state for a room. It is owned by the
// room state store; only the room's coordinator loop may write it.
type SyncState struct {
	Position     float64   `json:"position"`      // seconds, >= 0
	IsPlaying    bool      `json:"is_playing"`
	Timestamp    time.Time `json:"timestamp"`     // server time the state became authoritative
	PlaybackRate float64   `json:"playback_rate"` // > 0
	SyncVersion  uint64    `json:"sync_version"`  // server-assigned, strictly increasing
}

// DefaultSyncState is the state of a brand-new room: paused at position 0.
func DefaultSyncState(now time.Time) SyncState {
	return SyncState{
		Position:     0,
		IsPlaying:    false,
		Timestamp:    now,
		PlaybackRate: 1.0,
		SyncVersion:  0,
	}
}

// ConnectionQuality classifies a connection from its latency and jitter.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityFair      ConnectionQuality = "fair"
	QualityPoor      ConnectionQuality = "poor"
)

// ConnectionHealth holds the smoothed heartbeat metrics for one live connection.
type ConnectionHealth struct {
	LatencyMs     float64           `json:"latency_ms"`
	JitterMs      float64           `json:"jitter_ms"`
	Quality       ConnectionQuality `json:"quality"`
	PacketsLost   int               `json:"packets_lost"`
	Reconnections int               `json:"reconnections"`
}

// Member is a user's live presence inside a room.
type Member struct {
	ConnectionID uuid.UUID         `json:"connection_id"`
	UserID       uuid.UUID         `json:"user_id"`
	DisplayName  string            `json:"display_name"`
	CanControl   bool              `json:"can_control"`
	IsHost       bool              `json:"is_host"`
	JoinedAt     time.Time         `json:"joined_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Quality      *ConnectionHealth `json:"connection_quality,omitempty"`
}

// RoomState is the full in-memory state of an active room: the authoritative
// SyncState plus the roster. Members keeps join order so host reassignment is
// deterministic.
type RoomState struct {
	RoomID    uuid.UUID `json:"room_id"`
	Sync      SyncState `json:"sync"`
	Members   []*Member `json:"members"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Host returns the current host member, or nil if the room has none.
func (r *RoomState) Host() *Member {
	for _, m := range r.Members {
		if m.IsHost {
			return m
		}
	}
	return nil
}

// SyncEvent is one audit record of an accepted command, appended to the
// durable store asynchronously.
type SyncEvent struct {
	RoomID      uuid.UUID `json:"room_id"`
	UserID      uuid.UUID `json:"user_id"`
	EventType   string    `json:"event_type"` // play, pause, seek
	Position    float64   `json:"position"`
	SyncVersion uint64    `json:"sync_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// BatchedEvent is one low-priority event buffered by the batcher before flush.
type BatchedEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventBatch is the combined message flushed for a room's buffered events.
type EventBatch struct {
	BatchID uuid.UUID      `json:"batch_id"`
	RoomID  uuid.UUID      `json:"room_id"`
	Events  []BatchedEvent `json:"events"`
}
