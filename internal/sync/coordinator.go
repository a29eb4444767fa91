// Package sync implements the authoritative playback state machine: command
// validation, monotonic version allocation and conflict detection. It is pure
// state-in/state-out; the per-room serialization point lives in the rooms
// package, which calls Apply from exactly one goroutine per room.
package sync

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
)

var (
	commandsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_commands_accepted_total",
		Help: "Playback commands accepted and assigned a new version.",
	}, []string{"command"})
	commandsConflicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_commands_conflicted_total",
		Help: "Playback commands rejected because their declared version was stale.",
	})
)

// Command is one play, pause or seek request from an identified sender.
type Command struct {
	Type         protocol.MessageType
	SenderConnID uuid.UUID
	SenderUserID uuid.UUID
	Payload      protocol.PlaybackCommand
}

// Result is the outcome of applying a command against the current state.
// Exactly one of NewState (Accepted) or Conflict (rejected) is meaningful.
type Result struct {
	Accepted bool
	NewState models.SyncState
	Conflict *protocol.SyncConflict
}

// Apply validates cmd against current and produces the next authoritative
// state. Versions are compared with the server-side counter only; client
// clocks never participate in ordering. Commands arriving first win; a later
// command carrying a stale version is rejected with the winning state.
func Apply(current models.SyncState, cmd Command, now time.Time) Result {
	if cmd.Payload.SyncVersion != nil && *cmd.Payload.SyncVersion < current.SyncVersion {
		commandsConflicted.Inc()
		return Result{
			Conflict: &protocol.SyncConflict{
				Message: fmt.Sprintf("sync version %d is behind current version %d",
					*cmd.Payload.SyncVersion, current.SyncVersion),
				CorrectState: current,
			},
		}
	}

	next := current
	next.SyncVersion = current.SyncVersion + 1
	next.Timestamp = now
	next.Position = cmd.Payload.Position
	if next.Position < 0 {
		next.Position = 0
	}
	if cmd.Payload.PlaybackRate != nil && *cmd.Payload.PlaybackRate > 0 {
		next.PlaybackRate = *cmd.Payload.PlaybackRate
	}

	switch cmd.Type {
	case protocol.TypePlay:
		next.IsPlaying = true
	case protocol.TypePause:
		next.IsPlaying = false
	case protocol.TypeSeek:
		// seek is a same-state transition, playing flag unchanged
	}

	commandsAccepted.WithLabelValues(string(cmd.Type)).Inc()
	return Result{Accepted: true, NewState: next}
}

// AuditEvent builds the audit record for an accepted command.
func AuditEvent(roomID uuid.UUID, cmd Command, newState models.SyncState) *models.SyncEvent {
	return &models.SyncEvent{
		RoomID:      roomID,
		UserID:      cmd.SenderUserID,
		EventType:   string(cmd.Type),
		Position:    newState.Position,
		SyncVersion: newState.SyncVersion,
		CreatedAt:   newState.Timestamp,
	}
}
