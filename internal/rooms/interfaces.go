package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
)

// StateWriterService persists accepted state and audit events asynchronously.
// Failures are logged by the writer and never affect live sync.
type StateWriterService interface {
	QueueState(roomID uuid.UUID, state models.SyncState)
	QueueEvent(event *models.SyncEvent)
	Stop()
}

// CrossNodeService fans accepted commands out to peer nodes.
type CrossNodeService interface {
	PublishCommand(ctx context.Context, roomID uuid.UUID, payload protocol.Broadcast) error
	Stop()
}

// DurableStore is the recovery-side read interface of the durable store.
type DurableStore interface {
	LoadRoomState(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error)
}

// SnapshotCache is the hot snapshot lookup consulted before the durable store.
type SnapshotCache interface {
	GetRoomSnapshot(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error)
}

// MembershipChecker is the authorization collaborator: does the user belong to
// the room, and may they control playback. TouchMemberLastSeen records the
// durable last-seen time when a connection ends.
type MembershipChecker interface {
	IsRoomMember(ctx context.Context, roomID, userID uuid.UUID) (isMember bool, canControl bool, err error)
	TouchMemberLastSeen(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error
}
