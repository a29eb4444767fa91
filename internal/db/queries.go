package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

// ErrNotFound is returned when a room has no persisted sync state.
var ErrNotFound = errors.New("not found")

// Sync state queries

// LoadRoomState fetches the last persisted sync state for a room, used to
// hydrate a room after server restart or eviction so playback does not rewind.
func (db *Database) LoadRoomState(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error) {
	var state models.SyncState
	err := db.QueryRow(ctx,
		`SELECT position, is_playing, playback_rate, sync_version, updated_at
		 FROM room_sync_states WHERE room_id = $1`,
		roomID,
	).Scan(&state.Position, &state.IsPlaying, &state.PlaybackRate, &state.SyncVersion, &state.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveRoomState upserts the persisted sync state for a room.
func (db *Database) SaveRoomState(ctx context.Context, roomID uuid.UUID, state *models.SyncState) error {
	_, err := db.Exec(ctx,
		`INSERT INTO room_sync_states (room_id, position, is_playing, playback_rate, sync_version, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (room_id) DO UPDATE SET
		   position = EXCLUDED.position,
		   is_playing = EXCLUDED.is_playing,
		   playback_rate = EXCLUDED.playback_rate,
		   sync_version = EXCLUDED.sync_version,
		   updated_at = EXCLUDED.updated_at`,
		roomID, state.Position, state.IsPlaying, state.PlaybackRate, state.SyncVersion, state.Timestamp,
	)
	return err
}

// AppendSyncEvent appends one accepted command to the audit log.
func (db *Database) AppendSyncEvent(ctx context.Context, event *models.SyncEvent) error {
	_, err := db.Exec(ctx,
		`INSERT INTO room_sync_events (room_id, user_id, event_type, position, sync_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.RoomID, event.UserID, event.EventType, event.Position, event.SyncVersion, event.CreatedAt,
	)
	return err
}

// AppendSyncEventTx appends one accepted command to the audit log inside an
// existing transaction.
func (db *Database) AppendSyncEventTx(ctx context.Context, tx pgx.Tx, event *models.SyncEvent) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO room_sync_events (room_id, user_id, event_type, position, sync_version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.RoomID, event.UserID, event.EventType, event.Position, event.SyncVersion, event.CreatedAt,
	)
	return err
}

// GetRoomEvents returns the most recent audit entries for a room, newest first.
func (db *Database) GetRoomEvents(ctx context.Context, roomID uuid.UUID, limit int) ([]models.SyncEvent, error) {
	rows, err := db.Query(ctx,
		`SELECT room_id, user_id, event_type, position, sync_version, created_at
		 FROM room_sync_events
		 WHERE room_id = $1
		 ORDER BY sync_version DESC
		 LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.SyncEvent
	for rows.Next() {
		var ev models.SyncEvent
		if err := rows.Scan(&ev.RoomID, &ev.UserID, &ev.EventType, &ev.Position, &ev.SyncVersion, &ev.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Membership queries (authorization collaborator)

// IsRoomMember reports whether the user belongs to the room and whether they
// hold control rights.
func (db *Database) IsRoomMember(ctx context.Context, roomID, userID uuid.UUID) (isMember bool, canControl bool, err error) {
	var role string
	err = db.QueryRow(ctx,
		`SELECT role FROM room_members WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, role == "host" || role == "controller", nil
}

// TouchMemberLastSeen records the last time a member's connection was alive.
func (db *Database) TouchMemberLastSeen(ctx context.Context, roomID, userID uuid.UUID, at time.Time) error {
	_, err := db.Exec(ctx,
		`UPDATE room_members SET last_seen = $1 WHERE room_id = $2 AND user_id = $3`,
		at, roomID, userID,
	)
	return err
}

// GetUserDisplayName resolves a user's display name for member rosters and chat.
func (db *Database) GetUserDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	var name string
	err := db.QueryRow(ctx,
		`SELECT display_name FROM users WHERE id = $1`,
		userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}
