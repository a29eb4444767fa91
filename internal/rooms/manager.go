package rooms

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/state"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

// Config carries the tunables the manager hands to each room it creates.
type Config struct {
	MaxBatchSize      int
	BatchInterval     time.Duration
	PositionDebounce  time.Duration
	RoomGraceTTL      time.Duration
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	LatencyWindow     int
}

// Manager owns the room registry: one coordinator goroutine per active room.
// Commands for different rooms proceed fully in parallel; within a room the
// inbox channel is the serialization point.
type Manager struct {
	store     *state.Store
	durable   DurableStore
	snapshots SnapshotCache
	writer    StateWriterService
	crossNode CrossNodeService
	logger    *utils.Logger
	cfg       Config

	mu    sync.RWMutex
	rooms map[uuid.UUID]*Room

	done chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a room manager. All collaborators are injected; nothing
// is resolved through globals.
func NewManager(store *state.Store, durable DurableStore, snapshots SnapshotCache, writer StateWriterService, crossNode CrossNodeService, logger *utils.Logger, cfg Config) *Manager {
	if cfg.RoomGraceTTL <= 0 {
		cfg.RoomGraceTTL = 10 * time.Minute
	}
	return &Manager{
		store:     store,
		durable:   durable,
		snapshots: snapshots,
		writer:    writer,
		crossNode: crossNode,
		logger:    logger,
		cfg:       cfg,
		rooms:     make(map[uuid.UUID]*Room),
		done:      make(chan struct{}),
	}
}

// Start runs the empty-room eviction loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(ctx)
		}
	}
}

// evictIdle sweeps expired empty rooms and unregisters them atomically, so a
// concurrent GetOrCreateRoom can never hand out a room whose store entry is
// gone. Room loops are stopped after the lock is released.
func (m *Manager) evictIdle(ctx context.Context) {
	m.mu.Lock()
	evicted := make([]*Room, 0)
	for _, roomID := range m.store.SweepEmpty(m.cfg.RoomGraceTTL) {
		m.logger.Info(ctx, "evicting empty room %s", roomID)
		if room, exists := m.rooms[roomID]; exists {
			delete(m.rooms, roomID)
			evicted = append(evicted, room)
		}
	}
	m.mu.Unlock()

	for _, room := range evicted {
		room.stop()
	}
}

// Stop shuts down every room loop.
func (m *Manager) Stop() {
	close(m.done)

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.rooms = make(map[uuid.UUID]*Room)
	m.mu.Unlock()

	for _, room := range rooms {
		room.stop()
	}
	m.wg.Wait()
}

// GetOrCreateRoom returns the live room, hydrating its state on first access:
// snapshot cache, then durable store, then the paused-at-zero default. A
// reconnecting client whose room was evicted therefore resumes from the
// persisted state rather than a fresh room.
func (m *Manager) GetOrCreateRoom(ctx context.Context, roomID uuid.UUID) *Room {
	m.mu.RLock()
	room, exists := m.rooms[roomID]
	m.mu.RUnlock()
	if exists {
		return room
	}

	initial := m.hydrate(ctx, roomID)

	m.mu.Lock()
	defer m.mu.Unlock()
	if room, exists := m.rooms[roomID]; exists {
		return room
	}
	m.store.CreateIfAbsent(roomID, initial)
	room = newRoom(roomID, m)
	m.rooms[roomID] = room
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		room.run()
	}()
	return room
}

func (m *Manager) hydrate(ctx context.Context, roomID uuid.UUID) models.SyncState {
	if m.snapshots != nil {
		if snap, err := m.snapshots.GetRoomSnapshot(ctx, roomID); err != nil {
			m.logger.Error(ctx, "snapshot lookup failed for room %s: %v", roomID, err)
		} else if snap != nil {
			return *snap
		}
	}
	if m.durable != nil {
		persisted, err := m.durable.LoadRoomState(ctx, roomID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			m.logger.Error(ctx, "durable state lookup failed for room %s: %v", roomID, err)
		} else if persisted != nil {
			return *persisted
		}
	}
	return models.DefaultSyncState(time.Now())
}

// GetRoom returns the live room if it is in memory.
func (m *Manager) GetRoom(roomID uuid.UUID) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID]
}

// Snapshot returns a copy of the room's full state for REST reads.
func (m *Manager) Snapshot(roomID uuid.UUID) *models.RoomState {
	return m.store.Snapshot(roomID)
}

// RelayEnvelope delivers a message produced on another node to this node's
// local members of the room. No-op when the room is not active here.
func (m *Manager) RelayEnvelope(roomID uuid.UUID, env protocol.Envelope, excludeUser uuid.UUID) {
	if room := m.GetRoom(roomID); room != nil {
		room.enqueue(relayMsg{env: env, excludeUser: excludeUser})
	}
}
