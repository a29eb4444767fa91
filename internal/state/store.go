package state

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

// Store is the authoritative in-memory room state map. It is the only shared
// mutable resource on the hot path; all sync-state writers must be the room's
// single coordinator loop.
type Store struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]*models.RoomState
	emptySince map[uuid.UUID]time.Time
}

// NewStore creates an empty room state store.
func NewStore() *Store {
	return &Store{
		rooms:      make(map[uuid.UUID]*models.RoomState),
		emptySince: make(map[uuid.UUID]time.Time),
	}
}

// Get returns the live state for a room, or nil if the room is not in memory.
func (s *Store) Get(roomID uuid.UUID) *models.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[roomID]
}

// CreateIfAbsent installs the initial state for a room if it does not exist
// yet and returns the live state either way.
func (s *Store) CreateIfAbsent(roomID uuid.UUID, initial models.SyncState) *models.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, exists := s.rooms[roomID]; exists {
		return room
	}
	room := &models.RoomState{
		RoomID:    roomID,
		Sync:      initial,
		UpdatedAt: time.Now(),
	}
	s.rooms[roomID] = room
	return room
}

// ApplyState overwrites the room's sync state. The caller must be the room's
// coordinator loop; version allocation happened there already.
func (s *Store) ApplyState(roomID uuid.UUID, newState models.SyncState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return
	}
	room.Sync = newState
	room.UpdatedAt = time.Now()
}

// AddMember appends a member to the room roster, preserving join order. The
// first member to join becomes host.
func (s *Store) AddMember(roomID uuid.UUID, member *models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return
	}
	if len(room.Members) == 0 {
		member.IsHost = true
	}
	room.Members = append(room.Members, member)
	delete(s.emptySince, roomID)
}

// RemoveMember drops a member by connection id. It returns the removed member,
// the new host if host reassignment happened, and the number of members left.
// Host reassignment is deterministic: the earliest-joined remaining member
// with control rights.
func (s *Store) RemoveMember(roomID, connectionID uuid.UUID) (removed *models.Member, newHost *models.Member, remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return nil, nil, 0
	}

	for i, m := range room.Members {
		if m.ConnectionID == connectionID {
			removed = m
			room.Members = append(room.Members[:i], room.Members[i+1:]...)
			break
		}
	}
	remaining = len(room.Members)

	if removed != nil && removed.IsHost && remaining > 0 {
		for _, m := range room.Members {
			if m.CanControl {
				m.IsHost = true
				newHost = m
				break
			}
		}
	}
	if remaining == 0 {
		s.emptySince[roomID] = time.Now()
	}
	return removed, newHost, remaining
}

// UpdateMemberHealth attaches the latest heartbeat metrics to a member and
// refreshes their last-seen time.
func (s *Store) UpdateMemberHealth(roomID, connectionID uuid.UUID, quality *models.ConnectionHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return
	}
	for _, m := range room.Members {
		if m.ConnectionID == connectionID {
			m.Quality = quality
			m.LastSeen = time.Now()
			return
		}
	}
}

// Snapshot returns a deep copy of the room state, safe to marshal outside the
// store lock.
func (s *Store) Snapshot(roomID uuid.UUID) *models.RoomState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, exists := s.rooms[roomID]
	if !exists {
		return nil
	}
	copied := &models.RoomState{
		RoomID:    room.RoomID,
		Sync:      room.Sync,
		UpdatedAt: room.UpdatedAt,
		Members:   make([]*models.Member, len(room.Members)),
	}
	for i, m := range room.Members {
		mc := *m
		copied.Members[i] = &mc
	}
	return copied
}

// SweepEmpty evicts rooms that have been memberless for longer than the grace
// TTL and returns their ids. Persisted state in the durable store survives.
func (s *Store) SweepEmpty(graceTTL time.Duration) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var evicted []uuid.UUID
	for roomID, since := range s.emptySince {
		if now.Sub(since) < graceTTL {
			continue
		}
		if room, exists := s.rooms[roomID]; exists && len(room.Members) == 0 {
			delete(s.rooms, roomID)
			delete(s.emptySince, roomID)
			evicted = append(evicted, roomID)
		}
	}
	return evicted
}

// Len returns the number of rooms held in memory.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
