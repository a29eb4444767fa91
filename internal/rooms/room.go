package rooms

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/batch"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/sync"
)

// roomMsg is the closed set of messages a room loop processes. One variant per
// inbound concern; the loop switches exhaustively.
type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	client *Client
	member *models.Member
}

type leaveMsg struct {
	connID uuid.UUID
}

type commandMsg struct {
	client *Client
	typ    protocol.MessageType
	cmd    protocol.PlaybackCommand
}

type syncRequestMsg struct {
	client *Client
	req    protocol.SyncRequest
}

type chatMsg struct {
	client *Client
	text   string
}

type positionMsg struct {
	client *Client
	update protocol.PositionUpdate
}

type relayMsg struct {
	env         protocol.Envelope
	excludeUser uuid.UUID
}

func (joinMsg) isRoomMsg()        {}
func (leaveMsg) isRoomMsg()       {}
func (commandMsg) isRoomMsg()     {}
func (syncRequestMsg) isRoomMsg() {}
func (chatMsg) isRoomMsg()        {}
func (positionMsg) isRoomMsg()    {}
func (relayMsg) isRoomMsg()       {}

// Room is one active room's coordinator: a single goroutine draining inbox so
// that version allocation and state application are atomic per room.
type Room struct {
	ID      uuid.UUID
	manager *Manager

	inbox   chan roomMsg
	done    chan struct{}
	clients map[uuid.UUID]*Client // connection id -> client

	batcher  *batch.Batcher
	throttle *batch.PositionThrottle
}

func newRoom(roomID uuid.UUID, m *Manager) *Room {
	r := &Room{
		ID:      roomID,
		manager: m,
		inbox:   make(chan roomMsg, 256),
		done:    make(chan struct{}),
		clients: make(map[uuid.UUID]*Client),
	}
	r.batcher = batch.NewBatcher(roomID, m.cfg.MaxBatchSize, m.cfg.BatchInterval, r.flushBatch)
	r.throttle = batch.NewPositionThrottle(m.cfg.PositionDebounce, r.emitPosition)
	return r
}

// enqueue hands a message to the room loop; messages are processed in arrival
// order, which is what breaks ties between near-simultaneous commands.
func (r *Room) enqueue(msg roomMsg) {
	select {
	case r.inbox <- msg:
	case <-r.done:
	}
}

func (r *Room) stop() {
	close(r.done)
	r.batcher.Stop()
	r.throttle.Stop()
}

func (r *Room) run() {
	for {
		select {
		case <-r.done:
			for _, c := range r.clients {
				c.close()
			}
			return
		case msg := <-r.inbox:
			switch m := msg.(type) {
			case joinMsg:
				r.handleJoin(m)
			case leaveMsg:
				r.handleLeave(m)
			case commandMsg:
				r.handleCommand(m)
			case syncRequestMsg:
				r.handleSyncRequest(m)
			case chatMsg:
				r.handleChat(m)
			case positionMsg:
				r.throttle.Submit(m.update.Position, m.update.Timestamp)
			case relayMsg:
				r.broadcastToUsersExcept(m.env, m.excludeUser)
			}
		}
	}
}

func (r *Room) handleJoin(m joinMsg) {
	r.clients[m.client.connID] = m.client
	r.manager.store.AddMember(r.ID, m.member)

	snapshot := r.manager.store.Snapshot(r.ID)
	if snapshot != nil {
		m.client.trySend(protocol.MustEnvelope(protocol.TypeRoomState, protocol.RoomStateSnapshot{
			Room:       *snapshot,
			ServerTime: time.Now(),
		}))
	}

	r.broadcastExcept(protocol.MustEnvelope(protocol.TypeUserJoined, protocol.MemberDelta{
		RoomID: r.ID,
		Member: m.member,
	}), m.client.connID)
}

func (r *Room) handleLeave(m leaveMsg) {
	delete(r.clients, m.connID)
	removed, newHost, _ := r.manager.store.RemoveMember(r.ID, m.connID)
	if removed == nil {
		return
	}

	r.broadcastExcept(protocol.MustEnvelope(protocol.TypeUserLeft, protocol.MemberDelta{
		RoomID: r.ID,
		Member: removed,
	}), m.connID)

	if newHost != nil {
		r.broadcastExcept(protocol.MustEnvelope(protocol.TypeHostChanged, protocol.HostChanged{
			RoomID:    r.ID,
			NewHostID: newHost.UserID,
		}), uuid.Nil)
	}
}

// handleCommand validates, versions, applies and broadcasts one playback
// command, then schedules fire-and-forget persistence. Persistence failure
// never rolls back in-memory state or suppresses the broadcast.
func (r *Room) handleCommand(m commandMsg) {
	if !m.client.canControl {
		m.client.trySend(protocol.MustEnvelope(protocol.TypeError, protocol.Error{
			Message: "you do not have playback control in this room",
		}))
		return
	}

	room := r.manager.store.Get(r.ID)
	if room == nil {
		m.client.trySend(protocol.MustEnvelope(protocol.TypeError, protocol.Error{Message: "room is not active"}))
		return
	}

	result := sync.Apply(room.Sync, sync.Command{
		Type:         m.typ,
		SenderConnID: m.client.connID,
		SenderUserID: m.client.userID,
		Payload:      m.cmd,
	}, time.Now())

	if !result.Accepted {
		m.client.trySend(protocol.MustEnvelope(protocol.TypeSyncConflict, *result.Conflict))
		return
	}

	r.manager.store.ApplyState(r.ID, result.NewState)

	payload := protocol.Broadcast{
		Command:      m.typ,
		State:        result.NewState,
		SenderUserID: m.client.userID,
		ServerTime:   time.Now(),
	}
	r.broadcastExcept(protocol.MustEnvelope(m.typ, payload), m.client.connID)

	r.manager.writer.QueueState(r.ID, result.NewState)
	r.manager.writer.QueueEvent(sync.AuditEvent(r.ID, sync.Command{
		Type:         m.typ,
		SenderUserID: m.client.userID,
	}, result.NewState))

	if r.manager.crossNode != nil {
		if err := r.manager.crossNode.PublishCommand(context.Background(), r.ID, payload); err != nil {
			r.manager.logger.Error(context.Background(), "cross-node publish failed for room %s: %v", r.ID, err)
		}
	}
}

func (r *Room) handleSyncRequest(m syncRequestMsg) {
	room := r.manager.store.Get(r.ID)
	if room == nil {
		return
	}
	// a client already at the current version would discard the response anyway
	if v := m.req.LastKnownVersion; v != nil && *v == room.Sync.SyncVersion {
		return
	}
	m.client.trySend(protocol.MustEnvelope(protocol.TypeSyncResponse, protocol.SyncResponse{
		State:      room.Sync,
		ServerTime: time.Now(),
	}))
}

func (r *Room) handleChat(m chatMsg) {
	r.broadcastExcept(protocol.MustEnvelope(protocol.TypeNewChat, protocol.NewChatMessage{
		Text:        m.text,
		UserID:      m.client.userID,
		DisplayName: m.client.displayName,
		SentAt:      time.Now(),
	}), uuid.Nil)
}

// emitPosition forwards debounced position telemetry into the batch path.
func (r *Room) emitPosition(position float64, at time.Time) {
	r.batcher.Submit(models.BatchedEvent{
		Type:      string(protocol.TypePositionUpdate),
		Data:      protocol.PositionUpdate{Position: position, Timestamp: at},
		Timestamp: time.Now(),
	})
}

// flushBatch broadcasts a combined batch message. Runs on the batcher
// goroutine, so it goes through the inbox like everything else.
func (r *Room) flushBatch(b models.EventBatch) {
	r.enqueue(relayMsg{env: protocol.MustEnvelope(protocol.TypeEventBatch, b)})
}

// broadcastExcept sends env to every connected client except the excluded
// connection. uuid.Nil excludes nobody. Slow clients are skipped, not awaited.
func (r *Room) broadcastExcept(env protocol.Envelope, excludeConn uuid.UUID) {
	for connID, c := range r.clients {
		if connID == excludeConn {
			continue
		}
		c.trySend(env)
	}
}

func (r *Room) broadcastToUsersExcept(env protocol.Envelope, excludeUser uuid.UUID) {
	for _, c := range r.clients {
		if excludeUser != uuid.Nil && c.userID == excludeUser {
			continue
		}
		c.trySend(env)
	}
}
