package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/health"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// PresenceStore records user online/offline presence.
type PresenceStore interface {
	SetUserPresence(ctx context.Context, userID uuid.UUID, state cache.PresenceState) error
}

// Client is the middleman between one websocket connection and the room
// layer. The read pump owns c.room; the write pump only drains c.send.
type Client struct {
	connID      uuid.UUID
	userID      uuid.UUID
	displayName string
	canControl  bool

	conn       *websocket.Conn
	send       chan protocol.Envelope
	manager    *Manager
	membership MembershipChecker
	presence   PresenceStore
	monitor    *health.Monitor
	logger     *utils.Logger

	room      *Room
	closeOnce sync.Once
}

// NewClient creates a client for an upgraded connection.
func NewClient(manager *Manager, membership MembershipChecker, presence PresenceStore, conn *websocket.Conn, userID uuid.UUID, displayName string, logger *utils.Logger) *Client {
	return &Client{
		connID:      uuid.New(),
		userID:      userID,
		displayName: displayName,
		conn:        conn,
		send:        make(chan protocol.Envelope, 256),
		manager:     manager,
		membership:  membership,
		presence:    presence,
		monitor:     health.NewMonitor(manager.cfg.LatencyWindow),
		logger:      logger,
	}
}

// Start begins the client's read and write pumps.
func (c *Client) Start() {
	if c.presence != nil {
		c.presence.SetUserPresence(context.Background(), c.userID, cache.PresenceState{
			Status:   "online",
			LastSeen: time.Now(),
		})
	}
	go c.writePump()
	go c.readPump()
}

// trySend queues a message without blocking; a client whose send buffer is
// full misses the message and resyncs via sync-request later.
func (c *Client) trySend(env protocol.Envelope) {
	select {
	case c.send <- env:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *Client) sendError(message string) {
	c.trySend(protocol.MustEnvelope(protocol.TypeError, protocol.Error{Message: message}))
}

// readPump pumps messages from the websocket connection into the room loop.
// There is at most one reader per connection.
func (c *Client) readPump() {
	defer c.cleanup()

	pongTimeout := c.manager.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = health.DefaultTimeout
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Error(context.Background(), "websocket read error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			// malformed messages are dropped; the connection stays open
			c.sendError("malformed message")
			continue
		}
		c.handleMessage(env)
	}
}

func (c *Client) handleMessage(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoinRoom:
		var join protocol.JoinRoom
		if err := env.Decode(&join); err != nil {
			c.sendError("malformed message")
			return
		}
		c.handleJoin(join.RoomID)

	case protocol.TypeLeaveRoom:
		if c.room == nil {
			return
		}
		if len(env.Data) > 0 {
			var leave protocol.LeaveRoom
			if err := env.Decode(&leave); err != nil {
				c.sendError("malformed message")
				return
			}
			if leave.RoomID != uuid.Nil && leave.RoomID != c.room.ID {
				c.sendError("not in that room")
				return
			}
		}
		c.room.enqueue(leaveMsg{connID: c.connID})
		c.room = nil

	case protocol.TypePlay, protocol.TypePause, protocol.TypeSeek:
		if c.room == nil {
			c.sendError("join a room first")
			return
		}
		var cmd protocol.PlaybackCommand
		if err := env.Decode(&cmd); err != nil {
			c.sendError("malformed message")
			return
		}
		c.room.enqueue(commandMsg{client: c, typ: env.Type, cmd: cmd})

	case protocol.TypeSyncRequest:
		if c.room == nil {
			c.sendError("join a room first")
			return
		}
		var req protocol.SyncRequest
		if len(env.Data) > 0 {
			if err := env.Decode(&req); err != nil {
				c.sendError("malformed message")
				return
			}
		}
		c.room.enqueue(syncRequestMsg{client: c, req: req})

	case protocol.TypeChatMessage:
		if c.room == nil {
			c.sendError("join a room first")
			return
		}
		var chat protocol.ChatMessage
		if err := env.Decode(&chat); err != nil || chat.Text == "" {
			c.sendError("malformed message")
			return
		}
		c.room.enqueue(chatMsg{client: c, text: chat.Text})

	case protocol.TypePositionUpdate:
		if c.room == nil {
			return
		}
		var update protocol.PositionUpdate
		if err := env.Decode(&update); err != nil {
			return
		}
		c.room.enqueue(positionMsg{client: c, update: update})

	case protocol.TypePing:
		var ping protocol.Ping
		if err := env.Decode(&ping); err != nil {
			c.sendError("malformed message")
			return
		}
		now := time.Now()
		c.trySend(protocol.MustEnvelope(protocol.TypePong, protocol.Pong{
			Timestamp:  ping.Timestamp,
			ServerTime: &now,
		}))

	case protocol.TypePong:
		var pong protocol.Pong
		if err := env.Decode(&pong); err != nil {
			return
		}
		c.monitor.RecordPong(pong.Timestamp, time.Now())
		if c.room != nil {
			snapshot := c.monitor.Snapshot()
			c.manager.store.UpdateMemberHealth(c.room.ID, c.connID, &snapshot)
		}

	default:
		c.sendError("unsupported message type")
	}
}

func (c *Client) handleJoin(roomID uuid.UUID) {
	if c.room != nil {
		c.sendError("already in a room")
		return
	}

	ctx := context.Background()
	isMember, canControl, err := c.membership.IsRoomMember(ctx, roomID, c.userID)
	if err != nil {
		c.logger.Error(ctx, "membership check failed for user %s in room %s: %v", c.userID, roomID, err)
		c.sendError("unable to verify room membership")
		return
	}
	if !isMember {
		c.sendError("not a member of this room")
		return
	}
	c.canControl = canControl

	now := time.Now()
	member := &models.Member{
		ConnectionID: c.connID,
		UserID:       c.userID,
		DisplayName:  c.displayName,
		CanControl:   canControl,
		JoinedAt:     now,
		LastSeen:     now,
	}

	c.room = c.manager.GetOrCreateRoom(ctx, roomID)
	c.room.enqueue(joinMsg{client: c, member: member})
}

// writePump pumps messages from the room to the websocket connection and runs
// the heartbeat. There is at most one writer per connection.
func (c *Client) writePump() {
	interval := c.manager.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = health.DefaultInterval
	}
	pongTimeout := c.manager.cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = health.DefaultTimeout
	}

	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Error(context.Background(), "websocket write error: %v", err)
				return
			}

		case <-ticker.C:
			now := time.Now()
			if c.monitor.Stale(now, pongTimeout) {
				// stale connection: force-disconnect through the normal
				// cleanup path (read pump unblocks on the closed conn)
				c.logger.Info(context.Background(), "disconnecting stale connection %s", c.connID)
				return
			}
			c.monitor.RecordPingSent()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(protocol.MustEnvelope(protocol.TypePing, protocol.Ping{Timestamp: now})); err != nil {
				return
			}
		}
	}
}

// cleanup runs when the read pump exits for any reason: transport error,
// stale-connection disconnect or normal close.
func (c *Client) cleanup() {
	if c.room != nil {
		if err := c.membership.TouchMemberLastSeen(context.Background(), c.room.ID, c.userID, time.Now()); err != nil {
			c.logger.Error(context.Background(), "failed to record last seen for user %s: %v", c.userID, err)
		}
		c.room.enqueue(leaveMsg{connID: c.connID})
		c.room = nil
	}
	if c.presence != nil {
		c.presence.SetUserPresence(context.Background(), c.userID, cache.PresenceState{
			Status:   "offline",
			LastSeen: time.Now(),
		})
	}
	c.close()
}
