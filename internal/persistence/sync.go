package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

const commandsChannel = "sync_commands"

// RoomBroadcaster delivers a relayed message to a room's local members.
type RoomBroadcaster interface {
	RelayEnvelope(roomID uuid.UUID, env protocol.Envelope, excludeUser uuid.UUID)
}

// nodeCommand is the cross-node wire format for an accepted command.
type nodeCommand struct {
	NodeID  uuid.UUID          `json:"node_id"`
	RoomID  uuid.UUID          `json:"room_id"`
	Payload protocol.Broadcast `json:"payload"`
}

// CrossNodeEngine relays accepted commands between server nodes over Redis
// pub/sub, so members of the same room connected to different nodes still see
// every command. A node ignores its own publications.
type CrossNodeEngine struct {
	nodeID  uuid.UUID
	cache   *cache.Cache
	rooms   RoomBroadcaster
	logger  *utils.Logger
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewCrossNodeEngine creates a cross-node relay engine.
func NewCrossNodeEngine(redisCache *cache.Cache, logger *utils.Logger) *CrossNodeEngine {
	return &CrossNodeEngine{
		nodeID: uuid.New(),
		cache:  redisCache,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetRoomManager wires the room layer in after construction; the manager and
// the engine reference each other, so one side is set late.
func (e *CrossNodeEngine) SetRoomManager(rooms RoomBroadcaster) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms = rooms
}

// Start subscribes to the command channel and relays until ctx is cancelled.
func (e *CrossNodeEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.relayLoop(ctx)
}

// Stop shuts the relay loop down.
func (e *CrossNodeEngine) Stop() {
	close(e.done)
	e.wg.Wait()
}

// PublishCommand fans an accepted command out to peer nodes. Fire-and-forget
// from the command path; a failed publish only degrades cross-node delivery.
func (e *CrossNodeEngine) PublishCommand(ctx context.Context, roomID uuid.UUID, payload protocol.Broadcast) error {
	msg := nodeCommand{
		NodeID:  e.nodeID,
		RoomID:  roomID,
		Payload: payload,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal cross-node command: %w", err)
	}
	return e.cache.Publish(ctx, commandsChannel, string(data))
}

func (e *CrossNodeEngine) relayLoop(ctx context.Context) {
	defer e.wg.Done()

	pubsub := e.cache.Subscribe(ctx, commandsChannel)
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case msg := <-pubsub.Channel():
			if msg == nil {
				return
			}
			e.handleCommand(ctx, msg.Payload)
		}
	}
}

func (e *CrossNodeEngine) handleCommand(ctx context.Context, payload string) {
	var msg nodeCommand
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		e.logger.Error(ctx, "malformed cross-node command: %v", err)
		return
	}
	if msg.NodeID == e.nodeID {
		return
	}

	e.mu.Lock()
	rooms := e.rooms
	e.mu.Unlock()
	if rooms == nil {
		return
	}

	env, err := protocol.NewEnvelope(msg.Payload.Command, msg.Payload)
	if err != nil {
		e.logger.Error(ctx, "failed to build relay envelope: %v", err)
		return
	}
	// the sender already applied this state locally on its own node
	rooms.RelayEnvelope(msg.RoomID, env, msg.Payload.SenderUserID)
}
