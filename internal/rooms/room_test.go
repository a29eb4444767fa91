package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/state"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

type fakeWriter struct {
	states []models.SyncState
	events []*models.SyncEvent
}

func (w *fakeWriter) QueueState(roomID uuid.UUID, state models.SyncState) {
	w.states = append(w.states, state)
}
func (w *fakeWriter) QueueEvent(event *models.SyncEvent) { w.events = append(w.events, event) }
func (w *fakeWriter) Stop()                              {}

type fakeCrossNode struct {
	published []protocol.Broadcast
}

func (c *fakeCrossNode) PublishCommand(ctx context.Context, roomID uuid.UUID, payload protocol.Broadcast) error {
	c.published = append(c.published, payload)
	return nil
}
func (c *fakeCrossNode) Stop() {}

type fakeSnapshots struct {
	state *models.SyncState
	err   error
}

func (s *fakeSnapshots) GetRoomSnapshot(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error) {
	return s.state, s.err
}

type fakeDurable struct {
	state *models.SyncState
	err   error
}

func (d *fakeDurable) LoadRoomState(ctx context.Context, roomID uuid.UUID) (*models.SyncState, error) {
	return d.state, d.err
}

func newTestManager(t *testing.T, durable DurableStore, snapshots SnapshotCache) (*Manager, *fakeWriter, *fakeCrossNode) {
	t.Helper()
	writer := &fakeWriter{}
	crossNode := &fakeCrossNode{}
	m := NewManager(state.NewStore(), durable, snapshots, writer, crossNode, utils.NewLogger("error"), Config{
		MaxBatchSize:     20,
		BatchInterval:    100 * time.Millisecond,
		PositionDebounce: 500 * time.Millisecond,
		RoomGraceTTL:     10 * time.Minute,
	})
	return m, writer, crossNode
}

func newTestClient(canControl bool) *Client {
	return &Client{
		connID:      uuid.New(),
		userID:      uuid.New(),
		displayName: "viewer",
		canControl:  canControl,
		send:        make(chan protocol.Envelope, 32),
	}
}

func memberFor(c *Client) *models.Member {
	now := time.Now()
	return &models.Member{
		ConnectionID: c.connID,
		UserID:       c.userID,
		DisplayName:  c.displayName,
		CanControl:   c.canControl,
		JoinedAt:     now,
		LastSeen:     now,
	}
}

// newTestRoom builds a room whose handlers the test drives directly, without
// the coordinator goroutine, so assertions are deterministic.
func newTestRoom(t *testing.T, m *Manager) *Room {
	t.Helper()
	roomID := uuid.New()
	m.store.CreateIfAbsent(roomID, models.DefaultSyncState(time.Now()))
	r := newRoom(roomID, m)
	t.Cleanup(r.stop)
	return r
}

func recvType(t *testing.T, c *Client, want protocol.MessageType) protocol.Envelope {
	t.Helper()
	select {
	case env := <-c.send:
		require.Equal(t, want, env.Type)
		return env
	default:
		t.Fatalf("expected a %s message", want)
		return protocol.Envelope{}
	}
}

func requireEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.send:
		t.Fatalf("unexpected %s message", env.Type)
	default:
	}
}

func TestJoinSendsSnapshotAndNotifiesOthers(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	first := newTestClient(true)
	room.handleJoin(joinMsg{client: first, member: memberFor(first)})

	env := recvType(t, first, protocol.TypeRoomState)
	var snap protocol.RoomStateSnapshot
	require.NoError(t, env.Decode(&snap))
	require.Len(t, snap.Room.Members, 1)
	assert.True(t, snap.Room.Members[0].IsHost, "first joiner becomes host")
	assert.False(t, snap.ServerTime.IsZero())

	second := newTestClient(false)
	room.handleJoin(joinMsg{client: second, member: memberFor(second)})

	recvType(t, second, protocol.TypeRoomState)
	joined := recvType(t, first, protocol.TypeUserJoined)
	var delta protocol.MemberDelta
	require.NoError(t, joined.Decode(&delta))
	assert.Equal(t, second.userID, delta.Member.UserID)
	requireEmpty(t, second)
}

func TestCommandBroadcastExcludesSender(t *testing.T) {
	m, writer, crossNode := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	sender := newTestClient(true)
	receiver := newTestClient(false)
	room.handleJoin(joinMsg{client: sender, member: memberFor(sender)})
	room.handleJoin(joinMsg{client: receiver, member: memberFor(receiver)})
	drain(sender)
	drain(receiver)

	room.handleCommand(commandMsg{client: sender, typ: protocol.TypePlay, cmd: protocol.PlaybackCommand{
		Position:  30,
		Timestamp: time.Now(),
	}})

	env := recvType(t, receiver, protocol.TypePlay)
	var broadcast protocol.Broadcast
	require.NoError(t, env.Decode(&broadcast))
	assert.Equal(t, protocol.TypePlay, broadcast.Command)
	assert.Equal(t, sender.userID, broadcast.SenderUserID)
	assert.Equal(t, uint64(1), broadcast.State.SyncVersion)
	assert.True(t, broadcast.State.IsPlaying)
	assert.Equal(t, 30.0, broadcast.State.Position)

	requireEmpty(t, sender)

	// accepted commands reach the writer and the cross-node relay
	require.Len(t, writer.states, 1)
	assert.Equal(t, uint64(1), writer.states[0].SyncVersion)
	require.Len(t, writer.events, 1)
	assert.Equal(t, "play", writer.events[0].EventType)
	require.Len(t, crossNode.published, 1)

	// the authoritative store moved too
	assert.Equal(t, uint64(1), m.store.Get(room.ID).Sync.SyncVersion)
}

func TestStaleCommandConflictGoesToSenderOnly(t *testing.T) {
	m, writer, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	winner := newTestClient(true)
	loser := newTestClient(true)
	room.handleJoin(joinMsg{client: winner, member: memberFor(winner)})
	room.handleJoin(joinMsg{client: loser, member: memberFor(loser)})
	drain(winner)
	drain(loser)

	room.handleCommand(commandMsg{client: winner, typ: protocol.TypeSeek, cmd: protocol.PlaybackCommand{Position: 10}})
	drain(loser)

	stale := uint64(0)
	room.handleCommand(commandMsg{client: loser, typ: protocol.TypeSeek, cmd: protocol.PlaybackCommand{
		Position:    50,
		SyncVersion: &stale,
	}})

	env := recvType(t, loser, protocol.TypeSyncConflict)
	var conflict protocol.SyncConflict
	require.NoError(t, env.Decode(&conflict))
	assert.Equal(t, 10.0, conflict.CorrectState.Position)
	assert.Equal(t, uint64(1), conflict.CorrectState.SyncVersion)

	requireEmpty(t, winner)
	assert.Len(t, writer.states, 1, "a rejected command must not be persisted")
	assert.Equal(t, uint64(1), m.store.Get(room.ID).Sync.SyncVersion)
}

func TestCommandRejectedWithoutControl(t *testing.T) {
	m, writer, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	viewer := newTestClient(false)
	room.handleJoin(joinMsg{client: viewer, member: memberFor(viewer)})
	drain(viewer)

	room.handleCommand(commandMsg{client: viewer, typ: protocol.TypePlay, cmd: protocol.PlaybackCommand{Position: 5}})

	env := recvType(t, viewer, protocol.TypeError)
	var protoErr protocol.Error
	require.NoError(t, env.Decode(&protoErr))
	assert.Contains(t, protoErr.Message, "control")

	assert.Empty(t, writer.states)
	assert.Equal(t, uint64(0), m.store.Get(room.ID).Sync.SyncVersion)
}

func TestHostDisconnectBroadcastsHostChanged(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	host := newTestClient(true)
	successor := newTestClient(true)
	room.handleJoin(joinMsg{client: host, member: memberFor(host)})
	room.handleJoin(joinMsg{client: successor, member: memberFor(successor)})
	drain(host)
	drain(successor)

	room.handleLeave(leaveMsg{connID: host.connID})

	left := recvType(t, successor, protocol.TypeUserLeft)
	var delta protocol.MemberDelta
	require.NoError(t, left.Decode(&delta))
	assert.Equal(t, host.userID, delta.Member.UserID)

	changed := recvType(t, successor, protocol.TypeHostChanged)
	var hostChanged protocol.HostChanged
	require.NoError(t, changed.Decode(&hostChanged))
	assert.Equal(t, successor.userID, hostChanged.NewHostID)
}

func TestSyncRequestAnswersWithCurrentState(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	client := newTestClient(true)
	room.handleJoin(joinMsg{client: client, member: memberFor(client)})
	drain(client)

	room.handleCommand(commandMsg{client: client, typ: protocol.TypeSeek, cmd: protocol.PlaybackCommand{Position: 77}})
	room.handleSyncRequest(syncRequestMsg{client: client})

	env := recvType(t, client, protocol.TypeSyncResponse)
	var resp protocol.SyncResponse
	require.NoError(t, env.Decode(&resp))
	assert.Equal(t, 77.0, resp.State.Position)
	assert.Equal(t, uint64(1), resp.State.SyncVersion)
	assert.False(t, resp.ServerTime.IsZero())
}

func TestSyncRequestSkippedWhenClientAlreadyCurrent(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	client := newTestClient(true)
	room.handleJoin(joinMsg{client: client, member: memberFor(client)})
	room.handleCommand(commandMsg{client: client, typ: protocol.TypeSeek, cmd: protocol.PlaybackCommand{Position: 77}})
	drain(client)

	current := uint64(1)
	room.handleSyncRequest(syncRequestMsg{client: client, req: protocol.SyncRequest{LastKnownVersion: &current}})
	requireEmpty(t, client)

	behind := uint64(0)
	room.handleSyncRequest(syncRequestMsg{client: client, req: protocol.SyncRequest{LastKnownVersion: &behind}})
	env := recvType(t, client, protocol.TypeSyncResponse)
	var resp protocol.SyncResponse
	require.NoError(t, env.Decode(&resp))
	assert.Equal(t, uint64(1), resp.State.SyncVersion)
}

func TestLeaveRoomRejectsMismatchedRoomID(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	client := newTestClient(true)
	room.handleJoin(joinMsg{client: client, member: memberFor(client)})
	client.room = room
	drain(client)

	client.handleMessage(protocol.MustEnvelope(protocol.TypeLeaveRoom, protocol.LeaveRoom{RoomID: uuid.New()}))
	env := recvType(t, client, protocol.TypeError)
	var wireErr protocol.Error
	require.NoError(t, env.Decode(&wireErr))
	assert.Equal(t, "not in that room", wireErr.Message)
	assert.Same(t, room, client.room, "a mismatched leave must not detach the client")

	client.handleMessage(protocol.MustEnvelope(protocol.TypeLeaveRoom, protocol.LeaveRoom{RoomID: room.ID}))
	assert.Nil(t, client.room)
}

func TestLeaveRoomWithoutPayloadLeavesCurrentRoom(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	client := newTestClient(true)
	room.handleJoin(joinMsg{client: client, member: memberFor(client)})
	client.room = room
	drain(client)

	client.handleMessage(protocol.Envelope{Type: protocol.TypeLeaveRoom})
	assert.Nil(t, client.room)
	requireEmpty(t, client)
}

func TestChatBroadcastsToEveryone(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	room := newTestRoom(t, m)

	a := newTestClient(true)
	b := newTestClient(false)
	room.handleJoin(joinMsg{client: a, member: memberFor(a)})
	room.handleJoin(joinMsg{client: b, member: memberFor(b)})
	drain(a)
	drain(b)

	room.handleChat(chatMsg{client: a, text: "hello"})

	for _, c := range []*Client{a, b} {
		env := recvType(t, c, protocol.TypeNewChat)
		var chat protocol.NewChatMessage
		require.NoError(t, env.Decode(&chat))
		assert.Equal(t, "hello", chat.Text)
		assert.Equal(t, a.userID, chat.UserID)
	}
}

func TestGetOrCreateRoomHydratesFromSnapshotCache(t *testing.T) {
	cached := &models.SyncState{Position: 120, IsPlaying: true, PlaybackRate: 1.0, SyncVersion: 7, Timestamp: time.Now()}
	m, _, _ := newTestManager(t, &fakeDurable{err: db.ErrNotFound}, &fakeSnapshots{state: cached})
	defer m.Stop()

	roomID := uuid.New()
	room := m.GetOrCreateRoom(context.Background(), roomID)
	require.NotNil(t, room)

	assert.Equal(t, uint64(7), m.store.Get(roomID).Sync.SyncVersion)
	assert.Equal(t, 120.0, m.store.Get(roomID).Sync.Position)
}

func TestGetOrCreateRoomFallsBackToDurableStore(t *testing.T) {
	persisted := &models.SyncState{Position: 60, SyncVersion: 3, PlaybackRate: 1.0, Timestamp: time.Now()}
	m, _, _ := newTestManager(t, &fakeDurable{state: persisted}, &fakeSnapshots{})
	defer m.Stop()

	roomID := uuid.New()
	m.GetOrCreateRoom(context.Background(), roomID)

	assert.Equal(t, uint64(3), m.store.Get(roomID).Sync.SyncVersion)
}

func TestGetOrCreateRoomDefaultsWhenUnknown(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDurable{err: db.ErrNotFound}, &fakeSnapshots{})
	defer m.Stop()

	roomID := uuid.New()
	m.GetOrCreateRoom(context.Background(), roomID)

	sync := m.store.Get(roomID).Sync
	assert.Equal(t, uint64(0), sync.SyncVersion)
	assert.Equal(t, 0.0, sync.Position)
	assert.False(t, sync.IsPlaying)
	assert.Equal(t, 1.0, sync.PlaybackRate)
}

func TestGetOrCreateRoomReturnsSameRoom(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeDurable{err: db.ErrNotFound}, &fakeSnapshots{})
	defer m.Stop()

	roomID := uuid.New()
	first := m.GetOrCreateRoom(context.Background(), roomID)
	second := m.GetOrCreateRoom(context.Background(), roomID)
	assert.Same(t, first, second)
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}
