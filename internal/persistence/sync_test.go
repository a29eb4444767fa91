package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

type relayRecorder struct {
	mu     sync.Mutex
	relays []protocol.Envelope
}

func (r *relayRecorder) RelayEnvelope(roomID uuid.UUID, env protocol.Envelope, excludeUser uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays = append(r.relays, env)
}

func (r *relayRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.relays)
}

func newTestCache(t *testing.T, addr string) *cache.Cache {
	t.Helper()
	c, err := cache.New("redis://" + addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCrossNodeRelayBetweenNodes(t *testing.T) {
	s := miniredis.RunT(t)
	logger := utils.NewLogger("error")
	ctx := context.Background()

	publisher := NewCrossNodeEngine(newTestCache(t, s.Addr()), logger)

	recorder := &relayRecorder{}
	subscriber := NewCrossNodeEngine(newTestCache(t, s.Addr()), logger)
	subscriber.SetRoomManager(recorder)
	subscriber.Start(ctx)
	defer subscriber.Stop()

	roomID := uuid.New()
	payload := protocol.Broadcast{
		Command:      protocol.TypePlay,
		State:        models.SyncState{Position: 30, IsPlaying: true, PlaybackRate: 1.0, SyncVersion: 2, Timestamp: time.Now()},
		SenderUserID: uuid.New(),
		ServerTime:   time.Now(),
	}
	// republish until the subscriber's relay loop is up
	require.Eventually(t, func() bool {
		require.NoError(t, publisher.PublishCommand(ctx, roomID, payload))
		return recorder.count() >= 1
	}, 2*time.Second, 20*time.Millisecond)

	recorder.mu.Lock()
	env := recorder.relays[0]
	recorder.mu.Unlock()
	assert.Equal(t, protocol.TypePlay, env.Type)

	var relayed protocol.Broadcast
	require.NoError(t, env.Decode(&relayed))
	assert.Equal(t, uint64(2), relayed.State.SyncVersion)
	assert.Equal(t, payload.SenderUserID, relayed.SenderUserID)
}

func TestCrossNodeIgnoresOwnPublications(t *testing.T) {
	s := miniredis.RunT(t)
	logger := utils.NewLogger("error")
	ctx := context.Background()

	recorder := &relayRecorder{}
	engine := NewCrossNodeEngine(newTestCache(t, s.Addr()), logger)
	engine.SetRoomManager(recorder)
	engine.Start(ctx)
	defer engine.Stop()

	require.NoError(t, engine.PublishCommand(ctx, uuid.New(), protocol.Broadcast{
		Command: protocol.TypePause,
		State:   models.SyncState{PlaybackRate: 1.0, SyncVersion: 1, Timestamp: time.Now()},
	}))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, recorder.count(), "a node must not replay its own commands")
}

func TestCrossNodeDropsMalformedPayloads(t *testing.T) {
	s := miniredis.RunT(t)
	logger := utils.NewLogger("error")
	ctx := context.Background()

	recorder := &relayRecorder{}
	c := newTestCache(t, s.Addr())
	engine := NewCrossNodeEngine(c, logger)
	engine.SetRoomManager(recorder)
	engine.Start(ctx)
	defer engine.Stop()

	require.NoError(t, c.Publish(ctx, "sync_commands", "not json"))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, recorder.count())
}
