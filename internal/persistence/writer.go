package persistence

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukepan/watch-party-sync-back/internal/cache"
	"github.com/dukepan/watch-party-sync-back/internal/db"
	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/utils"
)

const (
	maxRetries     = 5
	initialBackoff = 100 * time.Millisecond

	snapshotTTL = 24 * time.Hour
)

type stateWrite struct {
	roomID uuid.UUID
	state  models.SyncState
}

// StateWriter persists accepted sync states and audit events off the command
// path. State writes for the same room coalesce to the latest version; audit
// events are batched into one transaction. Failures are logged and retried
// with backoff; they never touch the in-memory authoritative state.
type StateWriter struct {
	db     *db.Database
	cache  *cache.Cache
	logger *utils.Logger

	stateQueue chan stateWrite
	eventQueue chan *models.SyncEvent
	done       chan struct{}
	wg         sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
}

// NewStateWriter creates a state writer.
func NewStateWriter(database *db.Database, redisCache *cache.Cache, logger *utils.Logger) *StateWriter {
	return &StateWriter{
		db:            database,
		cache:         redisCache,
		logger:        logger,
		stateQueue:    make(chan stateWrite, 1000),
		eventQueue:    make(chan *models.SyncEvent, 1000),
		done:          make(chan struct{}),
		batchSize:     50,
		flushInterval: 100 * time.Millisecond,
	}
}

// Start begins the writer's flush loop.
func (sw *StateWriter) Start(ctx context.Context) {
	sw.wg.Add(1)
	go sw.flushLoop(ctx)
}

// Stop flushes remaining work and shuts the writer down.
func (sw *StateWriter) Stop() {
	close(sw.done)
	sw.wg.Wait()
}

// QueueState schedules a room's latest accepted state for persistence.
func (sw *StateWriter) QueueState(roomID uuid.UUID, state models.SyncState) {
	select {
	case sw.stateQueue <- stateWrite{roomID: roomID, state: state}:
	case <-sw.done:
	}
}

// QueueEvent schedules an audit event for persistence.
func (sw *StateWriter) QueueEvent(event *models.SyncEvent) {
	select {
	case sw.eventQueue <- event:
	case <-sw.done:
	}
}

func (sw *StateWriter) flushLoop(ctx context.Context) {
	defer sw.wg.Done()

	states := make(map[uuid.UUID]models.SyncState)
	events := make([]*models.SyncEvent, 0, sw.batchSize)
	ticker := time.NewTicker(sw.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(states) > 0 {
			sw.writeStates(ctx, states)
			states = make(map[uuid.UUID]models.SyncState)
		}
		if len(events) > 0 {
			sw.writeEvents(ctx, events)
			events = events[:0]
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-sw.done:
			// drain anything queued before shutdown
			for {
				select {
				case w := <-sw.stateQueue:
					states[w.roomID] = w.state
				case ev := <-sw.eventQueue:
					events = append(events, ev)
				default:
					flush()
					return
				}
			}

		case w := <-sw.stateQueue:
			// later versions supersede earlier ones for the same room
			if prev, ok := states[w.roomID]; !ok || w.state.SyncVersion > prev.SyncVersion {
				states[w.roomID] = w.state
			}

		case ev := <-sw.eventQueue:
			events = append(events, ev)
			if len(events) >= sw.batchSize {
				flush()
				ticker.Reset(sw.flushInterval)
			}

		case <-ticker.C:
			flush()
		}
	}
}

func (sw *StateWriter) writeStates(ctx context.Context, states map[uuid.UUID]models.SyncState) {
	for roomID, st := range states {
		state := st
		var lastErr error
		for i := 0; i < maxRetries; i++ {
			if lastErr = sw.db.SaveRoomState(ctx, roomID, &state); lastErr == nil {
				break
			}
			time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(i))))
		}
		if lastErr != nil {
			sw.logger.Error(ctx, "failed to persist state for room %s after %d retries: %v", roomID, maxRetries, lastErr)
			continue
		}
		if sw.cache != nil {
			if err := sw.cache.SetRoomSnapshot(ctx, roomID, &state, snapshotTTL); err != nil {
				sw.logger.Error(ctx, "failed to cache snapshot for room %s: %v", roomID, err)
			}
		}
	}
}

func (sw *StateWriter) writeEvents(ctx context.Context, events []*models.SyncEvent) {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		tx, err := sw.db.Begin(ctx)
		if err != nil {
			lastErr = err
			time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(i))))
			continue
		}

		committed := true
		for _, ev := range events {
			if err := sw.db.AppendSyncEventTx(ctx, tx, ev); err != nil {
				tx.Rollback(ctx)
				lastErr = err
				committed = false
				break
			}
		}
		if !committed {
			time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(i))))
			continue
		}

		if err := tx.Commit(ctx); err != nil {
			lastErr = err
			time.Sleep(initialBackoff * time.Duration(math.Pow(2, float64(i))))
			continue
		}
		return
	}
	sw.logger.Error(ctx, "failed to persist %d audit events after %d retries: %v", len(events), maxRetries, lastErr)
}
