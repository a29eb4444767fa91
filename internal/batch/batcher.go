// Package batch coalesces low-priority room events into combined messages and
// debounces position telemetry. High-priority events never pass through here;
// the rooms layer forwards those straight to the coordinator.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

var batchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "event_batches_flushed_total",
	Help: "Combined event batches flushed to room broadcast.",
})

const (
	// DefaultMaxBatchSize triggers an immediate flush when reached.
	DefaultMaxBatchSize = 20
	// DefaultInterval is the longest an event may sit unflushed.
	DefaultInterval = 100 * time.Millisecond
)

// FlushFunc receives a completed batch. It runs on the batcher goroutine and
// must not block for long.
type FlushFunc func(batch models.EventBatch)

// Batcher buffers one room's low-priority events. The flush fires when the
// buffer reaches maxSize or when interval has elapsed since the oldest
// unflushed event, whichever comes first.
type Batcher struct {
	roomID   uuid.UUID
	maxSize  int
	interval time.Duration
	flush    FlushFunc

	queue chan models.BatchedEvent
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewBatcher creates and starts a batcher for one room.
func NewBatcher(roomID uuid.UUID, maxSize int, interval time.Duration, flush FlushFunc) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	b := &Batcher{
		roomID:   roomID,
		maxSize:  maxSize,
		interval: interval,
		flush:    flush,
		queue:    make(chan models.BatchedEvent, 256),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

// Submit appends a low-priority event to the batch.
func (b *Batcher) Submit(ev models.BatchedEvent) {
	select {
	case b.queue <- ev:
	case <-b.done:
	}
}

// Stop flushes any pending events and stops the loop.
func (b *Batcher) Stop() {
	close(b.done)
	b.wg.Wait()
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	var (
		pending []models.BatchedEvent
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	flushNow := func() {
		if len(pending) == 0 {
			return
		}
		b.flush(models.EventBatch{
			BatchID: uuid.New(),
			RoomID:  b.roomID,
			Events:  pending,
		})
		batchesFlushed.Inc()
		pending = nil
		stopTimer()
	}

	for {
		select {
		case <-b.done:
			// drain whatever was queued before shutdown
			for {
				select {
				case ev := <-b.queue:
					pending = append(pending, ev)
				default:
					flushNow()
					return
				}
			}

		case ev := <-b.queue:
			pending = append(pending, ev)
			if len(pending) == 1 {
				timer = time.NewTimer(b.interval)
				timerC = timer.C
			}
			if len(pending) >= b.maxSize {
				flushNow()
			}

		case <-timerC:
			timer = nil
			timerC = nil
			flushNow()
		}
	}
}
