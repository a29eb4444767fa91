package batch

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

func submitN(b *Batcher, n int) {
	for i := 0; i < n; i++ {
		b.Submit(models.BatchedEvent{Type: "position-update", Timestamp: time.Now()})
	}
}

func TestBatcherFlushesAtMaxSize(t *testing.T) {
	flushed := make(chan models.EventBatch, 4)
	roomID := uuid.New()
	b := NewBatcher(roomID, 20, time.Hour, func(batch models.EventBatch) {
		flushed <- batch
	})

	submitN(b, 25)

	select {
	case batch := <-flushed:
		assert.Equal(t, roomID, batch.RoomID)
		assert.NotEqual(t, uuid.Nil, batch.BatchID)
		assert.Len(t, batch.Events, 20, "flush must fire exactly at max batch size")
	case <-time.After(2 * time.Second):
		t.Fatal("expected a size-triggered flush")
	}

	// the 5 leftovers flush on shutdown
	b.Stop()
	select {
	case batch := <-flushed:
		assert.Len(t, batch.Events, 5)
	default:
		t.Fatal("expected the remainder to flush on stop")
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	flushed := make(chan models.EventBatch, 1)
	b := NewBatcher(uuid.New(), 20, 30*time.Millisecond, func(batch models.EventBatch) {
		flushed <- batch
	})
	defer b.Stop()

	submitN(b, 3)

	select {
	case batch := <-flushed:
		assert.Len(t, batch.Events, 3, "a partial batch must flush once the interval elapses")
	case <-time.After(2 * time.Second):
		t.Fatal("expected an interval-triggered flush")
	}
}

func TestBatcherNoEmptyFlush(t *testing.T) {
	flushed := make(chan models.EventBatch, 1)
	b := NewBatcher(uuid.New(), 20, 10*time.Millisecond, func(batch models.EventBatch) {
		flushed <- batch
	})

	time.Sleep(50 * time.Millisecond)
	b.Stop()

	select {
	case <-flushed:
		t.Fatal("an idle batcher must never flush")
	default:
	}
}

func TestThrottleLastWriteWins(t *testing.T) {
	type sample struct {
		position float64
		at       time.Time
	}
	emitted := make(chan sample, 4)
	th := NewPositionThrottle(50*time.Millisecond, func(position float64, at time.Time) {
		emitted <- sample{position, at}
	})
	defer th.Stop()

	t1 := time.Now()
	th.Submit(10, t1)
	th.Submit(11, t1.Add(time.Millisecond))
	th.Submit(12, t1.Add(2*time.Millisecond))

	// the first sample passes through immediately
	select {
	case s := <-emitted:
		assert.Equal(t, 10.0, s.position)
	case <-time.After(time.Second):
		t.Fatal("expected an immediate first emission")
	}

	// within the window the latest sample supersedes the pending one
	select {
	case s := <-emitted:
		assert.Equal(t, 12.0, s.position)
	case <-time.After(time.Second):
		t.Fatal("expected the deferred emission")
	}

	require.Empty(t, emitted, "intermediate samples must be dropped")
}

func TestThrottleStopCancelsPending(t *testing.T) {
	emitted := make(chan float64, 4)
	th := NewPositionThrottle(50*time.Millisecond, func(position float64, at time.Time) {
		emitted <- position
	})

	th.Submit(1, time.Now())
	<-emitted
	th.Submit(2, time.Now())
	th.Stop()

	time.Sleep(100 * time.Millisecond)
	select {
	case <-emitted:
		t.Fatal("a stopped throttle must not emit")
	default:
	}
}
