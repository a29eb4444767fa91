package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

func TestSnapshotSteadyLatency(t *testing.T) {
	m := NewMonitor(10)
	base := time.Now()

	for i := 0; i < 10; i++ {
		sent := base.Add(time.Duration(i) * time.Second)
		m.RecordPingSent()
		m.RecordPong(sent, sent.Add(40*time.Millisecond))
	}

	snap := m.Snapshot()
	assert.InDelta(t, 40.0, snap.LatencyMs, 0.01)
	assert.InDelta(t, 0.0, snap.JitterMs, 0.01, "identical samples have zero jitter")
	assert.Equal(t, models.QualityExcellent, snap.Quality)
	assert.Equal(t, 0, snap.PacketsLost)
}

func TestSnapshotJitteryLatency(t *testing.T) {
	m := NewMonitor(10)
	base := time.Now()

	// alternating 100ms and 200ms round trips: mean 150ms, stddev 50ms
	for i := 0; i < 10; i++ {
		rtt := 100 * time.Millisecond
		if i%2 == 1 {
			rtt = 200 * time.Millisecond
		}
		sent := base.Add(time.Duration(i) * time.Second)
		m.RecordPingSent()
		m.RecordPong(sent, sent.Add(rtt))
	}

	snap := m.Snapshot()
	assert.InDelta(t, 150.0, snap.LatencyMs, 0.01)
	assert.InDelta(t, 50.0, snap.JitterMs, 0.01)
	assert.Equal(t, models.QualityPoor, snap.Quality, "high jitter degrades quality regardless of mean latency")
}

func TestWindowKeepsLastSamples(t *testing.T) {
	m := NewMonitor(3)
	base := time.Now()

	// older slow samples must fall out of the window
	for i, rtt := range []time.Duration{500 * time.Millisecond, 500 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond, 20 * time.Millisecond} {
		sent := base.Add(time.Duration(i) * time.Second)
		m.RecordPingSent()
		m.RecordPong(sent, sent.Add(rtt))
	}

	snap := m.Snapshot()
	assert.InDelta(t, 20.0, snap.LatencyMs, 0.01)
	assert.Equal(t, models.QualityExcellent, snap.Quality)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		latency time.Duration
		jitter  time.Duration
		want    models.ConnectionQuality
	}{
		{"excellent", 40 * time.Millisecond, 5 * time.Millisecond, models.QualityExcellent},
		{"good latency bumps excellent", 60 * time.Millisecond, 5 * time.Millisecond, models.QualityGood},
		{"good jitter bumps excellent", 40 * time.Millisecond, 15 * time.Millisecond, models.QualityGood},
		{"fair", 200 * time.Millisecond, 30 * time.Millisecond, models.QualityFair},
		{"poor latency", 400 * time.Millisecond, 5 * time.Millisecond, models.QualityPoor},
		{"poor jitter", 40 * time.Millisecond, 80 * time.Millisecond, models.QualityPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.latency, tt.jitter))
		})
	}
}

func TestPacketLoss(t *testing.T) {
	m := NewMonitor(10)

	m.RecordPingSent()
	m.RecordPingSent() // previous ping still unanswered
	m.RecordPingSent()

	snap := m.Snapshot()
	assert.Equal(t, 2, snap.PacketsLost)
}

func TestStale(t *testing.T) {
	m := NewMonitor(10)
	start := time.Now()
	m.RecordPong(start, start)

	assert.False(t, m.Stale(start.Add(30*time.Second), 90*time.Second))
	assert.True(t, m.Stale(start.Add(91*time.Second), 90*time.Second))
}

func TestReconnectCount(t *testing.T) {
	m := NewMonitor(10)
	m.RecordReconnect()
	m.RecordReconnect()
	assert.Equal(t, 2, m.Snapshot().Reconnections)
}
