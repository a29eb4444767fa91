// Package health tracks per-connection heartbeat metrics. Each Monitor is
// owned exclusively by its connection's handler and never shared, so the
// internal mutex only guards against the handler's own ping ticker.
package health

import (
	"math"
	"sync"
	"time"

	"github.com/dukepan/watch-party-sync-back/internal/models"
)

const (
	// DefaultWindow is the number of round-trip samples kept for jitter.
	DefaultWindow = 10
	// DefaultInterval is how often a ping probe is sent.
	DefaultInterval = 5 * time.Second
	// DefaultTimeout is how long a connection may go without a pong before it
	// is declared stale and force-disconnected.
	DefaultTimeout = 90 * time.Second
)

// Monitor accumulates latency samples for one live connection.
type Monitor struct {
	mu          sync.Mutex
	window      int
	samples     []time.Duration
	lastPongAt  time.Time
	outstanding int
	packetsLost int
	reconnects  int
}

// NewMonitor creates a monitor with the given sliding-window size.
func NewMonitor(window int) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{window: window, lastPongAt: time.Now()}
}

// RecordPingSent notes an outgoing probe. A probe sent while the previous one
// is still unanswered counts the older one as lost.
func (m *Monitor) RecordPingSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding > 0 {
		m.packetsLost++
	}
	m.outstanding++
}

// RecordPong ingests a pong answering a ping that was sent at sentAt.
func (m *Monitor) RecordPong(sentAt, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outstanding > 0 {
		m.outstanding--
	}
	m.lastPongAt = now

	rtt := now.Sub(sentAt)
	if rtt < 0 {
		rtt = 0
	}
	m.samples = append(m.samples, rtt)
	if len(m.samples) > m.window {
		m.samples = m.samples[len(m.samples)-m.window:]
	}
}

// RecordReconnect notes that the peer re-established its connection.
func (m *Monitor) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

// Stale reports whether no pong has arrived within timeout.
func (m *Monitor) Stale(now time.Time, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return now.Sub(m.lastPongAt) > timeout
}

// Snapshot returns the current health metrics.
func (m *Monitor) Snapshot() models.ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := m.meanLocked()
	jitter := m.stddevLocked(latency)
	return models.ConnectionHealth{
		LatencyMs:     float64(latency) / float64(time.Millisecond),
		JitterMs:      float64(jitter) / float64(time.Millisecond),
		Quality:       Classify(latency, jitter),
		PacketsLost:   m.packetsLost,
		Reconnections: m.reconnects,
	}
}

func (m *Monitor) meanLocked() time.Duration {
	if len(m.samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, s := range m.samples {
		total += s
	}
	return total / time.Duration(len(m.samples))
}

func (m *Monitor) stddevLocked(mean time.Duration) time.Duration {
	if len(m.samples) < 2 {
		return 0
	}
	var sum float64
	for _, s := range m.samples {
		d := float64(s - mean)
		sum += d * d
	}
	return time.Duration(math.Sqrt(sum / float64(len(m.samples))))
}

// Classify maps smoothed latency and jitter onto a quality bucket.
func Classify(latency, jitter time.Duration) models.ConnectionQuality {
	switch {
	case latency < 50*time.Millisecond && jitter < 10*time.Millisecond:
		return models.QualityExcellent
	case latency < 150*time.Millisecond && jitter < 25*time.Millisecond:
		return models.QualityGood
	case latency < 300*time.Millisecond && jitter < 50*time.Millisecond:
		return models.QualityFair
	default:
		return models.QualityPoor
	}
}
