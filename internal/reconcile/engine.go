// Package reconcile is the client-side engine that turns authoritative sync
// state into local player actions. It runs on the client's single message
// loop; the mutex only guards the deferred conflict application timer.
package reconcile

import (
	"math"
	"sync"
	"time"

	"github.com/dukepan/watch-party-sync-back/internal/models"
	"github.com/dukepan/watch-party-sync-back/internal/protocol"
)

const (
	// DefaultSyncTolerance is the position drift, in seconds, above which the
	// engine seeks. Below it, playback is left running to avoid visible jitter.
	DefaultSyncTolerance = 2.0
	// DefaultAckTimeout bounds the echo-suppression window after a locally
	// initiated command.
	DefaultAckTimeout = 500 * time.Millisecond
	// DefaultConflictJitter is the small delay before applying a conflict's
	// correct state, so that losing clients do not storm the player in lockstep.
	DefaultConflictJitter = 200 * time.Millisecond
)

// Player is the local media element the engine drives. Calls are asynchronous
// from the player's point of view and are not awaited.
type Player interface {
	Position() float64
	IsPlaying() bool
	PlaybackRate() float64
	Seek(position float64)
	Play()
	Pause()
	SetPlaybackRate(rate float64)
}

// ackState is the explicit suppression state machine: Idle -> AwaitingAck on a
// locally initiated command, back to Idle on ack, conflict or timeout.
type ackState int

const (
	ackIdle ackState = iota
	ackAwaiting
)

// Config tunes an Engine. Zero values fall back to the defaults above.
type Config struct {
	SyncTolerance  float64
	AckTimeout     time.Duration
	ConflictJitter time.Duration
	Now            func() time.Time
}

// Engine reconciles the local player against authoritative state updates.
type Engine struct {
	player         Player
	tolerance      float64
	ackTimeout     time.Duration
	conflictJitter time.Duration
	now            func() time.Time

	mu          sync.Mutex
	lastVersion uint64
	hasVersion  bool
	ack         ackState
	ackDeadline time.Time
}

// NewEngine creates an engine driving the given player.
func NewEngine(player Player, cfg Config) *Engine {
	if cfg.SyncTolerance <= 0 {
		cfg.SyncTolerance = DefaultSyncTolerance
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ConflictJitter < 0 {
		cfg.ConflictJitter = DefaultConflictJitter
	}
	return &Engine{
		player:         player,
		tolerance:      cfg.SyncTolerance,
		ackTimeout:     cfg.AckTimeout,
		conflictJitter: cfg.ConflictJitter,
		now:            cfg.Now,
	}
}

// ExpectedPosition extrapolates where playback should be at now, given when
// the state became authoritative.
func ExpectedPosition(state models.SyncState, now time.Time) float64 {
	if !state.IsPlaying {
		return state.Position
	}
	elapsed := now.Sub(state.Timestamp).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return state.Position + elapsed*state.PlaybackRate
}

// NoteLocalCommand enters the suppression window: the engine just emitted a
// command and must not react to its own echo.
func (e *Engine) NoteLocalCommand() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ack = ackAwaiting
	e.ackDeadline = e.now().Add(e.ackTimeout)
}

// AckLocalCommand leaves the suppression window early, on an explicit ack.
func (e *Engine) AckLocalCommand() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ack = ackIdle
}

// Suppressed reports whether reconciling updates are currently being ignored.
// The window expires on its own after the ack timeout.
func (e *Engine) Suppressed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressedLocked()
}

func (e *Engine) suppressedLocked() bool {
	if e.ack != ackAwaiting {
		return false
	}
	if e.now().After(e.ackDeadline) {
		e.ack = ackIdle
		return false
	}
	return true
}

// HandleAuthoritative applies an authoritative state update (room-state,
// sync-response or a broadcast command). Stale versions and updates inside the
// suppression window are ignored.
func (e *Engine) HandleAuthoritative(state models.SyncState) {
	e.mu.Lock()
	if e.hasVersion && state.SyncVersion <= e.lastVersion {
		e.mu.Unlock()
		return
	}
	if e.suppressedLocked() {
		e.mu.Unlock()
		return
	}
	e.lastVersion = state.SyncVersion
	e.hasVersion = true
	e.mu.Unlock()

	e.reconcile(state)
}

// HandleConflict applies a rejection: the local command lost, so suppression
// is cleared and the winning state is applied after a short jitter delay. If a
// newer authoritative state arrives before the delay fires, the conflict state
// is already obsolete and the deferred apply is skipped.
func (e *Engine) HandleConflict(conflict protocol.SyncConflict) {
	version := conflict.CorrectState.SyncVersion

	e.mu.Lock()
	e.ack = ackIdle
	e.lastVersion = version
	e.hasVersion = true
	e.mu.Unlock()

	if e.conflictJitter == 0 {
		e.reconcile(conflict.CorrectState)
		return
	}
	time.AfterFunc(e.conflictJitter, func() {
		e.mu.Lock()
		superseded := e.lastVersion != version
		e.mu.Unlock()
		if superseded {
			return
		}
		e.reconcile(conflict.CorrectState)
	})
}

// reconcile drives the player toward the given state: seek only when drift
// exceeds the tolerance, then align play/pause and rate separately.
func (e *Engine) reconcile(state models.SyncState) {
	expected := ExpectedPosition(state, e.now())
	if math.Abs(e.player.Position()-expected) > e.tolerance {
		e.player.Seek(expected)
	}

	if state.IsPlaying != e.player.IsPlaying() {
		if state.IsPlaying {
			e.player.Play()
		} else {
			e.player.Pause()
		}
	}

	if state.PlaybackRate > 0 && state.PlaybackRate != e.player.PlaybackRate() {
		e.player.SetPlaybackRate(state.PlaybackRate)
	}
}
