package reconcile

import (
	"errors"
	"time"
)

// ErrAckTimeout is returned when a reliable emit is not acknowledged in time.
// The caller may retry with backoff.
var ErrAckTimeout = errors.New("emit not acknowledged before timeout")

// DefaultEmitTimeout bounds how long a reliable emit waits for its ack.
const DefaultEmitTimeout = 5 * time.Second

// ReliableEmitter sends a message and waits for an acknowledgment.
type ReliableEmitter struct {
	timeout time.Duration
}

// NewReliableEmitter creates an emitter with the given ack timeout.
func NewReliableEmitter(timeout time.Duration) *ReliableEmitter {
	if timeout <= 0 {
		timeout = DefaultEmitTimeout
	}
	return &ReliableEmitter{timeout: timeout}
}

// Emit runs send, then waits for a value on ack. A nil ack value means
// success; a timeout reports ErrAckTimeout.
func (r *ReliableEmitter) Emit(send func() error, ack <-chan error) error {
	if err := send(); err != nil {
		return err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-ack:
		return err
	case <-timer.C:
		return ErrAckTimeout
	}
}
