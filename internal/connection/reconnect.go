package connection

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the delay policy for one reconnection episode.
//
//	exponential: min(base * 2^(attempt-1), max)
//	linear:      base * attempt, capped at max when max > 0
func newBackOff(policy BackoffPolicy, base, max time.Duration) backoff.BackOff {
	if policy == BackoffLinear {
		return &linearBackOff{base: base, max: max}
	}

	if max <= 0 {
		max = time.Duration(math.MaxInt64)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // Attempt budget is enforced by the scheduler
	b.Reset()
	return b
}

// linearBackOff grows the delay by base on every attempt.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	d := l.base * time.Duration(l.attempt)
	if l.max > 0 && d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}

// reconnectScheduler tracks the attempt budget of the current disconnection episode.
type reconnectScheduler struct {
	policy      backoff.BackOff
	maxAttempts int // <= 0 = unlimited
	attempts    int
	nextDelay   time.Duration
}

func newReconnectScheduler(cfg ManagerConfig) *reconnectScheduler {
	return &reconnectScheduler{
		policy:      newBackOff(cfg.ReconnectBackoff, cfg.ReconnectInterval, cfg.MaxReconnectInterval),
		maxAttempts: cfg.ReconnectAttempts,
	}
}

// next counts one more attempt and returns its delay. ok is false once the
// budget is spent; the attempt count is left at the cap.
func (s *reconnectScheduler) next() (delay time.Duration, ok bool) {
	if s.maxAttempts > 0 && s.attempts >= s.maxAttempts {
		return 0, false
	}
	s.attempts++
	delay = s.policy.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}
	s.nextDelay = delay
	return delay, true
}

// reset starts a fresh episode.
func (s *reconnectScheduler) reset() {
	s.attempts = 0
	s.nextDelay = 0
	s.policy.Reset()
}
