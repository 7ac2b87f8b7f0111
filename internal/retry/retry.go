// Package retry provides a bounded retry policy with linear backoff.
//
// The policy is expressed as a backoff.BackOff so it composes with the rest of
// the cenkalti/backoff toolkit; Policy.Do is the convenience entry point used by
// the metadata poller.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Linear yields Step, 2*Step, 3*Step, ... capped at Max when Max > 0.
type Linear struct {
	Step time.Duration
	Max  time.Duration

	n int64
}

func NewLinear(step time.Duration) *Linear {
	return &Linear{Step: step}
}

func (l *Linear) NextBackOff() time.Duration {
	l.n++
	d := time.Duration(l.n) * l.Step
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

func (l *Linear) Reset() { l.n = 0 }

var _ backoff.BackOff = (*Linear)(nil)

// Policy bounds an operation to MaxAttempts tries with linear waits between them.
// The wait after the k-th failed attempt (1-based) is k*Step.
type Policy struct {
	MaxAttempts int
	Step        time.Duration

	// Timer overrides the wall-clock timer; tests use it to skip real sleeps.
	Timer backoff.Timer
}

// Notify is called after a failed attempt, before waiting.
type Notify func(attempt int, err error, wait time.Duration)

// Permanent marks err as non-retryable; Do returns it unwrapped immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it returns nil, a Permanent error, the attempt budget is
// exhausted, or ctx is done. The error of the last attempt is returned on
// exhaustion.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, notify Notify) error {
	if p.MaxAttempts <= 0 || p.Step < 0 || op == nil {
		return ErrInvalidPolicy
	}

	attempt := 0
	operation := func() error {
		attempt++
		return op(attempt)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(NewLinear(p.Step), uint64(p.MaxAttempts-1)), ctx)

	var n backoff.Notify
	if notify != nil {
		n = func(err error, wait time.Duration) { notify(attempt, err, wait) }
	}
	if p.Timer != nil {
		return backoff.RetryNotifyWithTimer(operation, b, n, p.Timer)
	}
	return backoff.RetryNotify(operation, b, n)
}
