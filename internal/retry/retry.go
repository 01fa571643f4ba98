// Package retry runs fallible upstream calls with linear backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Policy bounds how often and how patiently an operation is retried.
// The delay before attempt n+1 is n*BaseDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Clock drives backoff sleeps. Nil uses real time.
	Clock clockwork.Clock
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// ExhaustedError is returned when no attempt succeeded. Err is the cause of
// the last attempt; Interrupted is set when the context ended the loop early.
type ExhaustedError struct {
	Attempts    int
	Err         error
	Interrupted error
}

func (e *ExhaustedError) Error() string {
	if e.Interrupted != nil {
		return fmt.Sprintf("gave up after %d attempt(s) (%v): %v", e.Attempts, e.Interrupted, e.Err)
	}
	return fmt.Sprintf("gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Interrupted != nil {
		return []error{e.Err, e.Interrupted}
	}
	return []error{e.Err}
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// attempt budget is spent, or ctx ends. It returns the number of attempts
// made. Retryability is decided by domain.IsRetryable.
func (p Policy) Do(ctx context.Context, op Operation, notify Notify) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, &ExhaustedError{Err: err, Interrupted: err}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var b backoff.BackOff = &linearBackOff{base: p.BaseDelay}
	b = backoff.WithMaxRetries(b, uint64(maxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	var last error
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		last = err
		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) { notify(attempt, err, wait) }
	}

	err := backoff.RetryNotifyWithTimer(operation, b, onRetry, newTimer(p.Clock))
	if err == nil {
		return attempt, nil
	}

	exhausted := &ExhaustedError{Attempts: attempt, Err: last}
	if last == nil {
		exhausted.Err = err
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
		exhausted.Interrupted = cerr
	}
	return attempt, exhausted
}

// linearBackOff waits n*base before the (n+1)th attempt.
type linearBackOff struct {
	base time.Duration
	n    int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	return time.Duration(l.n) * l.base
}

func (l *linearBackOff) Reset() { l.n = 0 }

// clockTimer adapts a clockwork.Clock to backoff.Timer.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func newTimer(clock clockwork.Clock) backoff.Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &clockTimer{clock: clock}
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.Chan()
}
