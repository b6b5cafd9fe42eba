package models

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff implements backoff.BackOff with the policy the
// specification requires: retry up to max times, waiting
// backoffMs * attempt between each. cenkalti/backoff's default policies
// are all exponential or constant; this one is small enough to implement
// directly against its BackOff interface rather than shop for a second
// retry library.
type linearBackOff struct {
	backoffMs int
	attempt   int
	max       int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++
	if l.attempt > l.max {
		return backoff.Stop
	}
	return time.Duration(l.backoffMs*l.attempt) * time.Millisecond
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}

// retryLinear runs op, retrying up to maxRetries times with the
// linearBackOff policy above, and returns the last error if every attempt
// failed.
func retryLinear(maxRetries, backoffMs int, op func() error) error {
	return backoff.Retry(op, &linearBackOff{backoffMs: backoffMs, max: maxRetries})
}
