// Package retry runs bounded retries with exponential backoff for calls to
// external HTTP APIs. An operation can stop retrying with Permanent or ask
// for a specific pause with After (e.g. a 429 retry_after hint).
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	// Attempts is the total number of calls, the first included.
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Permanent stops the retry loop and returns err as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return backoff.Permanent(err)
}

type afterError struct {
	delay time.Duration
	err   error
}

func (e *afterError) Error() string { return e.err.Error() }

func (e *afterError) Unwrap() error { return e.err }

// After retries err no sooner than d.
func After(d time.Duration, err error) error {
	if err == nil {
		return nil
	}

	return &afterError{delay: d, err: err}
}

// hinted lets the last error override the next computed delay.
type hinted struct {
	backoff.BackOff
	next time.Duration
}

func (h *hinted) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop || h.next <= 0 {
		return d
	}

	d, h.next = h.next, 0

	return d
}

// Do calls op until it succeeds, returns a Permanent error, the attempts
// are used up or ctx is done. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	exp := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		exp.InitialInterval = p.BaseDelay
	}
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.MaxElapsedTime = 0

	b := &hinted{BackOff: backoff.WithMaxRetries(exp, uint64(attempts-1))}

	var last error

	err := backoff.Retry(func() error {
		err := op(ctx)
		last = err

		var ae *afterError
		if errors.As(err, &ae) {
			b.next = ae.delay
			return ae.err
		}

		return err
	}, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && last != nil && !errors.Is(last, ctx.Err()) {
		return errors.Join(last, ctx.Err())
	}

	return err
}
