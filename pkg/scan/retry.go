package scan

import (
	"context"
	"time"

	"github.com/memscan/memscan/pkg/target"
)

// retryPolicy bounds the attempts made for a single access to the target.
type retryPolicy struct {
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	timeout    time.Duration
}

// do calls fn until it succeeds, fails with an error that is not
// transient or has been retried p.retries times. Every attempt gets its
// own timeout. The number of retries made is returned along with the
// error of the last attempt.
func (p retryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	backoff := p.backoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.timeout)
		}
		err := fn(actx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if !target.IsTransient(err) || attempt >= p.retries {
			return attempt, err
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			if p.maxBackoff > 0 && backoff > p.maxBackoff {
				backoff = p.maxBackoff
			}
		}
	}
}
