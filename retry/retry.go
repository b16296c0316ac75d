package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
)

// BackoffFunc returns the wait before retry number n (0-based).
type BackoffFunc func(n uint, base time.Duration) time.Duration

// Timer abstracts waiting between attempts. Tests swap in a recording timer.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

// Policy describes how a transient failure is retried.
type Policy struct {
	// MaxAttempts is the total number of invocations, the first one included.
	MaxAttempts int
	BaseDelay   time.Duration
	Backoff     BackoffFunc
	// Retryable decides whether an error is worth another attempt.
	// Errors marked Permanent are never retried regardless of this predicate.
	Retryable func(error) bool
	// Name labels log lines and metrics.
	Name  string
	Timer Timer
	// OnRetry is invoked after each failed attempt that will be retried.
	OnRetry func(attempt uint, err error)
}

// Exponential waits base * 2^n: 1s, 2s, 4s... for a one second base.
func Exponential(n uint, base time.Duration) time.Duration {
	return base << n
}

// Default is three attempts with exponential backoff from one second and no jitter.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Backoff:     Exponential,
	}
}

// WithName returns a copy of p labeled name.
func (p Policy) WithName(name string) Policy {
	p.Name = name
	return p
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do invokes op until it succeeds, the policy gives up or ctx is done.
// On exhaustion the last error is returned unchanged. A Permanent marker is
// stripped before returning so callers see the original error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential
	}

	opts := []retrygo.Option{
		retrygo.Attempts(uint(attempts)),
		retrygo.Context(ctx),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(func(n uint, _ error, _ *retrygo.Config) time.Duration {
			return backoff(n, base)
		}),
		retrygo.RetryIf(func(err error) bool {
			if IsPermanent(err) {
				return false
			}
			if p.Retryable != nil {
				return p.Retryable(err)
			}
			return true
		}),
		retrygo.OnRetry(func(n uint, err error) {
			if int(n)+1 >= attempts || IsPermanent(err) {
				return
			}
			logger.Warnf("retry: op=%s attempt=%d/%d err=%v next_in=%s", p.Name, n+1, attempts, err, backoff(n, base))
			if p.OnRetry != nil {
				p.OnRetry(n, err)
			}
		}),
	}
	if p.Timer != nil {
		opts = append(opts, retrygo.WithTimer(p.Timer))
	}

	var last error
	err := retrygo.Do(func() error {
		last = op(ctx)
		return last
	}, opts...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); last == nil || (ctxErr != nil && errors.Is(err, ctxErr)) {
		return err
	}
	var perm *permanentError
	if errors.As(last, &perm) {
		return perm.err
	}
	return last
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
