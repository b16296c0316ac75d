package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingTimer) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 4*time.Second, p.Backoff(2, p.BaseDelay))
}

func TestDo_ExhaustionSchedule(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		wantDelays  []time.Duration
	}{
		{name: "single attempt never waits", maxAttempts: 1, wantDelays: nil},
		{name: "default three attempts", maxAttempts: 3, wantDelays: []time.Duration{time.Second, 2 * time.Second}},
		{name: "four attempts", maxAttempts: 4, wantDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{name: "zero clamps to one", maxAttempts: 0, wantDelays: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer := &recordingTimer{}
			p := Default()
			p.MaxAttempts = tt.maxAttempts
			p.Timer = timer

			calls := 0
			var lastErr error
			err := Do(context.Background(), p, func(ctx context.Context) error {
				calls++
				lastErr = errors.New("boom")
				return lastErr
			})

			wantCalls := tt.maxAttempts
			if wantCalls < 1 {
				wantCalls = 1
			}
			assert.Equal(t, wantCalls, calls)
			assert.Same(t, lastErr, err, "last error propagates unchanged")
			assert.Equal(t, tt.wantDelays, timer.Delays())
		})
	}
}

func TestDo_SucceedsAfterTransientFailure(t *testing.T) {
	timer := &recordingTimer{}
	p := Default()
	p.Timer = timer

	var retried []uint
	p.OnRetry = func(n uint, err error) { retried = append(retried, n) }

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, timer.Delays())
	assert.Equal(t, []uint{0}, retried)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("unsupported")
	timer := &recordingTimer{}
	p := Default()
	p.Timer = timer

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, IsPermanent(err), "marker is stripped before returning")
	assert.Empty(t, timer.Delays())
}

func TestDo_RetryablePredicate(t *testing.T) {
	fatal := errors.New("fatal")
	p := Default()
	p.Timer = &recordingTimer{}
	p.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return fatal
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.BaseDelay = time.Hour

	calls := 0
	err := Do(ctx, p, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	assert.Equal(t, 1, calls)
	assert.Error(t, err)
}

func TestValue(t *testing.T) {
	p := Default()
	p.Timer = &recordingTimer{}

	calls := 0
	v, err := Value(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "partial", errors.New("first try fails")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	v, err = Value(context.Background(), p, func(ctx context.Context) (string, error) {
		return "ignored", errors.New("always")
	})
	assert.Error(t, err)
	assert.Empty(t, v)
}

func TestPermanent_Nil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
