package vectorstore

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/retry"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func testPolicy() retry.Policy {
	p := retry.Default()
	p.Timer = instantTimer{}
	return p
}

// flakyBackend fails the first failures calls, then answers with matches.
type flakyBackend struct {
	name     string
	failures int32
	calls    int32
	matches  []schema.VectorMatch
	closeErr error
	gotTopK  int
}

func (b *flakyBackend) Name() string { return b.name }

func (b *flakyBackend) Search(_ context.Context, _ []float32, topK int) ([]schema.VectorMatch, error) {
	b.gotTopK = topK
	if atomic.AddInt32(&b.calls, 1) <= b.failures {
		return nil, errors.New("connection reset")
	}
	return b.matches, nil
}

func (b *flakyBackend) Close(context.Context) error { return b.closeErr }

func TestAdapter_UnsupportedBackend(t *testing.T) {
	a := NewAdapter(testPolicy())
	a.Register(&flakyBackend{name: "mongodb"}, true)

	_, err := a.Query(context.Background(), "pinecone", []float32{1}, QueryOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrUnsupportedBackend)
	assert.True(t, retry.IsPermanent(err))
}

func TestAdapter_RetryEligibility(t *testing.T) {
	tests := []struct {
		name      string
		retry     bool
		failures  int32
		wantErr   bool
		wantCalls int32
	}{
		{name: "retried backend recovers", retry: true, failures: 2, wantErr: false, wantCalls: 3},
		{name: "retried backend exhausts", retry: true, failures: 5, wantErr: true, wantCalls: 3},
		{name: "non retried backend fails once", retry: false, failures: 1, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &flakyBackend{name: "primary", failures: tt.failures, matches: []schema.VectorMatch{{Text: "a", Score: 0.9}}}
			a := NewAdapter(testPolicy())
			a.Register(b, tt.retry)

			res, err := a.Query(context.Background(), "PRIMARY", []float32{1}, QueryOptions{TopK: 3})
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&b.calls))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, schema.ErrTransientBackend)
				assert.Contains(t, err.Error(), "connection reset")
				return
			}
			require.NoError(t, err)
			assert.Len(t, res.Matches, 1)
		})
	}
}

func TestAdapter_DefaultTopKAndTruncation(t *testing.T) {
	var matches []schema.VectorMatch
	for i := 0; i < 8; i++ {
		matches = append(matches, schema.VectorMatch{Text: string(rune('a' + i)), Score: float64(i)})
	}
	b := &flakyBackend{name: "oversharing", matches: matches}
	a := NewAdapter(testPolicy())
	a.Register(b, false)

	res, err := a.Query(context.Background(), "oversharing", []float32{1}, QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTopK, b.gotTopK)
	require.Len(t, res.Matches, DefaultTopK)
	assert.Equal(t, 7.0, res.Matches[0].Score)
}

func TestAdapter_Close(t *testing.T) {
	a := NewAdapter(testPolicy())
	a.Register(&flakyBackend{name: "a", closeErr: errors.New("a broken")}, false)
	a.Register(&flakyBackend{name: "b"}, false)
	a.Register(&flakyBackend{name: "c", closeErr: errors.New("c broken")}, false)

	err := a.Close(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a broken")
	assert.Contains(t, err.Error(), "c broken")
	assert.Equal(t, []string{"a", "b", "c"}, a.Names())
}

// stalledBackend never answers until its context ends.
type stalledBackend struct {
	calls int32
}

func (b *stalledBackend) Name() string { return "stalled" }

func (b *stalledBackend) Search(ctx context.Context, _ []float32, _ int) ([]schema.VectorMatch, error) {
	atomic.AddInt32(&b.calls, 1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *stalledBackend) Close(context.Context) error { return nil }

func TestAdapter_AttemptTimeout(t *testing.T) {
	b := &stalledBackend{}
	a := NewAdapter(testPolicy())
	a.Register(b, true)

	_, err := a.Query(context.Background(), "stalled", []float32{1}, QueryOptions{Timeout: 20 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrTransientBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(3), atomic.LoadInt32(&b.calls), "every attempt gets its own deadline")
}
