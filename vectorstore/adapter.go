package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/retry"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// DefaultTopK is used when a query does not ask for a specific count.
const DefaultTopK = 5

// Backend is one named similarity search service. Search returns at most topK
// matches sorted by descending score.
type Backend interface {
	Name() string
	Search(ctx context.Context, vector []float32, topK int) ([]schema.VectorMatch, error)
	Close(ctx context.Context) error
}

// QueryOptions tunes a single adapter query.
type QueryOptions struct {
	TopK int
	// Timeout bounds each search attempt. Zero leaves the caller's deadline alone.
	Timeout time.Duration
}

// QueryResult holds the normalized matches of one query.
type QueryResult struct {
	Matches []schema.VectorMatch `json:"matches"`
}

type registration struct {
	backend Backend
	retry   bool
}

// Adapter routes queries to registered backends by name.
type Adapter struct {
	mu       sync.RWMutex
	backends map[string]registration
	policy   retry.Policy
}

// NewAdapter creates an adapter whose retry-eligible backends use policy.
func NewAdapter(policy retry.Policy) *Adapter {
	return &Adapter{
		backends: make(map[string]registration),
		policy:   policy,
	}
}

// Register adds a backend under its name, replacing any previous one.
// retryEligible decides whether failed searches go through the retry policy.
func (a *Adapter) Register(b Backend, retryEligible bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backends[strings.ToLower(b.Name())] = registration{backend: b, retry: retryEligible}
}

// Names lists registered backends in sorted order.
func (a *Adapter) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.backends))
	for n := range a.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Query searches storeName for the topK nearest matches of vector.
//
// An unknown store yields schema.ErrUnsupportedBackend, marked permanent so
// an outer retry never repeats it. Backend failures surface as
// schema.ErrTransientBackend wrapping the last cause.
func (a *Adapter) Query(ctx context.Context, storeName string, vector []float32, opts QueryOptions) (*QueryResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	a.mu.RLock()
	reg, ok := a.backends[strings.ToLower(storeName)]
	a.mu.RUnlock()
	if !ok {
		return nil, retry.Permanent(fmt.Errorf("%w: %q", schema.ErrUnsupportedBackend, storeName))
	}

	start := time.Now()
	search := func(ctx context.Context) ([]schema.VectorMatch, error) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}
		return reg.backend.Search(ctx, vector, topK)
	}
	var (
		matches []schema.VectorMatch
		err     error
	)
	if reg.retry {
		p := a.policy.WithName("search_" + reg.backend.Name())
		p.OnRetry = func(uint, error) { metrics.IncRetry(p.Name) }
		matches, err = retry.Value(ctx, p, search)
	} else {
		matches, err = search(ctx)
	}
	if err != nil {
		logger.Warnf("vectorstore: search failed, store=%s err=%v", storeName, err)
		return nil, fmt.Errorf("%w: store %s: %w", schema.ErrTransientBackend, storeName, err)
	}

	matches = MergeTopK(topK, matches)
	metrics.ObserveRetrieval(reg.backend.Name(), start, len(matches))
	logger.Debugf("vectorstore: store=%s topK=%d matches=%d", storeName, topK, len(matches))
	return &QueryResult{Matches: matches}, nil
}

// Close closes every registered backend.
func (a *Adapter) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var result *multierror.Error
	for name, reg := range a.backends {
		if err := reg.backend.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
