package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/retry"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/vectorstore"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/weighting"
)

const (
	helloQuery   = "hello"
	paymentQuery = "I'm having issues with payment"
)

// recordingTimer fires immediately and remembers every requested wait.
type recordingTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *recordingTimer) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	// block waits for ctx to end before returning.
	block bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if strings.Contains(strings.ToLower(text), "shipping") {
		return []float32{0, 0, 1}, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) GetProviderType() string { return "fake" }

type fakeClassifier struct {
	mu      sync.Mutex
	calls   int
	intents map[string]schema.Intent
	err     error
}

func (f *fakeClassifier) Classify(_ context.Context, query string) (schema.Intent, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return schema.Intent{}, f.err
	}
	if it, ok := f.intents[query]; ok {
		return it, nil
	}
	return schema.Intent{HasQuestion: true, Topic: "general"}, nil
}

// fakeLLM answers by prompt kind and records every request.
type fakeLLM struct {
	mu       sync.Mutex
	requests []llm.Request
	answer   string
	greeting string
	err      error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	switch {
	case strings.Contains(req.System, "summarize a customer support conversation"):
		return "The user asked about payment before.", nil
	case f.err != nil:
		return "", f.err
	case strings.Contains(req.System, "greeted you"):
		return f.greeting, nil
	default:
		return f.answer, nil
	}
}

func (f *fakeLLM) GetProviderType() string { return "fake" }

func (f *fakeLLM) Requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.requests...)
}

type fakeEnrichment struct {
	results []any
	err     error
	calls   int
	payload map[string]any
}

func (f *fakeEnrichment) Fetch(_ context.Context, _ string, payload map[string]any) ([]any, error) {
	f.calls++
	f.payload = payload
	return f.results, f.err
}

// failingSaveBridge wraps a real bridge and rejects every Save.
type failingSaveBridge struct {
	*memory.Bridge
}

func (failingSaveBridge) Save(context.Context, *memory.Handle, memory.Turn) error {
	return errors.New("redis: connection refused")
}

type harness struct {
	orch       *Orchestrator
	embedder   *fakeEmbedder
	classifier *fakeClassifier
	llm        *fakeLLM
	enrichment *fakeEnrichment
	store      *memory.InMemoryConversationStore
	timer      *recordingTimer
	results    *cache.TTLCache[*schema.QueryResponse]
	seen       *cache.MemorySeenStore

	mu          sync.Mutex
	transitions []State
}

func (h *harness) States() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.transitions...)
}

func (h *harness) rounds(t *testing.T, userID string) int {
	t.Helper()
	rounds, err := h.store.GetLastNRounds(context.Background(), userID, 0)
	require.NoError(t, err)
	return len(rounds)
}

type harnessOption func(*Deps, *Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		embedder: &fakeEmbedder{},
		classifier: &fakeClassifier{intents: map[string]schema.Intent{
			helloQuery:   {IsGreeting: true},
			paymentQuery: {NeedsSupport: true, Topic: "payment", Language: "en"},
		}},
		llm:        &fakeLLM{answer: "Please update your card under Billing settings.", greeting: "Hi! How can I help you today?"},
		enrichment: &fakeEnrichment{results: []any{map[string]any{"orderId": "A-100", "status": "paid"}}},
		store:      memory.NewInMemoryConversationStore(20),
		timer:      &recordingTimer{},
		results:    cache.NewTTL[*schema.QueryResponse](100, time.Minute),
		seen:       cache.NewMemorySeenStore(100, time.Minute),
	}

	policy := retry.Default()
	policy.Timer = h.timer

	backend := vectorstore.NewMemoryBackend("mongodb", "faq", "billing")
	backend.Add("billing",
		vectorstore.Document{Text: "To fix payment issues, update your card in Billing settings.", Language: "en", Vector: []float32{1, 0, 0}},
		vectorstore.Document{Text: "Refunds for failed payment attempts take 5 days.", Language: "en", Vector: []float32{0.8, 0.6, 0}},
	)
	backend.Add("faq",
		vectorstore.Document{Text: "Shipping takes 3 business days.", Language: "en", Vector: []float32{0, 0, 1}},
	)
	adapter := vectorstore.NewAdapter(policy)
	adapter.Register(backend, true)

	deps := Deps{
		Embedder:   h.embedder,
		Classifier: h.classifier,
		Retriever:  adapter,
		Weigher:    weighting.New(config.WeightingConfig{RelevanceWeight: 0.35, LanguageBonus: 0.1, MaxContextTokens: 3000}, weighting.WordCounter{}),
		Memory:     memory.NewBridge(h.store, h.llm, memory.BridgeOptions{}),
		LLM:        h.llm,
		Enrichment: h.enrichment,
		Results:    h.results,
		Seen:       h.seen,
		Last:       cache.NewTTL[string](100, DefaultLastConversationTTL),
	}
	o := Options{
		PrimaryStore:  "mongodb",
		EnrichmentAPI: "orders",
		Retry:         policy,
		OnTransition: func(_ string, _, to State) {
			h.mu.Lock()
			h.transitions = append(h.transitions, to)
			h.mu.Unlock()
		},
	}
	for _, opt := range opts {
		opt(&deps, &o)
	}

	orch, err := New(deps, o)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func TestQueryGreeting(t *testing.T) {
	h := newHarness(t)

	resp, err := h.orch.Query(context.Background(), schema.Query{
		Text:    helloQuery,
		Options: schema.Options{UserID: "u1", EnableAPIQuery: true},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.Matches)
	assert.Empty(t, resp.APIResults)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"matches":[]`)
	assert.Contains(t, string(data), `"apiResults":[]`)

	assert.Zero(t, h.rounds(t, "u1"), "greeting must not write memory")
	assert.Zero(t, h.enrichment.calls)
	require.Len(t, h.llm.Requests(), 1)
	assert.Equal(t, []State{
		StateDedupCheck, StateCacheCheck, StateEmbed, StateClassifyIntent,
		StateGreeting, StateCacheStore, StateDone,
	}, h.States())
}

func TestQueryPaymentRetrieval(t *testing.T) {
	h := newHarness(t)

	resp, err := h.orch.Query(context.Background(), schema.Query{
		Text:    paymentQuery,
		Options: schema.Options{UserID: "u1"},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	require.NotEmpty(t, resp.Matches)
	assert.Contains(t, resp.Matches[0].Text, "payment")
	assert.LessOrEqual(t, len(resp.Matches), vectorstore.DefaultTopK)
	assert.Empty(t, resp.APIResults, "enrichment only runs when requested")
	assert.Equal(t, "Please update your card under Billing settings.", resp.Answer)
	assert.Equal(t, 1, h.rounds(t, "u1"))

	reqs := h.llm.Requests()
	require.Len(t, reqs, 1, "empty history needs no summary call")
	prompt := reqs[0].Messages[0].Content
	assert.Contains(t, prompt, paymentQuery)
	assert.Contains(t, prompt, `"topic":"payment"`)
	assert.Contains(t, prompt, "update your card in Billing settings")
	assert.Contains(t, reqs[0].System, "Reply in English")

	assert.Equal(t, []State{
		StateDedupCheck, StateCacheCheck, StateEmbed, StateClassifyIntent,
		StateRetrieval, StateMemoryLoad, StatePromptAssembly, StateGenerate, StatePersistMemory,
		StateCacheStore, StateDone,
	}, h.States())
}

func TestQuerySummarizesPriorTurns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Query(ctx, schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1"}})
	require.NoError(t, err)
	_, err = h.orch.Query(ctx, schema.Query{Text: "Is my refund done?", Options: schema.Options{UserID: "u1"}})
	require.NoError(t, err)

	reqs := h.llm.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].System, "summarize a customer support conversation")
	assert.Contains(t, reqs[2].Messages[0].Content, "The user asked about payment before.")
	assert.Equal(t, 2, h.rounds(t, "u1"))
}

func TestQueryIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1", TopK: 2}}

	first, err := h.orch.Query(ctx, q)
	require.NoError(t, err)
	calls := len(h.llm.Requests())

	second, err := h.orch.Query(ctx, q)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Len(t, h.llm.Requests(), calls, "cache hit must not call the model")
	assert.Equal(t, 1, h.rounds(t, "u1"), "cache hit must not touch memory")

	// callers cannot corrupt the cached value
	second.Matches[0].Text = "mutated"
	third, err := h.orch.Query(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, first.Matches[0].Text, third.Matches[0].Text)
}

func TestQueryDeduplicatesMessageID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1", MessageID: "m-1"}}

	resp, err := h.orch.Query(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, resp)
	calls := len(h.llm.Requests())

	resp, err = h.orch.Query(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Len(t, h.llm.Requests(), calls)
	assert.Equal(t, 1, h.rounds(t, "u1"))
	assert.Equal(t, 1, h.embedder.calls)

	// a different text under the same message id is still a duplicate
	resp, err = h.orch.Query(ctx, schema.Query{Text: "other", Options: q.Options})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestQueryEnrichment(t *testing.T) {
	t.Run("results are attached", func(t *testing.T) {
		h := newHarness(t)
		resp, err := h.orch.Query(context.Background(), schema.Query{
			Text:    paymentQuery,
			Options: schema.Options{UserID: "u1", EnableAPIQuery: true},
		})
		require.NoError(t, err)
		require.Len(t, resp.APIResults, 1)
		assert.Contains(t, h.llm.Requests()[0].Messages[0].Content, "A-100")
	})

	t.Run("failure is isolated", func(t *testing.T) {
		h := newHarness(t)
		h.enrichment.err = schema.ErrEnrichment
		q := schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1", EnableAPIQuery: true}}

		resp, err := h.orch.Query(context.Background(), q)
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Answer)
		assert.NotNil(t, resp.APIResults)
		assert.Empty(t, resp.APIResults)

		_, cached := h.results.Get(CacheKey(q))
		assert.True(t, cached, "answer must be cached despite the enrichment failure")
	})

	t.Run("payload carries the reply language", func(t *testing.T) {
		h := newHarness(t)
		h.classifier.intents["Meu pagamento falhou"] = schema.Intent{NeedsSupport: true, Topic: "payment", Language: "pt"}
		_, err := h.orch.Query(context.Background(), schema.Query{
			Text:    "Meu pagamento falhou",
			Options: schema.Options{UserID: "u1", EnableAPIQuery: true},
		})
		require.NoError(t, err)
		require.NotNil(t, h.enrichment.payload)
		assert.Equal(t, "pt", h.enrichment.payload["language"])
		assert.Equal(t, "payment", h.enrichment.payload["topic"])
	})

	t.Run("not configured", func(t *testing.T) {
		h := newHarness(t, func(d *Deps, _ *Options) { d.Enrichment = nil })
		resp, err := h.orch.Query(context.Background(), schema.Query{
			Text:    paymentQuery,
			Options: schema.Options{EnableAPIQuery: true},
		})
		require.NoError(t, err)
		assert.Empty(t, resp.APIResults)
	})
}

func TestQueryFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		opts     []harnessOption
		text     string
		want     error
		attempts int
	}{
		{
			name:     "embedding exhausted",
			setup:    func(h *harness) { h.embedder.err = errors.New("embedding endpoint 503") },
			want:     schema.ErrEmbedding,
			attempts: 3,
		},
		{
			name:  "classifier output malformed",
			setup: func(h *harness) { h.classifier.err = schema.ErrClassification },
			want:  schema.ErrClassification,
		},
		{
			name:  "classifier transport failure",
			setup: func(h *harness) { h.classifier.err = errors.New("connection reset") },
			want:  schema.ErrClassification,
		},
		{
			name: "unsupported primary store",
			opts: []harnessOption{func(_ *Deps, o *Options) { o.PrimaryStore = "pinecone" }},
			want: schema.ErrUnsupportedBackend,
		},
		{
			name:  "generation exhausted",
			setup: func(h *harness) { h.llm.err = errors.New("completion endpoint 500") },
			want:  schema.ErrGeneration,
		},
		{
			name:  "empty answer",
			setup: func(h *harness) { h.llm.answer = "   " },
			want:  schema.ErrGeneration,
		},
		{
			name:  "greeting generation exhausted",
			setup: func(h *harness) { h.llm.err = errors.New("completion endpoint 500") },
			text:  helloQuery,
			want:  schema.ErrGeneration,
		},
		{
			name: "empty query",
			text: " ",
			want: schema.ErrEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.opts...)
			if tt.setup != nil {
				tt.setup(h)
			}
			text := tt.text
			if text == "" {
				text = paymentQuery
			}
			q := schema.Query{Text: text, Options: schema.Options{UserID: "u1", MessageID: "m-1"}}

			resp, err := h.orch.Query(context.Background(), q)
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.want)

			states := h.States()
			assert.Equal(t, StateFailed, states[len(states)-1])
			assert.Zero(t, h.results.Len(), "failed turns are never cached")
			seen, serr := h.seen.Seen(context.Background(), "m-1")
			require.NoError(t, serr)
			assert.False(t, seen, "failed turns are never marked seen")
			assert.Zero(t, h.rounds(t, "u1"), "failed turns never write memory")
			if tt.attempts > 0 {
				assert.Equal(t, tt.attempts, h.embedder.calls)
			}
		})
	}
}

func TestQueryGenerationRetrySchedule(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.Retry.MaxAttempts = 4 })
	h.llm.err = errors.New("completion endpoint 500")

	_, err := h.orch.Query(context.Background(), schema.Query{Text: helloQuery})
	require.ErrorIs(t, err, schema.ErrGeneration)

	assert.Len(t, h.llm.Requests(), 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.timer.Waits())
}

func TestQueryFailedTurnCanBeRetried(t *testing.T) {
	h := newHarness(t)
	q := schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1", MessageID: "m-1"}}

	h.llm.err = errors.New("completion endpoint 500")
	_, err := h.orch.Query(context.Background(), q)
	require.Error(t, err)

	h.llm.err = nil
	resp, err := h.orch.Query(context.Background(), q)
	require.NoError(t, err)
	require.NotNil(t, resp, "a failed message id is not suppressed")
}

func TestQueryMemorySaveFailureStillAnswers(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Memory = failingSaveBridge{Bridge: d.Memory.(*memory.Bridge)}
	})
	q := schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1"}}

	resp, err := h.orch.Query(context.Background(), q)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	_, cached := h.results.Get(CacheKey(q))
	assert.True(t, cached)
}

func TestQueryStageTimeout(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) {
		o.StageTimeout = 20 * time.Millisecond
		o.Retry.MaxAttempts = 1
	})
	h.embedder.block = true

	_, err := h.orch.Query(context.Background(), schema.Query{Text: paymentQuery})
	require.ErrorIs(t, err, schema.ErrEmbedding)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// stalledBackend blocks every search until its context ends.
type stalledBackend struct{}

func (stalledBackend) Name() string { return "mongodb" }

func (stalledBackend) Search(ctx context.Context, _ []float32, _ int) ([]schema.VectorMatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledBackend) Close(context.Context) error { return nil }

func TestQueryRetrievalTimeout(t *testing.T) {
	h := newHarness(t, func(d *Deps, o *Options) {
		o.StageTimeout = 20 * time.Millisecond
		adapter := vectorstore.NewAdapter(o.Retry)
		adapter.Register(stalledBackend{}, true)
		d.Retriever = adapter
	})

	_, err := h.orch.Query(context.Background(), schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1"}})
	require.ErrorIs(t, err, schema.ErrTransientBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, h.States()[len(h.States())-1])
	assert.Empty(t, h.llm.Requests())
	assert.Zero(t, h.rounds(t, "u1"))
}

func TestQueryReplyLanguage(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		detected  string
		want      string
	}{
		{name: "requested wins", requested: "es", detected: "pt", want: "Spanish"},
		{name: "detected", detected: "pt", want: "Portuguese"},
		{name: "default", want: "English"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.classifier.intents["quero ajuda"] = schema.Intent{NeedsSupport: true, Language: tt.detected}

			_, err := h.orch.Query(context.Background(), schema.Query{
				Text:    "quero ajuda",
				Options: schema.Options{Language: tt.requested},
			})
			require.NoError(t, err)
			reqs := h.llm.Requests()
			assert.Contains(t, reqs[len(reqs)-1].System, "Reply in "+tt.want)
		})
	}
}

func TestLastConversation(t *testing.T) {
	h := newHarness(t)

	_, ok := h.orch.LastConversation("u1")
	assert.False(t, ok)

	h.orch.SetLastConversation("u1", "conv-42", 0)
	v, ok := h.orch.LastConversation("u1")
	require.True(t, ok)
	assert.Equal(t, "conv-42", v)

	_, ok = h.orch.LastConversation("u2")
	assert.False(t, ok)
}

func TestResetConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Query(ctx, schema.Query{Text: paymentQuery, Options: schema.Options{UserID: "u1"}})
	require.NoError(t, err)
	h.orch.SetLastConversation("u1", "conv-1", time.Hour)
	require.Equal(t, 1, h.rounds(t, "u1"))

	require.NoError(t, h.orch.ResetConversation(ctx, "u1"))
	assert.Zero(t, h.rounds(t, "u1"))
	_, ok := h.orch.LastConversation("u1")
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	base := schema.Query{Text: "hi", Options: schema.Options{UserID: "u1", TopK: 3}}

	assert.Equal(t, CacheKey(base), CacheKey(base))

	variants := []schema.Query{
		{Text: "Hi", Options: base.Options},
		{Text: "hi", Options: schema.Options{UserID: "u2", TopK: 3}},
		{Text: "hi", Options: schema.Options{UserID: "u1", TopK: 4}},
		{Text: "hi", Options: schema.Options{UserID: "u1", TopK: 3, MessageID: "m"}},
		{Text: "hi", Options: schema.Options{UserID: "u1", TopK: 3, EnableAPIQuery: true}},
	}
	for _, v := range variants {
		assert.NotEqual(t, CacheKey(base), CacheKey(v), "%+v", v)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "cache_store", StateCacheStore.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateSuppressed.Terminal())
	assert.False(t, StateGenerate.Terminal())
}
