package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/embedding"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/enrichment"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/intent"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/metrics"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/retry"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/vectorstore"
)

// DefaultLastConversationTTL applies when SetLastConversation gets a zero ttl.
const DefaultLastConversationTTL = 24 * time.Hour

// Retriever searches a named vector store.
type Retriever interface {
	Query(ctx context.Context, store string, vector []float32, opts vectorstore.QueryOptions) (*vectorstore.QueryResult, error)
}

// ContextWeigher ranks matches and renders them for the prompt.
type ContextWeigher interface {
	Weigh(query, language string, matches []schema.VectorMatch) []schema.WeightedContext
	Render(contexts []schema.WeightedContext) string
}

// MemoryBridge is the conversation memory used by a turn.
type MemoryBridge interface {
	GetMemory(userID string) *memory.Handle
	Load(ctx context.Context, h *memory.Handle) (memory.HistoryView, error)
	Save(ctx context.Context, h *memory.Handle, turn memory.Turn) error
	Summarize(ctx context.Context, history memory.HistoryView) (string, error)
	Clear(ctx context.Context, userID string) error
}

// Deps are the collaborators of an Orchestrator. Enrichment may be nil.
type Deps struct {
	Embedder   embedding.Provider
	Classifier intent.Classifier
	Retriever  Retriever
	Weigher    ContextWeigher
	Memory     MemoryBridge
	LLM        llm.Provider
	Enrichment enrichment.Client

	Results *cache.TTLCache[*schema.QueryResponse]
	Seen    cache.SeenStore
	Last    *cache.TTLCache[string]
}

// Options tune the pipeline.
type Options struct {
	PrimaryStore string
	DefaultTopK  int
	// StageTimeout bounds each collaborator call.
	StageTimeout    time.Duration
	DefaultLanguage string
	// EnrichmentAPI names the API queried when a request enables it.
	EnrichmentAPI      string
	AnswerTemperature  float64
	AnswerMaxTokens    int
	GreetingMaxTokens  int
	AssistantName      string
	SystemPromptPrefix string
	Retry              retry.Policy
	// OnTransition observes every state change of a turn.
	OnTransition func(turnID string, from, to State)
}

// OptionsFromConfig maps the service configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	oc := cfg.Orchestrator
	return Options{
		PrimaryStore:       cfg.VectorStore.Primary,
		DefaultTopK:        oc.DefaultTopK,
		StageTimeout:       oc.StageTimeout(),
		DefaultLanguage:    oc.DefaultLanguage,
		EnrichmentAPI:      cfg.Enrichment.Default,
		AnswerTemperature:  oc.AnswerTemperature,
		AnswerMaxTokens:    oc.AnswerMaxTokens,
		GreetingMaxTokens:  oc.GreetingMaxTokens,
		AssistantName:      oc.AssistantName,
		SystemPromptPrefix: oc.SystemPromptPrefix,
		Retry: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
			Backoff:     retry.Exponential,
		},
	}
}

// Orchestrator runs one support turn end to end.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New validates deps and fills option defaults.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Embedder == nil:
		return nil, errors.New("orchestrator: embedder is required")
	case deps.Classifier == nil:
		return nil, errors.New("orchestrator: classifier is required")
	case deps.Retriever == nil:
		return nil, errors.New("orchestrator: retriever is required")
	case deps.Weigher == nil:
		return nil, errors.New("orchestrator: weigher is required")
	case deps.Memory == nil:
		return nil, errors.New("orchestrator: memory bridge is required")
	case deps.LLM == nil:
		return nil, errors.New("orchestrator: llm provider is required")
	case deps.Results == nil || deps.Seen == nil || deps.Last == nil:
		return nil, errors.New("orchestrator: result, dedup and last-conversation caches are required")
	}
	if opts.PrimaryStore == "" {
		opts.PrimaryStore = "mongodb"
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = vectorstore.DefaultTopK
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.AnswerMaxTokens <= 0 {
		opts.AnswerMaxTokens = 800
	}
	if opts.GreetingMaxTokens <= 0 {
		opts.GreetingMaxTokens = 120
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "Support Assistant"
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Default()
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// turn tracks the state of one Query call.
type turn struct {
	id     string
	state  State
	log    *logger.ContextLogger
	record *metrics.TurnRecord
	hook   func(string, State, State)
}

func (t *turn) advance(to State) {
	from := t.state
	t.state = to
	t.log.Debugf("orchestrator: %s -> %s", from, to)
	if t.hook != nil {
		t.hook(t.id, from, to)
	}
}

func (t *turn) fail(err error) error {
	t.advance(StateFailed)
	t.record.Finish("failed", err)
	t.log.Errorf("orchestrator: turn failed: %v", err)
	return err
}

// Query answers q. It returns nil, nil when q carries a message ID that was
// already answered.
func (o *Orchestrator) Query(ctx context.Context, q schema.Query) (*schema.QueryResponse, error) {
	id := uuid.NewString()
	t := &turn{
		id:     id,
		state:  StateStart,
		record: metrics.NewTurnRecord(id),
		hook:   o.opts.OnTransition,
		log: logger.WithContext(map[string]interface{}{
			"turn_id": id,
			"user_id": q.Options.UserID,
		}),
	}
	t.record.UserID = q.Options.UserID
	t.record.MessageID = q.Options.MessageID

	if strings.TrimSpace(q.Text) == "" {
		return nil, t.fail(fmt.Errorf("%w: empty query", schema.ErrEmbedding))
	}

	// Dedup
	t.advance(StateDedupCheck)
	if msgID := q.Options.MessageID; msgID != "" {
		start := time.Now()
		seen, err := withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (bool, error) {
			return o.deps.Seen.Seen(ctx, msgID)
		})
		t.record.Stage("dedup", start)
		if err != nil {
			t.log.Warnf("orchestrator: dedup lookup failed, treating message %s as new: %v", msgID, err)
		} else if seen {
			t.advance(StateSuppressed)
			t.record.Finish("suppressed", nil)
			t.log.Infof("orchestrator: duplicate message suppressed: message_id=%s", msgID)
			return nil, nil
		}
	}

	// Result cache
	t.advance(StateCacheCheck)
	key := CacheKey(q)
	if cached, ok := o.deps.Results.Get(key); ok {
		metrics.ObserveCache(true)
		t.advance(StateDone)
		t.record.Finish("cached", nil)
		t.log.Infof("orchestrator: cache hit: key=%s", key)
		return cached.Clone(), nil
	}
	metrics.ObserveCache(false)

	// Embed
	t.advance(StateEmbed)
	start := time.Now()
	vector, err := retry.Value(ctx, o.policy("embed"), func(ctx context.Context) ([]float32, error) {
		return withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) ([]float32, error) {
			return o.deps.Embedder.Embed(ctx, q.Text)
		})
	})
	t.record.Stage("embed", start)
	if err != nil {
		return nil, t.fail(fmt.Errorf("%w: %w", schema.ErrEmbedding, err))
	}

	// Classify
	t.advance(StateClassifyIntent)
	start = time.Now()
	classifyPolicy := o.policy("classify")
	classifyPolicy.Retryable = func(err error) bool { return !errors.Is(err, schema.ErrClassification) }
	it, err := retry.Value(ctx, classifyPolicy, func(ctx context.Context) (schema.Intent, error) {
		return withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (schema.Intent, error) {
			return o.deps.Classifier.Classify(ctx, q.Text)
		})
	})
	t.record.Stage("classify", start)
	if err != nil {
		if !errors.Is(err, schema.ErrClassification) {
			err = fmt.Errorf("%w: %w", schema.ErrClassification, err)
		}
		return nil, t.fail(err)
	}
	t.record.Topic = it.Topic
	language := replyLanguage(q.Options.Language, it.Language, o.opts.DefaultLanguage)
	t.log.Infof("orchestrator: intent: greeting=%t question=%t support=%t topic=%q language=%s",
		it.IsGreeting, it.HasQuestion, it.NeedsSupport, it.Topic, language)

	var resp *schema.QueryResponse
	if it.IsPureGreeting() {
		resp, err = o.greet(ctx, t, language)
	} else {
		resp, err = o.answer(ctx, t, q, it, language, vector)
	}
	if err != nil {
		return nil, t.fail(err)
	}

	// Cache store
	t.advance(StateCacheStore)
	o.deps.Results.Set(key, resp.Clone(), 0)
	if msgID := q.Options.MessageID; msgID != "" {
		if _, err := withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, o.deps.Seen.MarkSeen(ctx, msgID)
		}); err != nil {
			t.log.Warnf("orchestrator: mark message %s seen failed: %v", msgID, err)
		}
	}

	t.advance(StateDone)
	t.record.MatchCount = len(resp.Matches)
	if len(resp.Matches) > 0 {
		t.record.TopScore = resp.Matches[0].Score
	}
	t.record.APIResultCount = len(resp.APIResults)
	t.record.Finish("answered", nil)
	return resp, nil
}

// greet answers a pure greeting without retrieval or memory.
func (o *Orchestrator) greet(ctx context.Context, t *turn, language string) (*schema.QueryResponse, error) {
	t.advance(StateGreeting)
	t.record.Branch = "greeting"

	start := time.Now()
	answer, err := o.generate(ctx, llm.Request{
		System:      greetingPrompt(o.opts.AssistantName, language),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "Greet the user."}},
		Temperature: o.opts.AnswerTemperature,
		MaxTokens:   o.opts.GreetingMaxTokens,
	})
	t.record.Stage("generate", start)
	if err != nil {
		return nil, err
	}
	return &schema.QueryResponse{
		Matches:    []schema.WeightedContext{},
		APIResults: []any{},
		Answer:     answer,
	}, nil
}

// answer runs retrieval, memory and generation for a real question.
func (o *Orchestrator) answer(ctx context.Context, t *turn, q schema.Query, it schema.Intent, language string, vector []float32) (*schema.QueryResponse, error) {
	t.advance(StateRetrieval)
	t.record.Branch = "retrieval"
	t.record.Store = o.opts.PrimaryStore

	topK := q.Options.TopK
	if topK <= 0 {
		topK = o.opts.DefaultTopK
	}
	start := time.Now()
	res, err := o.deps.Retriever.Query(ctx, o.opts.PrimaryStore, vector, vectorstore.QueryOptions{TopK: topK, Timeout: o.opts.StageTimeout})
	t.record.Stage("retrieval", start)
	if err != nil {
		return nil, err
	}
	weighted := o.deps.Weigher.Weigh(q.Text, language, res.Matches)
	rendered := o.deps.Weigher.Render(weighted)
	t.log.Infof("orchestrator: retrieval: store=%s top_k=%d matches=%d weighted=%d",
		o.opts.PrimaryStore, topK, len(res.Matches), len(weighted))

	apiResults := o.enrich(ctx, t, q, it, language)

	t.advance(StateMemoryLoad)
	start = time.Now()
	handle := o.deps.Memory.GetMemory(q.Options.UserID)
	history, err := withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (memory.HistoryView, error) {
		return o.deps.Memory.Load(ctx, handle)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrTransientBackend, err)
	}
	summary, err := retry.Value(ctx, o.policy("summarize"), func(ctx context.Context) (string, error) {
		return withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (string, error) {
			return o.deps.Memory.Summarize(ctx, history)
		})
	})
	t.record.Stage("memory", start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", schema.ErrGeneration, err)
	}

	t.advance(StatePromptAssembly)
	prompt := compositePrompt(promptInput{
		Query:      q.Text,
		Intent:     it,
		Summary:    summary,
		Contexts:   rendered,
		APIResults: apiResults,
	})

	t.advance(StateGenerate)
	start = time.Now()
	answer, err := o.generate(ctx, llm.Request{
		System:      answerSystemPrompt(o.opts.SystemPromptPrefix, o.opts.AssistantName, language),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: o.opts.AnswerTemperature,
		MaxTokens:   o.opts.AnswerMaxTokens,
	})
	t.record.Stage("generate", start)
	if err != nil {
		return nil, err
	}

	t.advance(StatePersistMemory)
	if _, err := withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.deps.Memory.Save(ctx, handle, memory.Turn{Input: q.Text, Output: answer})
	}); err != nil {
		t.log.Warnf("orchestrator: persist memory failed: %v", err)
	}

	return &schema.QueryResponse{
		Matches:    weighted,
		APIResults: apiResults,
		Answer:     answer,
	}, nil
}

// enrich fetches API results. Failures are logged and yield an empty list.
func (o *Orchestrator) enrich(ctx context.Context, t *turn, q schema.Query, it schema.Intent, language string) []any {
	if !q.Options.EnableAPIQuery {
		return []any{}
	}
	if o.deps.Enrichment == nil || o.opts.EnrichmentAPI == "" {
		t.log.Warnf("orchestrator: api query requested but no enrichment api is configured")
		return []any{}
	}
	start := time.Now()
	results, err := withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) ([]any, error) {
		return o.deps.Enrichment.Fetch(ctx, o.opts.EnrichmentAPI, enrichment.Payload(q, it, language))
	})
	t.record.Stage("enrichment", start)
	if err != nil {
		t.record.EnrichmentErr = err.Error()
		metrics.IncEnrichmentFailure(o.opts.EnrichmentAPI)
		t.log.Warnf("orchestrator: enrichment %s failed, continuing without api results: %v", o.opts.EnrichmentAPI, err)
		return []any{}
	}
	if results == nil {
		results = []any{}
	}
	return results
}

// generate runs one retried completion. An empty answer is a failure.
func (o *Orchestrator) generate(ctx context.Context, req llm.Request) (string, error) {
	out, err := retry.Value(ctx, o.policy("generate"), func(ctx context.Context) (string, error) {
		return withTimeout(ctx, o.opts.StageTimeout, func(ctx context.Context) (string, error) {
			return o.deps.LLM.Complete(ctx, req)
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", schema.ErrGeneration, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty answer", schema.ErrGeneration)
	}
	return out, nil
}

func (o *Orchestrator) policy(name string) retry.Policy {
	p := o.opts.Retry.WithName(name)
	p.OnRetry = func(uint, error) { metrics.IncRetry(name) }
	return p
}

// LastConversation returns the value stored for userID, if it has not expired.
func (o *Orchestrator) LastConversation(userID string) (string, bool) {
	return o.deps.Last.Get(userID)
}

// SetLastConversation stores value for userID. A zero ttl means one day.
func (o *Orchestrator) SetLastConversation(userID, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultLastConversationTTL
	}
	o.deps.Last.Set(userID, value, ttl)
}

// ResetConversation forgets the stored history and last conversation of userID.
func (o *Orchestrator) ResetConversation(ctx context.Context, userID string) error {
	o.deps.Last.Delete(userID)
	return o.deps.Memory.Clear(ctx, userID)
}

// withTimeout runs fn under a deadline of d derived from ctx.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
