package supportrag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/cache"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/embedding"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/enrichment"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/intent"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/memory"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/orchestrator"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/retry"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/vectorstore"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/weighting"
)

const Version = "1.0.0"

// Client owns every long-lived dependency of the service and the
// orchestrator built on top of them.
type Client struct {
	config  *config.Config
	orch    *orchestrator.Orchestrator
	adapter *vectorstore.Adapter
	closers []func(context.Context) error
}

// Service is what the outer surfaces (HTTP, MCP, CLI) need from a Client.
type Service interface {
	Query(ctx context.Context, q schema.Query) (*schema.QueryResponse, error)
	LastConversation(userID string) (string, bool)
	SetLastConversation(userID, value string, ttl time.Duration)
	ResetConversation(ctx context.Context, userID string) error
}

// NewClient builds providers, stores and caches from cfg. Backends are
// connected eagerly so a bad configuration fails at startup.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	c := &Client{config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close(context.Background())
		}
	}()

	hc := httpx.NewFromConfig(cfg.HTTP)

	llmProvider, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider failed, err: %w", err)
	}
	embeddingProvider, err := embedding.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider failed, err: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		Backoff:     retry.Exponential,
	}
	c.adapter = vectorstore.NewAdapter(policy)
	c.closers = append(c.closers, c.adapter.Close)
	for _, bc := range cfg.VectorStore.Backends {
		backend, err := vectorstore.NewBackend(ctx, bc, hc)
		if err != nil {
			return nil, fmt.Errorf("create vector store %s failed, err: %w", bc.Name, err)
		}
		c.adapter.Register(backend, bc.Retry)
		logger.Infof("supportrag: registered vector store name=%s provider=%s retry=%t", bc.Name, bc.Provider, bc.Retry)
	}

	store, err := c.newConversationStore(cfg.Memory)
	if err != nil {
		return nil, err
	}
	bridge := memory.NewBridge(store, llmProvider, memory.BridgeOptions{
		LoadRounds:       cfg.Memory.LoadRounds,
		SummaryMaxChars:  cfg.Memory.SummaryMaxChars,
		SummaryMaxTokens: cfg.Memory.SummaryMaxTokens,
	})

	seen, err := c.newSeenStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	var enricher enrichment.Client
	if len(cfg.Enrichment.APIs) > 0 {
		enricher = enrichment.NewHTTPClient(cfg.Enrichment.APIs, hc)
	}

	c.orch, err = orchestrator.New(orchestrator.Deps{
		Embedder:   embeddingProvider,
		Classifier: intent.NewLLMClassifier(llmProvider, cfg.LLM.ClassifierModel),
		Retriever:  c.adapter,
		Weigher:    weighting.New(cfg.Weighting, nil),
		Memory:     bridge,
		LLM:        llmProvider,
		Enrichment: enricher,
		Results:    cache.NewTTL[*schema.QueryResponse](cfg.Cache.Result.MaxEntries, cfg.Cache.Result.TTL()),
		Seen:       seen,
		Last:       cache.NewTTL[string](cfg.Cache.LastConversation.MaxEntries, cfg.Cache.LastConversation.TTL()),
	}, orchestrator.OptionsFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create orchestrator failed, err: %w", err)
	}

	ok = true
	return c, nil
}

func (c *Client) newConversationStore(mc config.MemoryConfig) (memory.ConversationStore, error) {
	switch strings.ToLower(mc.Store) {
	case "redis":
		rdb := newRedis(mc.Redis)
		c.closers = append(c.closers, func(context.Context) error { return rdb.Close() })
		return memory.NewRedisConversationStore(&memory.RedisConversationStoreConfig{
			Client:           rdb,
			KeyPrefix:        mc.Redis.KeyPrefix,
			SessionExpiry:    time.Duration(mc.TTLSeconds) * time.Second,
			MaxHistoryRounds: mc.MaxRounds,
		}), nil
	case "sql":
		db, err := memory.OpenSQL(mc.SQL.Driver, mc.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("open memory database failed, err: %w", err)
		}
		store, err := memory.NewSQLConversationStore(db, mc.MaxRounds)
		if err != nil {
			return nil, fmt.Errorf("create sql memory store failed, err: %w", err)
		}
		c.closers = append(c.closers, func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return memory.NewInMemoryConversationStore(mc.MaxRounds), nil
	}
}

func (c *Client) newSeenStore(cc config.CacheConfig) (cache.SeenStore, error) {
	if !strings.EqualFold(cc.DedupStore, "redis") {
		return cache.NewMemorySeenStore(cc.Dedup.MaxEntries, cc.Dedup.TTL()), nil
	}
	rdb := newRedis(cc.Redis)
	c.closers = append(c.closers, func(context.Context) error { return rdb.Close() })
	return cache.NewRedisSeenStore(rdb, cc.Redis.KeyPrefix, cc.Dedup.TTL()), nil
}

func newRedis(rc config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(rc.Address, ","),
		Password: rc.Password,
		DB:       rc.DB,
	})
}

// Query runs one support turn. A nil response with a nil error means the
// message was a duplicate.
func (c *Client) Query(ctx context.Context, q schema.Query) (*schema.QueryResponse, error) {
	return c.orch.Query(ctx, q)
}

func (c *Client) LastConversation(userID string) (string, bool) {
	return c.orch.LastConversation(userID)
}

func (c *Client) SetLastConversation(userID, value string, ttl time.Duration) {
	c.orch.SetLastConversation(userID, value, ttl)
}

func (c *Client) ResetConversation(ctx context.Context, userID string) error {
	return c.orch.ResetConversation(ctx, userID)
}

// Stores lists the registered vector stores.
func (c *Client) Stores() []string {
	return c.adapter.Names()
}

// Close releases backends and store connections.
func (c *Client) Close(ctx context.Context) error {
	var result *multierror.Error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.closers = nil
	return result.ErrorOrNil()
}
