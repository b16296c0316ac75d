package config

import "time"

// Config represents the main configuration structure for the support RAG service
type Config struct {
	Server       ServerConfig       `json:"server" yaml:"server"`
	Log          LogConfig          `json:"log" yaml:"log"`
	LLM          LLMConfig          `json:"llm" yaml:"llm"`
	Embedding    EmbeddingConfig    `json:"embedding" yaml:"embedding"`
	VectorStore  VectorStoreConfig  `json:"vectorstore" yaml:"vectorstore"`
	Memory       MemoryConfig       `json:"memory" yaml:"memory"`
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	Retry        RetryConfig        `json:"retry" yaml:"retry"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Weighting    WeightingConfig    `json:"weighting" yaml:"weighting"`
	Enrichment   EnrichmentConfig   `json:"enrichment" yaml:"enrichment"`
	// HTTP global defaults for outbound calls (qdrant, enrichment APIs).
	HTTP *HTTPClientConfig `json:"http,omitempty" yaml:"http,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `json:"addr" yaml:"addr"`
	ReadTimeoutMs   int    `json:"read_timeout_ms,omitempty" yaml:"read_timeout_ms,omitempty"`
	WriteTimeoutMs  int    `json:"write_timeout_ms,omitempty" yaml:"write_timeout_ms,omitempty"`
	ShutdownTimeout int    `json:"shutdown_timeout_seconds,omitempty" yaml:"shutdown_timeout_seconds,omitempty"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // console, json
}

// LLMConfig defines configuration for Large Language Models
type LLMConfig struct {
	Provider    string  `json:"provider" yaml:"provider"` // Available options: openai
	APIKey      string  `json:"api_key,omitempty" yaml:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model       string  `json:"model" yaml:"model"`
	// MaxTokens caps completions whose request does not set its own limit.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// ClassifierModel overrides Model for intent classification.
	ClassifierModel string `json:"classifier_model,omitempty" yaml:"classifier_model,omitempty"`
}

// EmbeddingConfig defines configuration for embedding models
type EmbeddingConfig struct {
	Provider   string `json:"provider" yaml:"provider"` // Available options: openai
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// VectorStoreConfig lists the named backends and the store used by the orchestrator.
type VectorStoreConfig struct {
	Primary  string          `json:"primary" yaml:"primary"`
	Backends []BackendConfig `json:"backends" yaml:"backends"`
}

// BackendConfig registers one vector backend instance.
type BackendConfig struct {
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"` // Available options: mongodb, milvus, qdrant, memory
	// URI is a connection string (mongodb) or base URL (qdrant).
	URI         string   `json:"uri,omitempty" yaml:"uri,omitempty"`
	Address     string   `json:"address,omitempty" yaml:"address,omitempty"` // milvus host:port
	Database    string   `json:"database,omitempty" yaml:"database,omitempty"`
	Collections []string `json:"collections,omitempty" yaml:"collections,omitempty"`
	Index       string   `json:"index,omitempty" yaml:"index,omitempty"`
	VectorField string   `json:"vector_field,omitempty" yaml:"vector_field,omitempty"`
	MetricType  string   `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
	Username    string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password    string   `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey      string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Retry marks the backend as retry-eligible.
	Retry   bool          `json:"retry,omitempty" yaml:"retry,omitempty"`
	Mapping MappingConfig `json:"mapping,omitempty" yaml:"mapping,omitempty"`
}

// MappingConfig maps raw payload fields onto the normalized match fields.
// Values are gjson paths for JSON payloads and plain field names otherwise.
type MappingConfig struct {
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
	Source   string `json:"source,omitempty" yaml:"source,omitempty"`
}

// MemoryConfig selects the conversation store.
type MemoryConfig struct {
	Store     string `json:"store" yaml:"store"` // Available options: inmemory, redis, sql
	MaxRounds int    `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	// LoadRounds caps the rounds read at the start of a turn (0 => all retained).
	LoadRounds        int         `json:"load_rounds,omitempty" yaml:"load_rounds,omitempty"`
	TTLSeconds        int         `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	SummaryMaxChars   int         `json:"summary_max_chars,omitempty" yaml:"summary_max_chars,omitempty"`
	SummaryMaxTokens  int         `json:"summary_max_tokens,omitempty" yaml:"summary_max_tokens,omitempty"`
	Redis             RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
	SQL               SQLConfig   `json:"sql,omitempty" yaml:"sql,omitempty"`
}

// RedisConfig holds connection details shared by the redis memory store and dedup store.
type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty"`
}

// SQLConfig configures the gorm-backed conversation store.
type SQLConfig struct {
	Driver string `json:"driver" yaml:"driver"` // Available options: sqlite, postgres, mysql
	DSN    string `json:"dsn" yaml:"dsn"`
}

// CacheConfig controls the result cache, the message dedup cache and the
// last-conversation cache.
type CacheConfig struct {
	Result           CacheLayerConfig `json:"result" yaml:"result"`
	Dedup            CacheLayerConfig `json:"dedup" yaml:"dedup"`
	LastConversation CacheLayerConfig `json:"last_conversation" yaml:"last_conversation"`
	// DedupStore selects where seen message ids live: memory (default) or redis.
	DedupStore string      `json:"dedup_store,omitempty" yaml:"dedup_store,omitempty"`
	Redis      RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty"`
}

// CacheLayerConfig bounds one cache instance.
type CacheLayerConfig struct {
	TTLSeconds int `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
	MaxEntries int `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

// TTL returns the configured TTL as a duration.
func (c CacheLayerConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RetryConfig parameterizes the transient-failure retry policy.
type RetryConfig struct {
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BaseDelayMs int `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
}

// OrchestratorConfig tunes the answer pipeline.
type OrchestratorConfig struct {
	DefaultTopK        int     `json:"default_top_k,omitempty" yaml:"default_top_k,omitempty"`
	StageTimeoutMs     int     `json:"stage_timeout_ms,omitempty" yaml:"stage_timeout_ms,omitempty"`
	DefaultLanguage    string  `json:"default_language,omitempty" yaml:"default_language,omitempty"`
	AnswerTemperature  float64 `json:"answer_temperature,omitempty" yaml:"answer_temperature,omitempty"`
	AnswerMaxTokens    int     `json:"answer_max_tokens,omitempty" yaml:"answer_max_tokens,omitempty"`
	GreetingMaxTokens  int     `json:"greeting_max_tokens,omitempty" yaml:"greeting_max_tokens,omitempty"`
	AssistantName      string  `json:"assistant_name,omitempty" yaml:"assistant_name,omitempty"`
	SystemPromptPrefix string  `json:"system_prompt_prefix,omitempty" yaml:"system_prompt_prefix,omitempty"`
}

// StageTimeout returns the per-stage timeout.
func (c OrchestratorConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}

// WeightingConfig controls context ranking and rendering.
type WeightingConfig struct {
	RelevanceWeight  float64 `json:"relevance_weight,omitempty" yaml:"relevance_weight,omitempty"`
	LanguageBonus    float64 `json:"language_bonus,omitempty" yaml:"language_bonus,omitempty"`
	MinWeight        float64 `json:"min_weight,omitempty" yaml:"min_weight,omitempty"`
	MaxContextTokens int     `json:"max_context_tokens,omitempty" yaml:"max_context_tokens,omitempty"`
	Encoding         string  `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// EnrichmentConfig registers external APIs consulted when a request enables them.
type EnrichmentConfig struct {
	Default string           `json:"default,omitempty" yaml:"default,omitempty"`
	APIs    []EnrichmentAPI  `json:"apis,omitempty" yaml:"apis,omitempty"`
}

// EnrichmentAPI is one named JSON-over-HTTP endpoint.
type EnrichmentAPI struct {
	Name     string            `json:"name" yaml:"name"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// ResultsPath is a gjson path selecting the result array in the response.
	ResultsPath string `json:"results_path,omitempty" yaml:"results_path,omitempty"`
}

// HTTPClientConfig defines defaults for outbound HTTP calls.
type HTTPClientConfig struct {
	TimeoutMs              int      `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry                  int      `json:"retry,omitempty" yaml:"retry,omitempty"`
	BackoffMinMs           int      `json:"backoff_min_ms,omitempty" yaml:"backoff_min_ms,omitempty"`
	BackoffMaxMs           int      `json:"backoff_max_ms,omitempty" yaml:"backoff_max_ms,omitempty"`
	HostAllowlist          []string `json:"host_allowlist,omitempty" yaml:"host_allowlist,omitempty"`
	MaxConsecutiveFailures int      `json:"max_consecutive_failures,omitempty" yaml:"max_consecutive_failures,omitempty"`
	CircuitOpenSeconds     int      `json:"circuit_open_seconds,omitempty" yaml:"circuit_open_seconds,omitempty"`
}

// Default returns a configuration with every optional knob filled in.
func Default() *Config {
	cfg := Preset()
	ApplyDefaults(cfg)
	return cfg
}

// Preset returns a config holding the defaults for which zero is a valid
// explicit setting. Parse the file over it so an absent key keeps the default.
func Preset() *Config {
	cfg := &Config{}
	cfg.Orchestrator.AnswerTemperature = 0.3
	cfg.Weighting.LanguageBonus = 0.1
	return cfg
}

// ApplyDefaults fills zero values with the service defaults.
func ApplyDefaults(c *Config) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeoutMs <= 0 {
		c.Server.ReadTimeoutMs = 15000
	}
	if c.Server.WriteTimeoutMs <= 0 {
		c.Server.WriteTimeoutMs = 120000
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 1536
	}
	if c.VectorStore.Primary == "" {
		c.VectorStore.Primary = "mongodb"
	}
	if c.Memory.Store == "" {
		c.Memory.Store = "inmemory"
	}
	if c.Memory.MaxRounds <= 0 {
		c.Memory.MaxRounds = 20
	}
	if c.Memory.TTLSeconds <= 0 {
		c.Memory.TTLSeconds = 7 * 24 * 3600
	}
	if c.Memory.SummaryMaxChars <= 0 {
		c.Memory.SummaryMaxChars = 12000
	}
	if c.Memory.SummaryMaxTokens <= 0 {
		c.Memory.SummaryMaxTokens = 256
	}
	if c.Cache.Result.TTLSeconds <= 0 {
		c.Cache.Result.TTLSeconds = 600
	}
	if c.Cache.Result.MaxEntries <= 0 {
		c.Cache.Result.MaxEntries = 1000
	}
	if c.Cache.Dedup.TTLSeconds <= 0 {
		c.Cache.Dedup.TTLSeconds = 120
	}
	if c.Cache.Dedup.MaxEntries <= 0 {
		c.Cache.Dedup.MaxEntries = 10000
	}
	if c.Cache.LastConversation.TTLSeconds <= 0 {
		c.Cache.LastConversation.TTLSeconds = 86400
	}
	if c.Cache.LastConversation.MaxEntries <= 0 {
		c.Cache.LastConversation.MaxEntries = 10000
	}
	if c.Cache.DedupStore == "" {
		c.Cache.DedupStore = "memory"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 1000
	}
	if c.Orchestrator.DefaultTopK <= 0 {
		c.Orchestrator.DefaultTopK = 5
	}
	if c.Orchestrator.StageTimeoutMs <= 0 {
		c.Orchestrator.StageTimeoutMs = 30000
	}
	if c.Orchestrator.DefaultLanguage == "" {
		c.Orchestrator.DefaultLanguage = "en"
	}
	if c.Orchestrator.AnswerMaxTokens <= 0 {
		c.Orchestrator.AnswerMaxTokens = 800
	}
	if c.Orchestrator.GreetingMaxTokens <= 0 {
		c.Orchestrator.GreetingMaxTokens = 120
	}
	if c.Orchestrator.AssistantName == "" {
		c.Orchestrator.AssistantName = "the support assistant"
	}
	if c.Weighting.RelevanceWeight <= 0 {
		c.Weighting.RelevanceWeight = 0.35
	}
	if c.Weighting.MaxContextTokens <= 0 {
		c.Weighting.MaxContextTokens = 3000
	}
	if c.Weighting.Encoding == "" {
		c.Weighting.Encoding = "cl100k_base"
	}
	if c.HTTP == nil {
		c.HTTP = &HTTPClientConfig{}
	}
}
