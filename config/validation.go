package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("found %d configuration error(s):\n", len(errs)))
	for i, err := range errs {
		b.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, err.Field, err.Message))
	}
	return b.String()
}

// Validate validates the complete configuration
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateVectorStore()...)
	errs = append(errs, c.validateMemory()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateWeighting()...)
	errs = append(errs, c.validateEnrichment()...)

	if c.Retry.MaxAttempts > 10 {
		errs = append(errs, ValidationError{
			Field:   "retry.max_attempts",
			Message: fmt.Sprintf("retry.max_attempts %d is too large (max recommended: 10)", c.Retry.MaxAttempts),
		})
	}
	if c.Orchestrator.DefaultTopK > 100 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.default_top_k",
			Message: fmt.Sprintf("orchestrator.default_top_k %d is too large (max recommended: 100)", c.Orchestrator.DefaultTopK),
		})
	}

	if t := c.Orchestrator.AnswerTemperature; t < 0 || t > 2 {
		errs = append(errs, ValidationError{
			Field:   "orchestrator.answer_temperature",
			Message: fmt.Sprintf("answer_temperature must be in [0, 2], got %.2f", t),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateVectorStore() ValidationErrors {
	var errs ValidationErrors

	seen := make(map[string]struct{}, len(c.VectorStore.Backends))
	primaryFound := false
	for i, b := range c.VectorStore.Backends {
		field := fmt.Sprintf("vectorstore.backends[%d]", i)
		name := strings.ToLower(strings.TrimSpace(b.Name))
		if name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "backend name is required"})
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate backend name %q", b.Name)})
		}
		seen[name] = struct{}{}
		if strings.EqualFold(name, c.VectorStore.Primary) {
			primaryFound = true
		}

		switch strings.ToLower(b.Provider) {
		case "mongodb":
			if b.URI == "" {
				errs = append(errs, ValidationError{Field: field + ".uri", Message: "uri is required for mongodb provider"})
			}
			if b.Database == "" {
				errs = append(errs, ValidationError{Field: field + ".database", Message: "database is required for mongodb provider"})
			}
			if len(b.Collections) == 0 {
				errs = append(errs, ValidationError{Field: field + ".collections", Message: "at least one collection is required for mongodb provider"})
			}
		case "milvus":
			if b.Address == "" {
				errs = append(errs, ValidationError{Field: field + ".address", Message: "address is required for milvus provider"})
			}
			if len(b.Collections) == 0 {
				errs = append(errs, ValidationError{Field: field + ".collections", Message: "at least one collection is required for milvus provider"})
			}
		case "qdrant":
			if b.URI == "" {
				errs = append(errs, ValidationError{Field: field + ".uri", Message: "uri is required for qdrant provider"})
			}
			if len(b.Collections) == 0 {
				errs = append(errs, ValidationError{Field: field + ".collections", Message: "at least one collection is required for qdrant provider"})
			}
		case "memory":
		default:
			errs = append(errs, ValidationError{Field: field + ".provider", Message: fmt.Sprintf("unknown vector store provider %q", b.Provider)})
		}
	}

	if len(c.VectorStore.Backends) > 0 && !primaryFound {
		errs = append(errs, ValidationError{
			Field:   "vectorstore.primary",
			Message: fmt.Sprintf("primary store %q is not among the configured backends", c.VectorStore.Primary),
		})
	}
	return errs
}

func (c *Config) validateMemory() ValidationErrors {
	var errs ValidationErrors
	switch strings.ToLower(c.Memory.Store) {
	case "inmemory":
	case "redis":
		if c.Memory.Redis.Address == "" {
			errs = append(errs, ValidationError{Field: "memory.redis.address", Message: "redis address is required for redis memory store"})
		}
	case "sql":
		switch strings.ToLower(c.Memory.SQL.Driver) {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, ValidationError{Field: "memory.sql.driver", Message: fmt.Sprintf("unknown sql driver %q", c.Memory.SQL.Driver)})
		}
		if c.Memory.SQL.DSN == "" {
			errs = append(errs, ValidationError{Field: "memory.sql.dsn", Message: "dsn is required for sql memory store"})
		}
	default:
		errs = append(errs, ValidationError{Field: "memory.store", Message: fmt.Sprintf("unknown memory store %q", c.Memory.Store)})
	}
	return errs
}

func (c *Config) validateCache() ValidationErrors {
	var errs ValidationErrors
	if c.Cache.Dedup.TTLSeconds > c.Cache.Result.TTLSeconds {
		errs = append(errs, ValidationError{
			Field:   "cache.dedup.ttl_seconds",
			Message: fmt.Sprintf("dedup ttl %ds should not exceed result cache ttl %ds", c.Cache.Dedup.TTLSeconds, c.Cache.Result.TTLSeconds),
		})
	}
	switch strings.ToLower(c.Cache.DedupStore) {
	case "memory":
	case "redis":
		if c.Cache.Redis.Address == "" {
			errs = append(errs, ValidationError{Field: "cache.redis.address", Message: "redis address is required for redis dedup store"})
		}
	default:
		errs = append(errs, ValidationError{Field: "cache.dedup_store", Message: fmt.Sprintf("unknown dedup store %q", c.Cache.DedupStore)})
	}
	return errs
}

func (c *Config) validateWeighting() ValidationErrors {
	var errs ValidationErrors
	if c.Weighting.RelevanceWeight <= 0 || c.Weighting.RelevanceWeight > 1 {
		errs = append(errs, ValidationError{
			Field:   "weighting.relevance_weight",
			Message: fmt.Sprintf("relevance_weight must be in (0, 1], got %.2f", c.Weighting.RelevanceWeight),
		})
	}
	if c.Weighting.LanguageBonus < 0 {
		errs = append(errs, ValidationError{
			Field:   "weighting.language_bonus",
			Message: fmt.Sprintf("language_bonus must not be negative, got %.2f", c.Weighting.LanguageBonus),
		})
	}
	return errs
}

func (c *Config) validateEnrichment() ValidationErrors {
	var errs ValidationErrors
	names := make(map[string]struct{}, len(c.Enrichment.APIs))
	for i, a := range c.Enrichment.APIs {
		if a.Name == "" || a.Endpoint == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("enrichment.apis[%d]", i),
				Message: "enrichment api requires name and endpoint",
			})
			continue
		}
		names[strings.ToLower(a.Name)] = struct{}{}
	}
	if c.Enrichment.Default != "" {
		if _, ok := names[strings.ToLower(c.Enrichment.Default)]; !ok {
			errs = append(errs, ValidationError{
				Field:   "enrichment.default",
				Message: fmt.Sprintf("default enrichment api %q is not configured", c.Enrichment.Default),
			})
		}
	}
	return errs
}
