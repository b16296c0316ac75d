package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config from path, overlays secrets from the environment
// (a .env file next to the process is honored) and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed, err: %w", err)
	}

	cfg := Preset()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s failed, err: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config %s failed, err: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.Getenv)
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays secrets and endpoints that are usually injected by the
// deployment rather than committed to the config file.
func ApplyEnv(c *Config, getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.LLM.APIKey, "SUPPORTRAG_LLM_API_KEY", "OPENAI_API_KEY")
	set(&c.LLM.BaseURL, "SUPPORTRAG_LLM_BASE_URL", "OPENAI_BASE_URL")
	set(&c.Embedding.APIKey, "SUPPORTRAG_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	set(&c.Embedding.BaseURL, "SUPPORTRAG_EMBEDDING_BASE_URL", "OPENAI_BASE_URL")
	set(&c.Memory.Redis.Password, "REDIS_PASSWORD")
	set(&c.Cache.Redis.Password, "REDIS_PASSWORD")
	set(&c.Memory.SQL.DSN, "SUPPORTRAG_MEMORY_DSN")
	set(&c.Server.Addr, "SUPPORTRAG_ADDR")
	set(&c.Log.Level, "SUPPORTRAG_LOG_LEVEL")

	var mongoURI string
	set(&mongoURI, "MONGODB_URI")
	for i := range c.VectorStore.Backends {
		b := &c.VectorStore.Backends[i]
		if b.URI == "" && mongoURI != "" && strings.EqualFold(b.Provider, "mongodb") {
			b.URI = mongoURI
		}
	}
}
