package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
)

// NewBackend builds a backend from its configuration.
func NewBackend(ctx context.Context, cfg config.BackendConfig, hc *httpx.Client) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "mongodb":
		return NewMongoBackend(ctx, cfg)
	case "milvus":
		return NewMilvusBackend(ctx, cfg)
	case "qdrant":
		return NewQdrantBackend(cfg, hc)
	case "memory":
		return NewMemoryBackend(cfg.Name, cfg.Collections...), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider: %s", cfg.Provider)
	}
}
