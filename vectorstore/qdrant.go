package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// QdrantBackend uses the qdrant REST search endpoint.
type QdrantBackend struct {
	name        string
	baseURL     string
	apiKey      string
	collections []string
	vectorName  string
	mapping     FieldMapping
	http        *httpx.Client
}

// NewQdrantBackend creates a backend talking to cfg.URI through hc.
func NewQdrantBackend(cfg config.BackendConfig, hc *httpx.Client) (*QdrantBackend, error) {
	if cfg.URI == "" {
		return nil, errors.New("qdrant uri is required")
	}
	if _, err := url.Parse(cfg.URI); err != nil {
		return nil, fmt.Errorf("invalid qdrant uri, err: %w", err)
	}
	return &QdrantBackend{
		name:        cfg.Name,
		baseURL:     strings.TrimRight(cfg.URI, "/"),
		apiKey:      cfg.APIKey,
		collections: cfg.Collections,
		vectorName:  cfg.VectorField,
		mapping:     mappingFromConfig(cfg.Mapping),
		http:        hc,
	}, nil
}

func (b *QdrantBackend) Name() string { return b.name }

type qdrantSearchRequest struct {
	Vector      any  `json:"vector"`
	Limit       int  `json:"limit"`
	WithPayload bool `json:"with_payload"`
}

func (b *QdrantBackend) Search(ctx context.Context, vector []float32, topK int) ([]schema.VectorMatch, error) {
	var vec any = vector
	if b.vectorName != "" {
		vec = map[string]any{"name": b.vectorName, "vector": vector}
	}
	req := qdrantSearchRequest{Vector: vec, Limit: topK, WithPayload: true}
	headers := map[string]string{}
	if b.apiKey != "" {
		headers["api-key"] = b.apiKey
	}

	return searchCollections(ctx, b.collections, topK, func(ctx context.Context, coll string) ([]schema.VectorMatch, error) {
		endpoint := fmt.Sprintf("%s/collections/%s/points/search", b.baseURL, url.PathEscape(coll))
		body, err := b.http.DoJSON(ctx, http.MethodPost, endpoint, headers, req)
		if err != nil {
			return nil, fmt.Errorf("qdrant search on %s failed, err: %w", coll, err)
		}
		res := gjson.GetBytes(body, "result")
		if !res.IsArray() {
			return nil, fmt.Errorf("qdrant search on %s returned no result array", coll)
		}
		out := make([]schema.VectorMatch, 0, len(res.Array()))
		res.ForEach(func(_, hit gjson.Result) bool {
			out = append(out, b.mapping.fromJSON(hit.Get("payload"), hit.Get("score").Float(), coll))
			return true
		})
		return out, nil
	})
}

func (b *QdrantBackend) Close(context.Context) error { return nil }
