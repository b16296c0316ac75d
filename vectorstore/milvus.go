package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// MilvusBackend searches one or more milvus collections.
type MilvusBackend struct {
	name        string
	client      client.Client
	collections []string
	vectorField string
	metric      entity.MetricType
	mapping     FieldMapping
	// search runs one collection search. Replaced in tests.
	search func(ctx context.Context, collection string, vector []float32, topK int) ([]client.SearchResult, error)
}

// NewMilvusBackend dials cfg.Address.
func NewMilvusBackend(ctx context.Context, cfg config.BackendConfig) (*MilvusBackend, error) {
	if cfg.Address == "" {
		return nil, errors.New("milvus address is required")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus failed, err: %w", err)
	}
	b := newMilvusBackend(cfg)
	b.client = c
	b.search = b.runSearch
	return b, nil
}

func newMilvusBackend(cfg config.BackendConfig) *MilvusBackend {
	field := cfg.VectorField
	if field == "" {
		field = "vector"
	}
	return &MilvusBackend{
		name:        cfg.Name,
		collections: cfg.Collections,
		vectorField: field,
		metric:      parseMetric(cfg.MetricType),
		mapping:     mappingFromConfig(cfg.Mapping),
	}
}

func parseMetric(s string) entity.MetricType {
	switch strings.ToUpper(s) {
	case "L2":
		return entity.L2
	case "COSINE":
		return entity.COSINE
	default:
		return entity.IP
	}
}

func (b *MilvusBackend) Name() string { return b.name }

func (b *MilvusBackend) Search(ctx context.Context, vector []float32, topK int) ([]schema.VectorMatch, error) {
	return searchCollections(ctx, b.collections, topK, func(ctx context.Context, coll string) ([]schema.VectorMatch, error) {
		results, err := b.search(ctx, coll, vector, topK)
		if err != nil {
			return nil, fmt.Errorf("milvus search on %s failed, err: %w", coll, err)
		}
		return b.normalize(coll, results)
	})
}

func (b *MilvusBackend) runSearch(ctx context.Context, collection string, vector []float32, topK int) ([]client.SearchResult, error) {
	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, err
	}
	return b.client.Search(ctx, collection, []string{}, "", b.outputFields(),
		[]entity.Vector{entity.FloatVector(vector)}, b.vectorField, b.metric, topK, sp)
}

func (b *MilvusBackend) outputFields() []string {
	fields := make([]string, 0, 3)
	for _, f := range []string{b.mapping.Text, b.mapping.Language, b.mapping.Source} {
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func (b *MilvusBackend) normalize(collection string, results []client.SearchResult) ([]schema.VectorMatch, error) {
	var out []schema.VectorMatch
	for _, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		for i := 0; i < r.ResultCount; i++ {
			doc := make(map[string]any, 3)
			for _, f := range b.outputFields() {
				col := r.Fields.GetColumn(f)
				if col == nil {
					continue
				}
				if v, err := col.Get(i); err == nil {
					doc[f] = v
				}
			}
			var score float64
			if i < len(r.Scores) {
				score = float64(r.Scores[i])
			}
			out = append(out, b.mapping.fromMap(doc, score, collection))
		}
	}
	// L2 is a distance: smaller is closer. Flip it so higher always ranks first.
	if b.metric == entity.L2 {
		for i := range out {
			out[i].Score = -out[i].Score
		}
	}
	return out, nil
}

func (b *MilvusBackend) Close(context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}
