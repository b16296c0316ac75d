package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// MongoBackend searches Atlas vector indexes with the $vectorSearch stage.
type MongoBackend struct {
	name        string
	client      *mongo.Client
	database    string
	collections []string
	index       string
	vectorField string
	mapping     FieldMapping
	// aggregate runs a pipeline against one collection. Replaced in tests.
	aggregate func(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error)
}

// NewMongoBackend connects to cfg.URI and verifies the connection.
func NewMongoBackend(ctx context.Context, cfg config.BackendConfig) (*MongoBackend, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongodb uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb failed, err: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb failed, err: %w", err)
	}
	b := newMongoBackend(cfg)
	b.client = client
	b.aggregate = b.runAggregate
	return b, nil
}

func newMongoBackend(cfg config.BackendConfig) *MongoBackend {
	index := cfg.Index
	if index == "" {
		index = "vector_index"
	}
	field := cfg.VectorField
	if field == "" {
		field = "embedding"
	}
	return &MongoBackend{
		name:        cfg.Name,
		database:    cfg.Database,
		collections: cfg.Collections,
		index:       index,
		vectorField: field,
		mapping:     mappingFromConfig(cfg.Mapping),
	}
}

func (b *MongoBackend) Name() string { return b.name }

func (b *MongoBackend) Search(ctx context.Context, vector []float32, topK int) ([]schema.VectorMatch, error) {
	pipeline := b.pipeline(vector, topK)
	return searchCollections(ctx, b.collections, topK, func(ctx context.Context, coll string) ([]schema.VectorMatch, error) {
		docs, err := b.aggregate(ctx, coll, pipeline)
		if err != nil {
			return nil, fmt.Errorf("mongodb vector search on %s failed, err: %w", coll, err)
		}
		out := make([]schema.VectorMatch, 0, len(docs))
		for _, d := range docs {
			score, _ := toFloat(d["score"])
			out = append(out, b.mapping.fromMap(d, score, coll))
		}
		return out, nil
	})
}

func (b *MongoBackend) pipeline(vector []float32, topK int) mongo.Pipeline {
	numCandidates := topK * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	project := bson.D{{Key: "_id", Value: 0}}
	for _, f := range []string{b.mapping.Text, b.mapping.Language, b.mapping.Source} {
		if f != "" {
			project = append(project, bson.E{Key: f, Value: 1})
		}
	}
	project = append(project, bson.E{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}})

	return mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: b.index},
			{Key: "path", Value: b.vectorField},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: numCandidates},
			{Key: "limit", Value: topK},
		}}},
		{{Key: "$project", Value: project}},
	}
}

func (b *MongoBackend) runAggregate(ctx context.Context, collection string, pipeline mongo.Pipeline) ([]bson.M, error) {
	cursor, err := b.client.Database(b.database).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (b *MongoBackend) Close(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

func bsonMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case bson.M:
		return t, true
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}
