package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// Document is a stored entry of the in-process backend.
type Document struct {
	Text     string
	Language string
	Source   string
	Vector   []float32
}

// MemoryBackend is an in-process cosine similarity store partitioned into
// named collections. It serves local development and tests.
type MemoryBackend struct {
	name string
	mu   sync.RWMutex
	data map[string][]Document
	// order keeps collection iteration deterministic.
	order []string
}

func NewMemoryBackend(name string, collections ...string) *MemoryBackend {
	b := &MemoryBackend{name: name, data: make(map[string][]Document)}
	for _, c := range collections {
		b.ensure(c)
	}
	if len(b.order) == 0 {
		b.ensure("default")
	}
	return b
}

func (b *MemoryBackend) ensure(collection string) {
	if _, ok := b.data[collection]; !ok {
		b.data[collection] = nil
		b.order = append(b.order, collection)
	}
}

// Add stores docs in collection, creating it on first use.
func (b *MemoryBackend) Add(collection string, docs ...Document) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensure(collection)
	b.data[collection] = append(b.data[collection], docs...)
}

func (b *MemoryBackend) Name() string { return b.name }

func (b *MemoryBackend) Search(ctx context.Context, vector []float32, topK int) ([]schema.VectorMatch, error) {
	b.mu.RLock()
	collections := append([]string(nil), b.order...)
	b.mu.RUnlock()

	return searchCollections(ctx, collections, topK, func(ctx context.Context, coll string) ([]schema.VectorMatch, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.mu.RLock()
		docs := b.data[coll]
		b.mu.RUnlock()

		out := make([]schema.VectorMatch, 0, len(docs))
		for _, d := range docs {
			if len(d.Vector) != len(vector) {
				return nil, fmt.Errorf("dimension mismatch in %s: have %d, query %d", coll, len(d.Vector), len(vector))
			}
			source := d.Source
			if source == "" {
				source = coll
			}
			out = append(out, schema.VectorMatch{
				Text:     d.Text,
				Language: d.Language,
				Source:   source,
				Score:    cosine(vector, d.Vector),
			})
		}
		return MergeTopK(topK, out), nil
	})
}

func (b *MemoryBackend) Close(context.Context) error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
