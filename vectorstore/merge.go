package vectorstore

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// MergeTopK concatenates result lists, sorts them by descending score and
// keeps the first topK. Truncation happens after sorting so the cut is global
// across lists rather than per list. Equal scores keep their input order.
func MergeTopK(topK int, lists ...[]schema.VectorMatch) []schema.VectorMatch {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	merged := make([]schema.VectorMatch, 0, total)
	for _, l := range lists {
		merged = append(merged, l...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

// searchCollections queries every collection concurrently and merges the
// results into a global top-K. Any collection failing fails the whole search.
func searchCollections(ctx context.Context, collections []string, topK int,
	search func(ctx context.Context, collection string) ([]schema.VectorMatch, error)) ([]schema.VectorMatch, error) {
	if len(collections) == 1 {
		out, err := search(ctx, collections[0])
		if err != nil {
			return nil, err
		}
		return MergeTopK(topK, out), nil
	}

	results := make([][]schema.VectorMatch, len(collections))
	g, gctx := errgroup.WithContext(ctx)
	for i, coll := range collections {
		i, coll := i, coll
		g.Go(func() error {
			out, err := search(gctx, coll)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return MergeTopK(topK, results...), nil
}
