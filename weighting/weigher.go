package weighting

import (
	"sort"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// Weigher ranks retrieval matches against the query.
//
//	relevance = lexicalOverlap(query, text) + languageBonus
//	weight    = (1-α)·score + α·relevance
//
// With α > 0 the weight is strictly increasing in relevance at equal score.
type Weigher struct {
	alpha         float64
	languageBonus float64
	minWeight     float64
	budget        int
	counter       TokenCounter
}

// New creates a Weigher from cfg. counter may be nil to use the tiktoken
// encoding named in cfg.
func New(cfg config.WeightingConfig, counter TokenCounter) *Weigher {
	alpha := cfg.RelevanceWeight
	if alpha <= 0 || alpha > 1 {
		alpha = 0.35
	}
	if counter == nil {
		counter = NewTokenCounter(cfg.Encoding)
	}
	return &Weigher{
		alpha:         alpha,
		languageBonus: cfg.LanguageBonus,
		minWeight:     cfg.MinWeight,
		budget:        cfg.MaxContextTokens,
		counter:       counter,
	}
}

// Weigh scores, deduplicates and orders matches, most relevant first.
// language is the reply language; matches in it get the language bonus.
func (w *Weigher) Weigh(query, language string, matches []schema.VectorMatch) []schema.WeightedContext {
	qTokens := tokenSet(query)
	lang := strings.ToLower(strings.TrimSpace(language))

	best := make(map[string]int, len(matches))
	out := make([]schema.WeightedContext, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		rel := lexicalOverlap(qTokens, m.Text)
		if lang != "" && strings.EqualFold(strings.TrimSpace(m.Language), lang) {
			rel += w.languageBonus
		}
		wc := schema.WeightedContext{
			VectorMatch: m,
			Relevance:   rel,
			Weight:      (1-w.alpha)*m.Score + w.alpha*rel,
		}
		if w.minWeight > 0 && wc.Weight < w.minWeight {
			continue
		}

		key := normalizeText(m.Text)
		if i, dup := best[key]; dup {
			if wc.Weight > out[i].Weight {
				out[i] = wc
			}
			continue
		}
		best[key] = len(out)
		out = append(out, wc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Score > out[j].Score
	})
	return out
}
