package weighting

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

const blockSeparator = "\n---\n"

// TokenCounter measures prompt size.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordCounter estimates tokens as 4/3 of the word count.
type WordCounter struct{}

func (WordCounter) Count(text string) int {
	n := len(strings.Fields(text))
	return (n*4 + 2) / 3
}

// NewTokenCounter loads a tiktoken encoding, falling back to WordCounter when
// the encoding cannot be loaded (offline hosts fetch the BPE ranks lazily).
// The encoding "words" selects WordCounter directly.
func NewTokenCounter(encoding string) TokenCounter {
	switch {
	case encoding == "":
		encoding = "cl100k_base"
	case strings.EqualFold(encoding, "words"):
		return WordCounter{}
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warnf("weighting: load encoding %s failed, using word estimate: %v", encoding, err)
		return WordCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// Render formats contexts as numbered blocks for prompt embedding. Verbatim
// duplicates are skipped and rendering stops before the token budget would be
// exceeded. The first block is always kept so a single long context is not lost.
func (w *Weigher) Render(contexts []schema.WeightedContext) string {
	var b strings.Builder
	used := 0
	n := 0
	seen := make(map[string]struct{}, len(contexts))
	for _, c := range contexts {
		key := normalizeText(c.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}

		block := formatBlock(n+1, c)
		cost := w.counter.Count(block)
		if n > 0 {
			cost += w.counter.Count(blockSeparator)
		}
		if w.budget > 0 && n > 0 && used+cost > w.budget {
			break
		}
		seen[key] = struct{}{}
		if n > 0 {
			b.WriteString(blockSeparator)
		}
		b.WriteString(block)
		used += cost
		n++
	}
	return b.String()
}

func formatBlock(n int, c schema.WeightedContext) string {
	var meta []string
	if c.Source != "" {
		meta = append(meta, "source: "+c.Source)
	}
	if c.Language != "" {
		meta = append(meta, "language: "+c.Language)
	}
	header := fmt.Sprintf("[%d]", n)
	if len(meta) > 0 {
		header += " (" + strings.Join(meta, ", ") + ")"
	}
	return header + "\n" + strings.TrimSpace(c.Text)
}
