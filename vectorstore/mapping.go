package vectorstore

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// FieldMapping names the payload fields holding match text, language and
// source. Dotted names address nested documents.
type FieldMapping struct {
	Text     string
	Language string
	Source   string
}

// DefaultMapping matches documents stored as {text, language, source}.
var DefaultMapping = FieldMapping{Text: "text", Language: "language", Source: "source"}

func mappingFromConfig(c config.MappingConfig) FieldMapping {
	m := DefaultMapping
	if c.Text != "" {
		m.Text = c.Text
	}
	if c.Language != "" {
		m.Language = c.Language
	}
	if c.Source != "" {
		m.Source = c.Source
	}
	return m
}

// fromMap normalizes a decoded document.
func (m FieldMapping) fromMap(doc map[string]any, score float64, collection string) schema.VectorMatch {
	match := schema.VectorMatch{
		Text:     stringify(lookup(doc, m.Text)),
		Language: stringify(lookup(doc, m.Language)),
		Source:   stringify(lookup(doc, m.Source)),
		Score:    score,
	}
	if match.Source == "" {
		match.Source = collection
	}
	return match
}

// fromJSON normalizes a raw JSON payload using gjson paths.
func (m FieldMapping) fromJSON(payload gjson.Result, score float64, collection string) schema.VectorMatch {
	match := schema.VectorMatch{
		Text:     payload.Get(m.Text).String(),
		Language: payload.Get(m.Language).String(),
		Source:   payload.Get(m.Source).String(),
		Score:    score,
	}
	if match.Source == "" {
		match.Source = collection
	}
	return match
}

func lookup(doc map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	default:
		return bsonMap(v)
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
