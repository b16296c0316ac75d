package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/httpx"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// Client fetches auxiliary results from an external API. Failures are
// reported as schema.ErrEnrichment and are never fatal to a turn.
type Client interface {
	Fetch(ctx context.Context, name string, payload map[string]any) ([]any, error)
}

// Payload is the document posted to enrichment endpoints. language is the
// reply language resolved for the turn.
func Payload(q schema.Query, it schema.Intent, language string) map[string]any {
	return map[string]any{
		"query":    q.Text,
		"topic":    it.Topic,
		"language": language,
		"userId":   q.Options.UserID,
	}
}

// HTTPClient posts JSON payloads to named endpoints.
type HTTPClient struct {
	apis map[string]config.EnrichmentAPI
	http *httpx.Client
}

// NewHTTPClient registers the configured APIs.
func NewHTTPClient(apis []config.EnrichmentAPI, hc *httpx.Client) *HTTPClient {
	c := &HTTPClient{apis: make(map[string]config.EnrichmentAPI, len(apis)), http: hc}
	for _, a := range apis {
		c.apis[strings.ToLower(a.Name)] = a
	}
	return c
}

func (c *HTTPClient) Fetch(ctx context.Context, name string, payload map[string]any) ([]any, error) {
	api, ok := c.apis[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown api %q", schema.ErrEnrichment, name)
	}
	body, err := c.http.DoJSON(ctx, http.MethodPost, api.Endpoint, api.Headers, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", schema.ErrEnrichment, api.Name, err)
	}

	res := gjson.ParseBytes(body)
	if api.ResultsPath != "" {
		res = res.Get(api.ResultsPath)
	}
	if !res.Exists() {
		return []any{}, nil
	}
	if !res.IsArray() {
		return nil, fmt.Errorf("%w: %s: results are not an array", schema.ErrEnrichment, api.Name)
	}
	out, _ := res.Value().([]any)
	if out == nil {
		out = []any{}
	}
	return out, nil
}
