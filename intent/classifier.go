package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/llm"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// Classifier maps a raw user message to an Intent.
type Classifier interface {
	Classify(ctx context.Context, query string) (schema.Intent, error)
}

const systemPrompt = `You classify messages sent to a customer support chat.
Messages may be written in English, Portuguese or Spanish.
Reply with a single JSON object and nothing else, using exactly these fields:
  "isGreeting":   true if the message greets (hello, hi, olá, oi, hola, buenos días...)
  "hasQuestion":  true if the message asks something
  "needsSupport": true if the user reports a problem or needs help
  "topic":        a short lowercase English keyword for the subject (e.g. "payment", "account", "shipping"), or "" when there is none
  "language":     the ISO 639-1 code of the message language ("en", "pt", "es")
Example: {"isGreeting":false,"hasQuestion":false,"needsSupport":true,"topic":"payment","language":"en"}`

// LLMClassifier classifies with one structured-output completion.
type LLMClassifier struct {
	provider  llm.Provider
	model     string
	maxTokens int
}

// NewLLMClassifier creates a classifier. model may be empty to use the
// provider default.
func NewLLMClassifier(provider llm.Provider, model string) *LLMClassifier {
	return &LLMClassifier{provider: provider, model: model, maxTokens: 120}
}

// Classify never guesses: output that does not decode into all four intent
// fields is a schema.ErrClassification.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (schema.Intent, error) {
	raw, err := c.provider.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: query}},
		Temperature: 0,
		MaxTokens:   c.maxTokens,
		JSON:        true,
		Model:       c.model,
	})
	if err != nil {
		return schema.Intent{}, err
	}
	it, err := Parse(raw)
	if err != nil {
		logger.Warnf("intent: unparseable classifier output: %q", truncate(raw, 200))
		return schema.Intent{}, err
	}
	logger.Debugf("intent: greeting=%t question=%t support=%t topic=%q lang=%q",
		it.IsGreeting, it.HasQuestion, it.NeedsSupport, it.Topic, it.Language)
	return it, nil
}

type wireIntent struct {
	IsGreeting   *bool   `json:"isGreeting"`
	HasQuestion  *bool   `json:"hasQuestion"`
	NeedsSupport *bool   `json:"needsSupport"`
	Topic        *string `json:"topic"`
	Language     string  `json:"language"`
}

// Parse decodes classifier output. A Markdown code fence around the object
// is tolerated; anything else must be the bare JSON object.
func Parse(raw string) (schema.Intent, error) {
	body := stripFence(strings.TrimSpace(raw))
	var w wireIntent
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return schema.Intent{}, fmt.Errorf("%w: %v", schema.ErrClassification, err)
	}
	var missing []string
	if w.IsGreeting == nil {
		missing = append(missing, "isGreeting")
	}
	if w.HasQuestion == nil {
		missing = append(missing, "hasQuestion")
	}
	if w.NeedsSupport == nil {
		missing = append(missing, "needsSupport")
	}
	if w.Topic == nil {
		missing = append(missing, "topic")
	}
	if len(missing) > 0 {
		return schema.Intent{}, fmt.Errorf("%w: missing fields %s", schema.ErrClassification, strings.Join(missing, ", "))
	}
	return schema.Intent{
		IsGreeting:   *w.IsGreeting,
		HasQuestion:  *w.HasQuestion,
		NeedsSupport: *w.NeedsSupport,
		Topic:        strings.TrimSpace(*w.Topic),
		Language:     strings.ToLower(strings.TrimSpace(w.Language)),
	}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// drop an info string such as ```json
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
