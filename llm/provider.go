package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/config"
)

// Roles accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one prior chat message sent after the system prompt.
type Message struct {
	Role    string
	Content string
}

// Request is a single chat-completion call.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	// JSON asks the model for a JSON object response.
	JSON bool
	// Model overrides the provider default when set.
	Model string
}

// Provider produces completions.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	GetProviderType() string
}

const ProviderTypeOpenAI = "openai"

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderTypeOpenAI, "":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
