package memory

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/llm"
)

const summaryPrompt = `You summarize a customer support conversation for the assistant that continues it.
Keep the facts the user shared (order numbers, products, errors, what was already tried) and the open problem.
Write at most five short sentences in the language of the conversation. Do not invent details.`

// Handle addresses one user's memory. Handles are cheap and created lazily.
type Handle struct {
	UserID string
}

// Ephemeral handles belong to anonymous requests: they read nothing and
// persist nothing.
func (h *Handle) Ephemeral() bool {
	return h == nil || h.UserID == ""
}

// BridgeOptions tunes a Bridge.
type BridgeOptions struct {
	// LoadRounds caps the rounds read per turn (0 reads every retained round).
	LoadRounds       int
	SummaryMaxChars  int
	SummaryMaxTokens int
}

// Bridge connects the orchestrator to conversation storage and summarization.
// Turns of the same user are not serialized: two concurrent turns may both
// load the history before either saves. History does not grow without
// bound: stores keep the most recent MaxRounds rounds and drop older ones.
type Bridge struct {
	store    ConversationStore
	provider llm.Provider
	opts     BridgeOptions
	now      func() time.Time
}

func NewBridge(store ConversationStore, provider llm.Provider, opts BridgeOptions) *Bridge {
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = 12000
	}
	if opts.SummaryMaxTokens <= 0 {
		opts.SummaryMaxTokens = 256
	}
	return &Bridge{store: store, provider: provider, opts: opts, now: time.Now}
}

// GetMemory returns the handle for userID. It never fails and does no I/O.
func (b *Bridge) GetMemory(userID string) *Handle {
	return &Handle{UserID: strings.TrimSpace(userID)}
}

// Load reads the recent history of h.
func (b *Bridge) Load(ctx context.Context, h *Handle) (HistoryView, error) {
	if h.Ephemeral() {
		return HistoryView{}, nil
	}
	rounds, err := b.store.GetLastNRounds(ctx, h.UserID, b.opts.LoadRounds)
	if err != nil {
		return HistoryView{}, fmt.Errorf("load memory for %s: %w", h.UserID, err)
	}
	return HistoryView{UserID: h.UserID, Rounds: rounds}, nil
}

// Save appends a finished turn to h's history.
func (b *Bridge) Save(ctx context.Context, h *Handle, turn Turn) error {
	if h.Ephemeral() {
		return nil
	}
	round := ConversationRound{Question: turn.Input, Answer: turn.Output, Timestamp: b.now()}
	if err := b.store.SaveRound(ctx, h.UserID, round); err != nil {
		return fmt.Errorf("save memory for %s: %w", h.UserID, err)
	}
	return nil
}

// Clear drops the stored history of userID.
func (b *Bridge) Clear(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return nil
	}
	return b.store.Clear(ctx, userID)
}

// Summarize condenses history into a short text. An empty history returns ""
// without calling the model.
func (b *Bridge) Summarize(ctx context.Context, history HistoryView) (string, error) {
	if history.Empty() {
		return "", nil
	}
	transcript := RenderTranscript(history.Rounds, b.opts.SummaryMaxChars)
	out, err := b.provider.Complete(ctx, llm.Request{
		System:      summaryPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: transcript}},
		Temperature: 0.2,
		MaxTokens:   b.opts.SummaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize memory: %w", err)
	}
	summary := strings.TrimSpace(out)
	logger.Debugf("memory: summarized user=%s rounds=%d chars=%d", history.UserID, len(history.Rounds), len(summary))
	return summary, nil
}

// RenderTranscript formats rounds as a User/Assistant transcript. When it is
// longer than maxChars the oldest part is dropped.
func RenderTranscript(rounds []ConversationRound, maxChars int) string {
	var b strings.Builder
	for i, r := range rounds {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("User: ")
		b.WriteString(strings.TrimSpace(r.Question))
		b.WriteString("\nAssistant: ")
		b.WriteString(strings.TrimSpace(r.Answer))
	}
	s := b.String()
	if maxChars > 0 && len(s) > maxChars {
		cut := len(s) - maxChars
		for cut < len(s) && !utf8.RuneStart(s[cut]) {
			cut++
		}
		s = s[cut:]
		// resume on a full line
		if i := strings.IndexByte(s, '\n'); i >= 0 && i+1 < len(s) {
			s = s[i+1:]
		}
	}
	return s
}
