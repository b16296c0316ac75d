package schema

// Options carries the per-request knobs that travel with a query. The whole
// payload participates in the result cache key.
type Options struct {
	Language       string `json:"language,omitempty" yaml:"language,omitempty"`
	UserID         string `json:"userId,omitempty" yaml:"user_id,omitempty"`
	MessageID      string `json:"messageId,omitempty" yaml:"message_id,omitempty"`
	TopK           int    `json:"topK,omitempty" yaml:"top_k,omitempty"`
	EnableAPIQuery bool   `json:"enableAPIQuery,omitempty" yaml:"enable_api_query,omitempty"`
}

// Query is a single user request.
type Query struct {
	Text    string  `json:"query"`
	Options Options `json:"options"`
}

// Intent is the structured classification of a user message.
type Intent struct {
	IsGreeting   bool   `json:"isGreeting"`
	HasQuestion  bool   `json:"hasQuestion"`
	NeedsSupport bool   `json:"needsSupport"`
	Topic        string `json:"topic"`
	// Language is the detected message language (ISO 639-1), when the model reports one.
	Language string `json:"language,omitempty"`
}

// IsPureGreeting reports whether the message only greets, so no retrieval or
// memory is needed to answer it.
func (i Intent) IsPureGreeting() bool {
	return i.IsGreeting && !i.HasQuestion && !i.NeedsSupport
}

// VectorMatch is a retrieval hit normalized across backends. Scores are only
// comparable by convention: backends may use different scales.
type VectorMatch struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Source   string  `json:"source,omitempty"`
	Score    float64 `json:"score"`
}

// WeightedContext is a VectorMatch ranked against the query.
type WeightedContext struct {
	VectorMatch
	Relevance float64 `json:"relevance"`
	Weight    float64 `json:"weight"`
}

// QueryResponse is returned to the caller and is the unit stored in the result cache.
type QueryResponse struct {
	Matches    []WeightedContext `json:"matches"`
	APIResults []any             `json:"apiResults"`
	Answer     string            `json:"answer"`
}

// Clone returns a copy that shares no slices with r.
func (r *QueryResponse) Clone() *QueryResponse {
	if r == nil {
		return nil
	}
	out := &QueryResponse{
		Matches:    make([]WeightedContext, len(r.Matches)),
		APIResults: make([]any, len(r.APIResults)),
		Answer:     r.Answer,
	}
	copy(out.Matches, r.Matches)
	copy(out.APIResults, r.APIResults)
	return out
}
