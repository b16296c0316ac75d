package metrics

import (
	"encoding/json"
	"time"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
)

// TurnRecord captures one query turn for structured logging.
type TurnRecord struct {
	TurnID    string    `json:"turn_id"`
	UserID    string    `json:"user_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Outcome string `json:"outcome"`
	Branch  string `json:"branch,omitempty"` // greeting | retrieval
	Topic   string `json:"topic,omitempty"`

	Store          string           `json:"store,omitempty"`
	MatchCount     int              `json:"match_count"`
	TopScore       float64          `json:"top_score,omitempty"`
	APIResultCount int              `json:"api_result_count"`
	EnrichmentErr  string           `json:"enrichment_error,omitempty"`
	StageLatencyMs map[string]int64 `json:"stage_latency_ms"`

	TotalLatencyMs int64  `json:"total_latency_ms"`
	Success        bool   `json:"success"`
	ErrorMsg       string `json:"error_msg,omitempty"`
}

// NewTurnRecord creates a record stamped with the current time.
func NewTurnRecord(turnID string) *TurnRecord {
	return &TurnRecord{
		TurnID:         turnID,
		Timestamp:      time.Now(),
		StageLatencyMs: make(map[string]int64),
	}
}

// Stage records a stage's latency on the record and in prometheus.
func (r *TurnRecord) Stage(name string, start time.Time) {
	r.StageLatencyMs[name] = time.Since(start).Milliseconds()
	ObserveStage(name, start)
}

// Finish stamps the outcome, counts it and logs the record as JSON.
func (r *TurnRecord) Finish(outcome string, err error) {
	r.Outcome = outcome
	r.Success = err == nil
	if err != nil {
		r.ErrorMsg = err.Error()
	}
	r.TotalLatencyMs = time.Since(r.Timestamp).Milliseconds()
	IncTurn(outcome)
	if data, merr := json.Marshal(r); merr == nil {
		logger.Infof("[SUPPORTRAG_TURN] %s", string(data))
	}
}
