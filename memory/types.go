package memory

import "time"

// ConversationRound is one user message and the answer given to it.
type ConversationRound struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Turn is what the orchestrator persists after a successful answer.
type Turn struct {
	Input  string
	Output string
}

// HistoryView is a read-only snapshot of a user's recent rounds, oldest first.
type HistoryView struct {
	UserID string
	Rounds []ConversationRound
}

// Empty reports whether there is no prior conversation.
func (h HistoryView) Empty() bool {
	return len(h.Rounds) == 0
}
