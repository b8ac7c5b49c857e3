package domain

import "time"

// Message roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn in a session's conversation history.
// SuggestedFollowups is carried as structured data so follow-up handling
// never has to re-parse prose.
type ChatMessage struct {
	Role               string
	Content            string
	Timestamp          time.Time
	Citations          []Citation
	Intent             Intent
	SuggestedFollowups []string
}

// SessionContext is the ephemeral per-session state: bounded history plus the
// last classification for follow-up inheritance. Destroyed on clearHistory.
type SessionContext struct {
	SessionID          string
	Messages           []ChatMessage
	LastClassification *QueryClassification
	LastEntities       ExtractedEntities
}

// QueryResponse is the well-formed result of one pipeline turn. Degraded
// turns still produce one of these; only validation, payload-safety and
// configuration failures surface as errors instead.
type QueryResponse struct {
	Text               string
	Citations          []Citation // at most 5
	SuggestedFollowups []string   // at most 3
	VerifiedData       *VerifiedFinancialData
	ResponseTimeMs     int64
	OfflineGenerated   bool
	WasCorrected       bool
}
