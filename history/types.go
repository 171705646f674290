package history

import (
	"time"

	"github.com/kir-gadjello/llm-council/council"
)

// TurnEvent is the JSONL record written for every settled council turn.
type TurnEvent struct {
	ID             string        `json:"uuid"`
	ConversationID string        `json:"conversation_id"`
	Title          string        `json:"title,omitempty"`
	Server         string        `json:"server,omitempty"`
	TS             int64         `json:"ts"`
	Prompt         string        `json:"prompt"`
	Turn           *council.Turn `json:"turn"`
}

// ForgetEvent marks a conversation deleted from the archive. Import honours
// it so a replayed JSONL does not resurrect the conversation.
type ForgetEvent struct {
	Forget         bool   `json:"forget"`
	ConversationID string `json:"conversation_id"`
	TS             int64  `json:"ts"`
}

// SearchResult represents a hit from the FTS index
type SearchResult struct {
	ConversationID string
	Title          string
	Timestamp      time.Time
	Prompt         string
	Preview        string
}

// ConversationSummary is one archived conversation.
type ConversationSummary struct {
	ID        string
	Title     string
	Server    string
	Turns     int
	UpdatedAt time.Time
}
