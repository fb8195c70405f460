package chat

import (
	"time"

	"github.com/google/uuid"
)

// Conversation roles. The wire-level "tool" and "model" roles used by
// individual backends are a provider concern and never stored here.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ToolCall is one tool invocation requested by the model. Result is nil
// until the bridge has executed the call; after execution it is always
// set, carrying either the handler output or an {"error": ...} payload.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Result    interface{}            `json:"result,omitempty"`
}

// Message is a single conversation entry. Immutable once appended.
type Message struct {
	ID               string     `json:"id"`
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	Timestamp        time.Time  `json:"timestamp"`
	ToolCalls        []ToolCall `json:"toolCalls,omitempty"`
	VisibleInChat    bool       `json:"visibleInChat"`
	IncludeInHistory bool       `json:"includeInHistory"`
}

// NewMessage builds a message with a fresh id, the current timestamp,
// and both visibility flags defaulted to true.
func NewMessage(role, content string) Message {
	return Message{
		ID:               uuid.NewString(),
		Role:             role,
		Content:          content,
		Timestamp:        time.Now(),
		VisibleInChat:    true,
		IncludeInHistory: true,
	}
}
