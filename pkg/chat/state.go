package chat

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MaxMessages bounds stored history per session. Pruning enforces the
// bound at turn finalization, never mid-turn.
const MaxMessages = 200

// ChatState is one session's mutable conversation state. It is a plain
// value owned by exactly one orchestrator; all mutation is serialized
// by the owner, so the type itself carries no locking.
type ChatState struct {
	Messages         []Message `json:"messages"`
	SessionID        string    `json:"sessionId"`
	IsProcessing     bool      `json:"isProcessing"`
	Model            string    `json:"model"`
	StreamingMessage string    `json:"streamingMessage,omitempty"`
}

// NewState creates an empty state with a fresh random session id.
func NewState() *ChatState {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the OS entropy source is broken.
		id = uuid.NewString()
	}
	return &ChatState{SessionID: id}
}

// Append adds a message, bumping its timestamp forward when the clock
// has not advanced past the previous entry so ordering stays
// timestamp-monotonic.
func (s *ChatState) Append(msg Message) {
	if n := len(s.Messages); n > 0 {
		if last := s.Messages[n-1].Timestamp; !msg.Timestamp.After(last) {
			msg.Timestamp = last.Add(1)
		}
	}
	s.Messages = append(s.Messages, msg)
}

// Prune drops the oldest messages until the MaxMessages bound holds,
// returning how many were removed. Relative order of the remainder is
// preserved.
func (s *ChatState) Prune() int {
	excess := len(s.Messages) - MaxMessages
	if excess <= 0 {
		return 0
	}
	s.Messages = append([]Message(nil), s.Messages[excess:]...)
	return excess
}

// Clear wipes history and transient turn state. The session id is
// retained.
func (s *ChatState) Clear() {
	s.Messages = nil
	s.IsProcessing = false
	s.StreamingMessage = ""
}

// History returns the messages eligible for model context, in order.
func (s *ChatState) History() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.IncludeInHistory {
			out = append(out, m)
		}
	}
	return out
}

// Clone returns a deep-enough copy for read-side snapshots: the message
// slice is copied so later appends never alias a returned snapshot.
func (s *ChatState) Clone() *ChatState {
	cp := *s
	cp.Messages = append([]Message(nil), s.Messages...)
	return &cp
}
