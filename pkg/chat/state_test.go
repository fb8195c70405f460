package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_Defaults(t *testing.T) {
	msg := NewMessage(RoleUser, "hello")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.True(t, msg.VisibleInChat)
	assert.True(t, msg.IncludeInHistory)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestNewState_FreshID(t *testing.T) {
	a := NewState()
	b := NewState()

	assert.NotEmpty(t, a.SessionID)
	assert.NotEmpty(t, b.SessionID)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Empty(t, a.Messages)
}

func TestChatState_AppendMonotonicTimestamps(t *testing.T) {
	state := NewState()

	fixed := time.Now()
	for i := 0; i < 3; i++ {
		msg := NewMessage(RoleUser, fmt.Sprintf("m%d", i))
		msg.Timestamp = fixed // same clock reading for every append
		state.Append(msg)
	}

	require.Len(t, state.Messages, 3)
	for i := 1; i < len(state.Messages); i++ {
		assert.True(t, state.Messages[i].Timestamp.After(state.Messages[i-1].Timestamp),
			"timestamps must be strictly increasing")
	}
}

func TestChatState_PruneBound(t *testing.T) {
	state := NewState()
	for i := 0; i < MaxMessages+25; i++ {
		state.Append(NewMessage(RoleUser, fmt.Sprintf("m%d", i)))
	}

	dropped := state.Prune()

	assert.Equal(t, 25, dropped)
	assert.Len(t, state.Messages, MaxMessages)
	// Oldest entries go first; survivors keep their relative order.
	assert.Equal(t, "m25", state.Messages[0].Content)
	assert.Equal(t, fmt.Sprintf("m%d", MaxMessages+24), state.Messages[len(state.Messages)-1].Content)
}

func TestChatState_PruneNoop(t *testing.T) {
	state := NewState()
	state.Append(NewMessage(RoleUser, "only"))

	assert.Equal(t, 0, state.Prune())
	assert.Len(t, state.Messages, 1)
}

func TestChatState_ClearRetainsSessionID(t *testing.T) {
	state := NewState()
	id := state.SessionID
	state.Append(NewMessage(RoleUser, "hello"))
	state.IsProcessing = true
	state.StreamingMessage = "partial"

	state.Clear()

	assert.Empty(t, state.Messages)
	assert.False(t, state.IsProcessing)
	assert.Empty(t, state.StreamingMessage)
	assert.Equal(t, id, state.SessionID)
}

func TestChatState_History(t *testing.T) {
	t.Run("should exclude messages flagged out of history", func(t *testing.T) {
		state := NewState()
		state.Append(NewMessage(RoleUser, "keep"))

		hidden := NewMessage(RoleAssistant, "error notice")
		hidden.IncludeInHistory = false
		state.Append(hidden)

		history := state.History()
		require.Len(t, history, 1)
		assert.Equal(t, "keep", history[0].Content)
	})

	t.Run("should preserve order", func(t *testing.T) {
		state := NewState()
		for i := 0; i < 4; i++ {
			state.Append(NewMessage(RoleUser, fmt.Sprintf("m%d", i)))
		}

		history := state.History()
		require.Len(t, history, 4)
		for i, m := range history {
			assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
		}
	})
}

func TestChatState_CloneIsolation(t *testing.T) {
	state := NewState()
	state.Append(NewMessage(RoleUser, "a"))

	snap := state.Clone()
	state.Append(NewMessage(RoleUser, "b"))

	assert.Len(t, snap.Messages, 1)
	assert.Len(t, state.Messages, 2)
	assert.Equal(t, state.SessionID, snap.SessionID)
}
