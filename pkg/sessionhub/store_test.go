package sessionhub

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfaried/parley/pkg/chat"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	tempDir := t.TempDir()
	store, err := NewStore(tempDir)
	require.NoError(t, err)
	return store, tempDir
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "test-session", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	messages := []chat.Message{
		chat.NewMessage(chat.RoleUser, "Message 1"),
		chat.NewMessage(chat.RoleAssistant, "Message 2"),
		chat.NewMessage(chat.RoleUser, "Message 3"),
	}
	for _, msg := range messages {
		require.NoError(t, store.Append(ctx, "test-session", msg))
	}

	loaded, err := store.Load(ctx, "test-session")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, msg := range loaded {
		assert.Equal(t, messages[i].ID, msg.ID)
		assert.Equal(t, messages[i].Role, msg.Role)
		assert.Equal(t, messages[i].Content, msg.Content)
	}
}

func TestStore_AppendPreservesVisibilityFlags(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	synthetic := chat.NewMessage(chat.RoleAssistant, "Sorry, something broke.")
	synthetic.IncludeInHistory = false
	require.NoError(t, store.Append(ctx, "flags", synthetic))

	loaded, err := store.Load(ctx, "flags")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.True(t, loaded[0].VisibleInChat)
	assert.False(t, loaded[0].IncludeInHistory)
}

func TestStore_AppendToolCallOnlyMessage(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	msg := chat.NewMessage(chat.RoleAssistant, "")
	msg.ToolCalls = []chat.ToolCall{{
		ID:        "call-1",
		Name:      "current_time",
		Arguments: map[string]interface{}{},
		Result:    "2026-01-01T00:00:00Z",
	}}
	require.NoError(t, store.Append(ctx, "tools", msg))

	loaded, err := store.Load(ctx, "tools")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].ToolCalls, 1)
	assert.Equal(t, "current_time", loaded[0].ToolCalls[0].Name)
}

func TestStore_AppendRejectsEmptyMessage(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	err := store.Append(ctx, "bad", chat.Message{Role: "", Content: "x"})
	assert.Error(t, err)

	err = store.Append(ctx, "bad", chat.Message{Role: chat.RoleUser, Content: ""})
	assert.Error(t, err)
}

func TestStore_LoadMissingSession(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()

	loaded, err := store.Load(context.Background(), "never-created")
	assert.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestStore_LoadSkipsCorruptLines(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	content := `{"sessionKey":"scarred","message":{"id":"a","role":"user","content":"Valid 1","timestamp":"2026-01-01T00:00:00Z","visibleInChat":true,"includeInHistory":true}}
not json at all
{"sessionKey":"scarred","message":{"id":"b","role":"assistant","content":"Valid 2","timestamp":"2026-01-01T00:00:01Z","visibleInChat":true,"includeInHistory":true}}
{"unrelated":"shape"}
`
	path := filepath.Join(tempDir, "scarred.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	loaded, err := store.Load(ctx, "scarred")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "Valid 1", loaded[0].Content)
	assert.Equal(t, "Valid 2", loaded[1].Content)
}

func TestStore_LoadLongLine(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	// Past the default bufio token limit.
	long := chat.NewMessage(chat.RoleAssistant, strings.Repeat("a", 100*1024))
	require.NoError(t, store.Append(ctx, "long", long))

	loaded, err := store.Load(ctx, "long")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Len(t, loaded[0].Content, 100*1024)
}

func TestStore_Rewrite(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "rewrite", chat.NewMessage(chat.RoleUser, "old")))
	}

	kept := []chat.Message{
		chat.NewMessage(chat.RoleUser, "kept 1"),
		chat.NewMessage(chat.RoleAssistant, "kept 2"),
	}
	require.NoError(t, store.Rewrite(ctx, "rewrite", kept))

	loaded, err := store.Load(ctx, "rewrite")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "kept 1", loaded[0].Content)
}

func TestStore_RewriteEmptyTruncates(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "truncate", chat.NewMessage(chat.RoleUser, "gone soon")))
	require.NoError(t, store.Rewrite(ctx, "truncate", nil))

	loaded, err := store.Load(ctx, "truncate")
	require.NoError(t, err)
	assert.Empty(t, loaded)

	// The file stays: an empty transcript is still a session.
	_, err = os.Stat(filepath.Join(tempDir, "truncate.jsonl"))
	assert.NoError(t, err)
}

func TestStore_Delete(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "doomed", chat.NewMessage(chat.RoleUser, "bye")))
	require.NoError(t, store.Delete(ctx, "doomed"))

	_, err := os.Stat(filepath.Join(tempDir, "doomed.jsonl"))
	assert.True(t, os.IsNotExist(err))

	// Deleting again is fine.
	assert.NoError(t, store.Delete(ctx, "doomed"))
}

func TestStore_List(t *testing.T) {
	store, tempDir := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	keys := []string{"alpha", "beta", "gamma"}
	for _, key := range keys {
		require.NoError(t, store.Append(ctx, key, chat.NewMessage(chat.RoleUser, "hi")))
	}
	// Non-transcript files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "notes.txt"), []byte("x"), 0600))

	list, err := store.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, list)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	store, _ := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			done <- store.Append(ctx, "busy", chat.NewMessage(chat.RoleUser, "hello"))
		}()
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}

	loaded, err := store.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, loaded, 20)
}
