package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfaried/parley/pkg/chat"
)

func history(n int) []chat.Message {
	msgs := make([]chat.Message, 0, n)
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		msgs = append(msgs, chat.NewMessage(role, fmt.Sprintf("h%d", i)))
	}
	return msgs
}

func decodeDeltaRequest(t *testing.T, r *http.Request) deltaRequest {
	t.Helper()
	var req deltaRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req
}

func TestDeltaAdapter_RequestShape(t *testing.T) {
	var captured deltaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeDeltaRequest(t, r)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{
		Type:         KindOpenAI,
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		SystemPrompt: "Be brief.",
		Personality:  "cheerful",
	})

	resp, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-4o",
		History:  history(8),
		UserText: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)

	assert.Equal(t, "gpt-4o", captured.Model)
	assert.False(t, captured.Stream)
	assert.Equal(t, defaultMaxTokens, captured.MaxTokens)
	assert.Zero(t, captured.MaxCompletionTokens)

	// system + exactly 5 windowed history entries + user message
	require.Len(t, captured.Messages, 7)
	assert.Equal(t, chat.RoleSystem, captured.Messages[0].Role)
	assert.Equal(t, "Be brief.\n\nYour personality: cheerful", captured.Messages[0].Content)
	assert.Equal(t, "h3", captured.Messages[1].Content, "window keeps the last five history entries")
	assert.Equal(t, "h7", captured.Messages[5].Content)
	assert.Equal(t, chat.RoleUser, captured.Messages[6].Role)
	assert.Equal(t, "hello", captured.Messages[6].Content)
}

func TestDeltaAdapter_SystemTextRules(t *testing.T) {
	t.Run("should not duplicate personality already in prompt", func(t *testing.T) {
		adapter := newDeltaAdapter(Config{
			Type:         KindOpenAI,
			BaseURL:      "http://localhost",
			SystemPrompt: "You are cheerful and concise.",
			Personality:  "cheerful",
		})
		msgs := adapter.buildMessages(Request{UserText: "hi"})
		assert.Equal(t, "You are cheerful and concise.", msgs[0].Content)
	})

	t.Run("should fall back to default instruction", func(t *testing.T) {
		adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: "http://localhost"})
		msgs := adapter.buildMessages(Request{UserText: "hi"})
		assert.Equal(t, defaultSystemPrompt, msgs[0].Content)
	})
}

func TestDeltaAdapter_CompletionTokenCap(t *testing.T) {
	var captured deltaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeDeltaRequest(t, r)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	_, err := adapter.Send(context.Background(), Request{Model: "o1-preview", UserText: "hi"})
	require.NoError(t, err)

	assert.Zero(t, captured.MaxTokens)
	assert.Equal(t, defaultMaxTokens, captured.MaxCompletionTokens)
}

func TestDeltaAdapter_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := decodeDeltaRequest(t, r)
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive comment\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})

	var chunks []string
	resp, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-4o",
		UserText: "hi",
		Stream:   true,
		OnChunk:  func(delta string) { chunks = append(chunks, delta) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo", "!"}, chunks)
	assert.Equal(t, "Hello!", resp.Content)
	assert.Nil(t, resp.ToolCalls)
}

func TestDeltaAdapter_StreamingToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"function\":{\"name\":\"f\",\"arguments\":\"\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"a\\\":\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"1}\"}}]}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	resp, err := adapter.Send(context.Background(), Request{Model: "gpt-4o", UserText: "hi", Stream: true})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "f", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"a":1}`, resp.ToolCalls[0].Arguments)
}

func TestDeltaAdapter_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	_, err := adapter.Send(context.Background(), Request{Model: "gpt-4o", UserText: "hi"})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
	assert.Contains(t, provErr.Body, "rate limited")
}

func TestDeltaAdapter_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	_, err := adapter.Send(context.Background(), Request{Model: "gpt-4o", UserText: "hi"})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Zero(t, provErr.StatusCode)
}

func TestDeltaAdapter_FollowUpShape(t *testing.T) {
	var captured deltaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = decodeDeltaRequest(t, r)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"final answer"}}]}`)
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})

	calls := []chat.ToolCall{
		{ID: "call_1", Name: "lookup", Arguments: map[string]interface{}{"q": "go"}, Result: map[string]interface{}{"hits": float64(3)}},
		{ID: "call_2", Name: "time", Arguments: map[string]interface{}{}, Result: "12:00"},
	}
	resp, err := adapter.Send(context.Background(), Request{
		Model:    "gpt-4o",
		History:  history(6),
		UserText: "original question",
		ToolTurn: &ToolTurn{Calls: calls},
	})
	require.NoError(t, err)
	assert.Equal(t, "final answer", resp.Content)

	// system + 3 windowed entries + user + assistant tool turn + 2 tool results
	require.Len(t, captured.Messages, 8)
	assert.Equal(t, "h3", captured.Messages[1].Content, "follow-up window keeps the last three entries")
	assert.Equal(t, "original question", captured.Messages[4].Content)

	toolTurn := captured.Messages[5]
	assert.Equal(t, chat.RoleAssistant, toolTurn.Role)
	require.Len(t, toolTurn.ToolCalls, 2)
	assert.Equal(t, "call_1", toolTurn.ToolCalls[0].ID)
	assert.Equal(t, "lookup", toolTurn.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"q":"go"}`, toolTurn.ToolCalls[0].Function.Arguments)

	first := captured.Messages[6]
	assert.Equal(t, "tool", first.Role)
	assert.Equal(t, "call_1", first.ToolCallID)
	assert.JSONEq(t, `{"hits":3}`, first.Content)

	second := captured.Messages[7]
	assert.Equal(t, "call_2", second.ToolCallID)
	assert.Equal(t, "12:00", second.Content)
}

func TestDeltaAdapter_NonStreamingToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_9","type":"function","function":{"name":"f","arguments":"{\"a\":1}"}}]}}]}`)
	}))
	defer srv.Close()

	adapter := newDeltaAdapter(Config{Type: KindOpenAI, BaseURL: srv.URL, APIKey: "k"})
	resp, err := adapter.Send(context.Background(), Request{Model: "gpt-4o", UserText: "hi"})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.ToolCalls[0].ID)
	assert.Equal(t, `{"a":1}`, resp.ToolCalls[0].Arguments)
}
