package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hfaried/parley/pkg/chat"
)

const batchReply = `{"candidates":[{"content":{"parts":[{"text":"Hi there"}]}}]}`

func TestBatchAdapter_SyntheticSystemExchange(t *testing.T) {
	var captured batchRequest
	var path, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{
		Type:         KindGemini,
		BaseURL:      srv.URL,
		APIKey:       "g-key",
		SystemPrompt: "Answer in haiku.",
	})

	resp, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", UserText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Content)

	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", path)
	assert.Equal(t, "key=g-key", query)

	// synthetic instructions/ack pair, then the user's message
	require.Len(t, captured.Contents, 3)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "Answer in haiku.", captured.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", captured.Contents[1].Role)
	assert.Equal(t, batchAck, captured.Contents[1].Parts[0].Text)
	assert.Equal(t, "user", captured.Contents[2].Role)
	assert.Equal(t, "hi", captured.Contents[2].Parts[0].Text)
}

func TestBatchAdapter_NoSystemNoSyntheticPair(t *testing.T) {
	var captured batchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "k"})
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", UserText: "hi"})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 1)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "hi", captured.Contents[0].Parts[0].Text)
}

func TestBatchAdapter_RoleRemapping(t *testing.T) {
	var captured batchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "k"})

	hist := []chat.Message{
		chat.NewMessage(chat.RoleUser, "question"),
		chat.NewMessage(chat.RoleAssistant, "answer"),
		chat.NewMessage(chat.RoleSystem, "note"),
	}
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", History: hist, UserText: "next"})
	require.NoError(t, err)

	require.Len(t, captured.Contents, 4)
	assert.Equal(t, "user", captured.Contents[0].Role)
	assert.Equal(t, "model", captured.Contents[1].Role, "assistant remaps to model")
	assert.Equal(t, "model", captured.Contents[2].Role, "system remaps to model")
	assert.Equal(t, "user", captured.Contents[3].Role)
}

func TestBatchAdapter_SynthesizedStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"héllo"}]}}]}`)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "k"})

	var chunks []string
	resp, err := adapter.Send(context.Background(), Request{
		Model:    "gemini-2.5-flash",
		UserText: "hi",
		Stream:   true,
		OnChunk:  func(delta string) { chunks = append(chunks, delta) },
	})
	require.NoError(t, err)

	assert.Equal(t, "héllo", resp.Content)
	assert.Equal(t, []string{"h", "é", "l", "l", "o"}, chunks, "one chunk per rune, multibyte intact")
}

func TestBatchAdapter_EndpointTemplate(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{
		Type:     KindGemini,
		BaseURL:  srv.URL,
		APIKey:   "k",
		Endpoint: "/custom/{model}:run",
	})
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-pro", UserText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/custom/gemini-pro:run", path)
}

func TestBatchAdapter_AbsoluteEndpoint(t *testing.T) {
	var path, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		fmt.Fprint(w, batchReply)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{
		Type:     KindGemini,
		Endpoint: srv.URL + "/v1beta/models/{model}:generateContent?key=embedded",
	})
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-pro", UserText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", path)
	assert.Equal(t, "key=embedded", query, "embedded key is used as-is")
}

func TestBatchAdapter_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"key invalid"}}`)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "bad"})
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", UserText: "hi"})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusForbidden, provErr.StatusCode)
	assert.Contains(t, provErr.Body, "key invalid")
}

func TestBatchAdapter_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "k"})
	adapter.client.Timeout = 50 * time.Millisecond

	_, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", UserText: "hi"})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, KindGemini, timeoutErr.Kind)
}

func TestBatchAdapter_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	adapter := newBatchAdapter(Config{Type: KindGemini, BaseURL: srv.URL, APIKey: "k"})
	_, err := adapter.Send(context.Background(), Request{Model: "gemini-2.5-flash", UserText: "hi"})

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Contains(t, provErr.Body, "no candidates")
}
