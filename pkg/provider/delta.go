package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/pkg/chat"
)

// defaultSystemPrompt is the delta protocol's fallback instruction when
// no system prompt or personality is configured.
const defaultSystemPrompt = "You are a helpful assistant."

const deltaCompletionsPath = "/chat/completions"

// wireMessage is one entry of the delta protocol's flat message list.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type deltaRequest struct {
	Model               string        `json:"model"`
	Messages            []wireMessage `json:"messages"`
	MaxTokens           int           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	Stream              bool          `json:"stream"`
}

// deltaChunk is one streamed fragment: a content delta and/or partial
// tool calls keyed by index.
type deltaChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// deltaCompletion is the single-shot response body.
type deltaCompletion struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// DeltaAdapter speaks the turn-based delta protocol. One implementation
// serves both the openai and anthropic families; they differ only in
// the auth scheme classified from the base URL.
type DeltaAdapter struct {
	cfg    Config
	auth   authScheme
	client *http.Client
}

func newDeltaAdapter(cfg Config) *DeltaAdapter {
	return &DeltaAdapter{
		cfg:  cfg,
		auth: classifyAuth(cfg.BaseURL),
		// No client-level timeout: streamed responses stay open as
		// long as the backend keeps producing. Cancellation rides ctx.
		client: &http.Client{},
	}
}

// Kind returns the configured provider family.
func (a *DeltaAdapter) Kind() Kind {
	return a.cfg.Type
}

func (a *DeltaAdapter) endpoint() string {
	return strings.TrimRight(a.cfg.BaseURL, "/") + deltaCompletionsPath
}

// Send issues one round-trip. Streaming requests deliver content
// deltas through req.OnChunk in arrival order and still return the
// full accumulated response.
func (a *DeltaAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	body := deltaRequest{
		Model:    req.Model,
		Messages: a.buildMessages(req),
		Stream:   req.Stream,
	}
	if usesCompletionTokenCap(req.Model) {
		body.MaxCompletionTokens = defaultMaxTokens
	} else {
		body.MaxTokens = defaultMaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode delta request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build delta request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Cache-Control", "no-cache")
	}
	a.auth.apply(httpReq, a.cfg.APIKey)

	log.Debug().
		Str("provider", string(a.cfg.Type)).
		Str("model", req.Model).
		Bool("stream", req.Stream).
		Int("messages", len(body.Messages)).
		Msg("Sending delta request")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Kind: a.cfg.Type, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Kind: a.cfg.Type, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if req.Stream {
		return a.readStream(resp.Body, req.OnChunk)
	}
	return a.readCompletion(resp.Body)
}

// buildMessages assembles the outbound list: system text, the windowed
// history, the user message, and (for a follow-up) the synthetic
// assistant/tool turns reconstructing the tool round-trip.
func (a *DeltaAdapter) buildMessages(req Request) []wireMessage {
	system := composeSystemText(a.cfg)
	if system == "" {
		system = defaultSystemPrompt
	}

	window := HistoryWindow
	if req.ToolTurn != nil {
		window = FollowUpWindow
	}

	msgs := []wireMessage{{Role: chat.RoleSystem, Content: system}}
	for _, m := range windowHistory(req.History, window) {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, wireMessage{Role: chat.RoleUser, Content: req.UserText})

	if req.ToolTurn != nil {
		msgs = append(msgs, assistantToolTurn(req.ToolTurn.Calls))
		for _, call := range req.ToolTurn.Calls {
			msgs = append(msgs, wireMessage{
				Role:       "tool",
				Content:    serializeResult(call.Result),
				ToolCallID: call.ID,
			})
		}
	}
	return msgs
}

// assistantToolTurn rebuilds the assistant message that requested the
// batch of tool calls, with arguments re-serialized to their wire form.
func assistantToolTurn(calls []chat.ToolCall) wireMessage {
	wire := make([]wireToolCall, 0, len(calls))
	for _, call := range calls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		wire = append(wire, wireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: wireFunction{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return wireMessage{Role: chat.RoleAssistant, ToolCalls: wire}
}

func serializeResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

func (a *DeltaAdapter) readStream(body io.Reader, onChunk func(string)) (*Response, error) {
	reader := newSSEReader(body)
	acc := newToolCallAccumulator()
	var content strings.Builder

	for {
		data, err := reader.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ProviderError{Kind: a.cfg.Type, Body: fmt.Sprintf("stream read failed: %v", err)}
		}
		if data == doneSentinel {
			break
		}

		var chunk deltaChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug().Str("provider", string(a.cfg.Type)).Msg("Skipping malformed stream chunk")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onChunk != nil {
				onChunk(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			acc.add(tc)
		}
	}

	return &Response{Content: content.String(), ToolCalls: acc.requests()}, nil
}

func (a *DeltaAdapter) readCompletion(body io.Reader) (*Response, error) {
	var completion deltaCompletion
	if err := json.NewDecoder(body).Decode(&completion); err != nil {
		return nil, &ProviderError{Kind: a.cfg.Type, Body: fmt.Sprintf("malformed response body: %v", err)}
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{Kind: a.cfg.Type, Body: "response contained no choices"}
	}

	msg := completion.Choices[0].Message
	calls := make([]ToolCallRequest, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, ToolCallRequest{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return &Response{Content: msg.Content, ToolCalls: calls}, nil
}
