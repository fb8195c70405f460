package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hfaried/parley/pkg/chat"
)

// Kind identifies a backend provider family. The set is closed: adding
// a family means adding an adapter, not a configuration value.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindGemini    Kind = "gemini"
	KindAnthropic Kind = "anthropic"
)

// Request size bounds, independent of the stored-history cap.
const (
	// HistoryWindow is how many prior history entries accompany a turn.
	HistoryWindow = 5
	// FollowUpWindow is how many prior history entries accompany the
	// tool-result follow-up round-trip.
	FollowUpWindow = 3

	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// Config describes one backend endpoint. Immutable for the lifetime of
// the adapter built from it.
type Config struct {
	BaseURL      string `json:"baseURL"`
	APIKey       string `json:"apiKey"`
	Type         Kind   `json:"type"`
	Endpoint     string `json:"endpoint,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Personality  string `json:"personality,omitempty"`
}

// ToolCallRequest is a tool invocation as requested on the wire: the
// argument payload is the raw accumulated string, parsed into
// structured form by the tool bridge, never here.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolTurn carries the material for the follow-up round-trip issued
// after tool execution: the original requests plus each call's
// serialized result. Only the delta protocol produces tool calls, so
// only the delta adapter consumes this.
type ToolTurn struct {
	Calls []chat.ToolCall
}

// Request is the normalized outbound turn. History holds prior
// entries only; the in-flight user text travels separately.
type Request struct {
	Model    string
	History  []chat.Message
	UserText string
	Stream   bool
	OnChunk  func(delta string)
	ToolTurn *ToolTurn
}

// Response is the normalized result of one provider call.
type Response struct {
	Content   string
	ToolCalls []ToolCallRequest
}

// Adapter translates normalized requests to one backend wire protocol
// and back. Implementations perform no retries.
type Adapter interface {
	Send(ctx context.Context, req Request) (*Response, error)
	Kind() Kind
}

// New builds the adapter for a config. The two wire shapes cover three
// families: openai and anthropic endpoints speak the delta protocol and
// differ only in auth classification; gemini speaks the batch protocol.
func New(cfg Config) (Adapter, error) {
	switch cfg.Type {
	case KindOpenAI, KindAnthropic:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("provider %s: base URL is required", cfg.Type)
		}
		return newDeltaAdapter(cfg), nil
	case KindGemini:
		// The batch family accepts a full endpoint URL in place of a
		// base URL, and the key may ride that URL's query string.
		if strings.TrimSpace(cfg.BaseURL) == "" && !isAbsoluteEndpoint(cfg.Endpoint) {
			return nil, fmt.Errorf("provider %s: base URL or absolute endpoint is required", cfg.Type)
		}
		if strings.TrimSpace(cfg.APIKey) == "" && !endpointCarriesKey(cfg.Endpoint) {
			return nil, fmt.Errorf("provider %s: api key is required", cfg.Type)
		}
		return newBatchAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// ProviderError is a failed backend call: non-2xx status, malformed
// body, or no network at all (StatusCode 0).
type ProviderError struct {
	Kind       Kind
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider %s request failed: %s", e.Kind, body)
	}
	return fmt.Sprintf("provider %s returned status %d: %s", e.Kind, e.StatusCode, body)
}

// TimeoutError reports the batch protocol's fixed per-request deadline
// being exceeded.
type TimeoutError struct {
	Kind  Kind
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Kind, e.Limit)
}

// composeSystemText builds the system instruction shared by all
// adapters: SystemPrompt is the base; Personality is appended unless
// already contained in it. Empty when neither is configured.
func composeSystemText(cfg Config) string {
	base := cfg.SystemPrompt
	if cfg.Personality != "" && !strings.Contains(base, cfg.Personality) {
		base += "\n\nYour personality: " + cfg.Personality
	}
	return base
}

// windowHistory keeps the last n context-eligible entries.
func windowHistory(history []chat.Message, n int) []chat.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
