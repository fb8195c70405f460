package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/pkg/chat"
)

// batchTimeout bounds the batch protocol's single-shot call.
const batchTimeout = 30 * time.Second

// defaultBatchEndpoint is used when the config carries no endpoint
// template. {model} is substituted with the resolved model name.
const defaultBatchEndpoint = "/v1beta/models/{model}:generateContent"

// batchAck is the synthetic model reply acknowledging injected system
// instructions.
const batchAck = "Understood. I will follow these instructions."

type batchPart struct {
	Text string `json:"text"`
}

type batchContent struct {
	Role  string      `json:"role"`
	Parts []batchPart `json:"parts"`
}

type batchRequest struct {
	Contents         []batchContent `json:"contents"`
	GenerationConfig batchGenConfig `json:"generationConfig"`
}

type batchGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens"`
	Temperature     float64 `json:"temperature"`
}

type batchResponse struct {
	Candidates []struct {
		Content struct {
			Parts []batchPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// BatchAdapter speaks the role-remapped batch protocol: one request,
// one JSON body back, no native system role and no native token
// stream. Streaming is synthesized per rune when requested.
type BatchAdapter struct {
	cfg    Config
	client *http.Client
}

func newBatchAdapter(cfg Config) *BatchAdapter {
	return &BatchAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: batchTimeout},
	}
}

// Kind returns the configured provider family.
func (a *BatchAdapter) Kind() Kind {
	return a.cfg.Type
}

func (a *BatchAdapter) endpoint(model string) string {
	ep := a.cfg.Endpoint
	if ep == "" {
		ep = defaultBatchEndpoint
	}
	ep = strings.ReplaceAll(ep, "{model}", model)
	full := ep
	if !isAbsoluteEndpoint(ep) {
		full = strings.TrimRight(a.cfg.BaseURL, "/") + ep
	}
	if a.cfg.APIKey == "" {
		return full
	}
	sep := "?"
	if strings.Contains(full, "?") {
		sep = "&"
	}
	return full + sep + "key=" + url.QueryEscape(a.cfg.APIKey)
}

// Send issues the single round-trip. With req.Stream set, the final
// text is replayed through req.OnChunk one rune at a time before
// returning, preserving the streaming illusion for the caller.
func (a *BatchAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	body := batchRequest{
		Contents: a.buildContents(req),
		GenerationConfig: batchGenConfig{
			MaxOutputTokens: defaultMaxTokens,
			Temperature:     defaultTemperature,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint(req.Model), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Debug().
		Str("provider", string(a.cfg.Type)).
		Str("model", req.Model).
		Int("contents", len(body.Contents)).
		Msg("Sending batch request")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Kind: a.cfg.Type, Limit: batchTimeout}
		}
		return nil, &ProviderError{Kind: a.cfg.Type, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ProviderError{Kind: a.cfg.Type, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProviderError{Kind: a.cfg.Type, Body: fmt.Sprintf("malformed response body: %v", err)}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, &ProviderError{Kind: a.cfg.Type, Body: "response contained no candidates"}
	}

	text := parsed.Candidates[0].Content.Parts[0].Text
	if req.Stream && req.OnChunk != nil {
		for _, r := range text {
			req.OnChunk(string(r))
		}
	}
	return &Response{Content: text}, nil
}

// buildContents maps history onto the two roles the batch wire knows.
// System text, when configured, becomes a synthetic leading exchange:
// a user part carrying the instructions and a model part acknowledging
// them. Without system text the contents begin directly with history.
func (a *BatchAdapter) buildContents(req Request) []batchContent {
	var contents []batchContent

	if system := composeSystemText(a.cfg); system != "" {
		contents = append(contents,
			batchContent{Role: "user", Parts: []batchPart{{Text: system}}},
			batchContent{Role: "model", Parts: []batchPart{{Text: batchAck}}},
		)
	}

	for _, m := range windowHistory(req.History, HistoryWindow) {
		role := "model"
		if m.Role == chat.RoleUser {
			role = "user"
		}
		contents = append(contents, batchContent{Role: role, Parts: []batchPart{{Text: m.Content}}})
	}

	return append(contents, batchContent{Role: "user", Parts: []batchPart{{Text: req.UserText}}})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isAbsoluteEndpoint reports whether the endpoint is a full URL rather
// than a path appended to the base URL.
func isAbsoluteEndpoint(ep string) bool {
	return strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://")
}

// endpointCarriesKey reports whether the endpoint already embeds an API
// key in its query string.
func endpointCarriesKey(ep string) bool {
	u, err := url.Parse(ep)
	if err != nil {
		return false
	}
	return u.Query().Get("key") != ""
}
