package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel means no provider family claims the model name. The
// caller decides whether a configured default family applies; there is
// no silent fallback here.
var ErrUnknownModel = errors.New("no provider family matches model")

// openAIPrefixes are the model-name prefixes claimed by the openai
// family. Reasoning-series names (o1/o3/o4, gpt-5) additionally switch
// the token cap field, see usesCompletionTokenCap.
var openAIPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt", "text-"}

// NormalizeModel strips a vendor prefix ("google/gemini-2.5-flash" ->
// "gemini-2.5-flash"). Identity lookup and family selection both run
// on the normalized name.
func NormalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// SelectKind maps a model identifier to its provider family. Pure
// function; unknown names return ErrUnknownModel.
func SelectKind(model string) (Kind, error) {
	name := strings.ToLower(NormalizeModel(model))
	if name == "" {
		return "", fmt.Errorf("%w: empty model name", ErrUnknownModel)
	}
	if strings.Contains(name, "gemini") {
		return KindGemini, nil
	}
	if strings.Contains(name, "claude") {
		return KindAnthropic, nil
	}
	for _, prefix := range openAIPrefixes {
		if strings.HasPrefix(name, prefix) {
			return KindOpenAI, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// usesCompletionTokenCap reports whether the model takes
// max_completion_tokens instead of max_tokens on the delta wire.
func usesCompletionTokenCap(model string) bool {
	name := strings.ToLower(NormalizeModel(model))
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
