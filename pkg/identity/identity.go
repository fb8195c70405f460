package identity

import (
	"github.com/hfaried/parley/pkg/provider"
)

// Identity describes one configured persona bound to a model.
type Identity struct {
	Name         string `json:"name"`
	Icon         string `json:"icon,omitempty"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	Personality  string `json:"personality,omitempty"`
	Provider     string `json:"provider,omitempty"`
}

// IsZero reports whether the identity carries no configuration.
func (id Identity) IsZero() bool {
	return id.Name == "" && id.Model == "" && id.SystemPrompt == "" && id.Personality == ""
}

// Resolver resolves the identity a model should speak as.
type Resolver interface {
	Resolve(model string) Identity
}

// Static is a fixed identity table. Useful when no identity file is
// configured.
type Static struct {
	byModel  map[string]Identity
	fallback Identity
}

// NewStatic builds a Static resolver from a list of identities. The
// identity named defaultName becomes the fallback for unmatched models.
func NewStatic(identities []Identity, defaultName string) *Static {
	s := &Static{byModel: make(map[string]Identity, len(identities))}
	for _, id := range identities {
		if id.Model != "" {
			s.byModel[provider.NormalizeModel(id.Model)] = id
		}
		if defaultName != "" && id.Name == defaultName {
			s.fallback = id
		}
	}
	return s
}

// Resolve returns the identity for the model, or the fallback when no
// entry matches.
func (s *Static) Resolve(model string) Identity {
	if id, ok := s.byModel[provider.NormalizeModel(model)]; ok {
		return id
	}
	return s.fallback
}
