package provider

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoProvider means a model resolved to a family that has no
// configured endpoint. Distinct from ErrUnknownModel: the name was
// recognized, the deployment just does not carry that backend.
var ErrNoProvider = errors.New("provider family not configured")

// Table maps model names to configured backend endpoints. Built once
// from configuration and immutable afterwards, so lookups need no
// locking.
type Table struct {
	configs     map[Kind]Config
	defaultKind Kind
}

// NewTable builds a lookup table from per-family configs. The map key
// is authoritative: each config's Type is overwritten with its key.
// defaultKind, when non-empty, is the family used for model names no
// family claims; it must itself be configured.
func NewTable(configs map[Kind]Config, defaultKind Kind) (*Table, error) {
	if len(configs) == 0 {
		return nil, errors.New("provider table requires at least one configured family")
	}
	own := make(map[Kind]Config, len(configs))
	for kind, cfg := range configs {
		cfg.Type = kind
		own[kind] = cfg
	}
	if defaultKind != "" {
		if _, ok := own[defaultKind]; !ok {
			return nil, fmt.Errorf("default provider %q has no configuration", defaultKind)
		}
	}
	return &Table{configs: own, defaultKind: defaultKind}, nil
}

// Lookup resolves a model name to its family and that family's config.
// Unrecognized names fall back to the default family when one is set;
// otherwise ErrUnknownModel surfaces. A recognized family without a
// config returns ErrNoProvider.
func (t *Table) Lookup(model string) (Kind, Config, error) {
	kind, err := SelectKind(model)
	if err != nil {
		if t.defaultKind == "" {
			return "", Config{}, err
		}
		kind = t.defaultKind
	}
	cfg, ok := t.configs[kind]
	if !ok {
		return "", Config{}, fmt.Errorf("%w: %s", ErrNoProvider, kind)
	}
	return kind, cfg, nil
}

// ConfigFor returns the config for an explicitly named family, used
// when an identity pins its model to a family the selector would not
// choose.
func (t *Table) ConfigFor(kind Kind) (Config, error) {
	cfg, ok := t.configs[kind]
	if !ok {
		return Config{}, fmt.Errorf("%w: %s", ErrNoProvider, kind)
	}
	return cfg, nil
}

// DefaultKind returns the configured fallback family, empty when none.
func (t *Table) DefaultKind() Kind {
	return t.defaultKind
}

// Kinds lists the configured families in stable order.
func (t *Table) Kinds() []Kind {
	out := make([]Kind, 0, len(t.configs))
	for kind := range t.configs {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
