// Package identity resolves the persona a model speaks as: the system
// prompt, personality, and display metadata configured per model.
//
// Invariants:
// - Resolve never fails; an unmatched model gets the default identity.
// - A reload that fails to parse keeps the last good table.
// - File edits are picked up without restart, debounced per path.
//
// Usage:
//
//	registry, err := identity.NewRegistry(identity.RegistryConfig{Path: "identities.json"})
//	if err != nil { ... }
//	defer registry.Stop()
//	id := registry.Resolve("openai/gpt-4o")
package identity
