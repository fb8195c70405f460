// Package provider normalizes backend LLM wire protocols behind one
// adapter contract. Two concrete shapes exist: a turn-based delta
// protocol (streamed JSON fragments, system as a first-class role) and
// a role-remapped batch protocol (single JSON body, synthesized
// streaming).
//
// Invariants:
// - Auth headers are classified from the base URL once at construction.
// - Adapters never retry; failures surface immediately to the caller.
// - Exactly the last HistoryWindow history entries go outbound per call.
//
// Usage:
//
//	adapter, _ := provider.New(provider.Config{Type: provider.KindOpenAI, BaseURL: "...", APIKey: "..."})
//	resp, _ := adapter.Send(ctx, provider.Request{Model: "gpt-4o", UserText: "hello"})
//	_ = resp
package provider
