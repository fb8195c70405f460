// Package chat defines the conversation data model shared by the
// orchestrator, provider adapters, and gateway.
//
// Invariants:
// - Messages are append-only and timestamp-monotonic per state.
// - len(Messages) never exceeds MaxMessages after a completed mutation.
// - Pruning drops the oldest messages first and preserves relative order.
//
// Usage:
//
//	state := chat.NewState()
//	state.Append(chat.NewMessage(chat.RoleUser, "hello"))
//	dropped := state.Prune()
//	_ = dropped
package chat
