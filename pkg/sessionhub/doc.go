// Package sessionhub owns the set of live sessions: one orchestrator
// per session key, created lazily and rehydrated from the session's
// transcript log when one exists.
//
// Invariants:
//   - Session keys never traverse paths: no separators, no "..", no
//     null bytes.
//   - The transcript is a per-session JSONL log, appended with
//     O_APPEND+Sync under a per-session lock; corrupt lines are
//     skipped on load, never fatal.
//   - Evicting an idle session drops only its in-memory state; the
//     transcript survives and rehydrates on next access.
//   - A session with an in-flight turn is never evicted.
//
// Usage:
//
//	hub, err := sessionhub.New(sessionhub.Config{
//		Store:        store,
//		Providers:    table,
//		DefaultModel: "gpt-4o",
//	})
//	orch, err := hub.Get(ctx, "default")
package sessionhub
