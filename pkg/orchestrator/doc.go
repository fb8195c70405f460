// Package orchestrator runs the conversation state machine for one
// session: it owns the session's ChatState, serializes every mutation
// through the session's turn lane, and drives provider calls,
// streaming, and tool round-trips for each submitted turn.
//
// Invariants:
//   - A session is Idle or Processing, never both; turn N+1 cannot
//     start until turn N has fully settled.
//   - Validation and model resolution precede any state mutation: a
//     rejected turn leaves no trace.
//   - A model override is atomic with its turn: no observer sees a
//     stale adapter paired with the new model name.
//   - A failed turn appends exactly one synthetic assistant message,
//     visible in chat but excluded from future model context, and
//     leaves the session usable.
//   - History is pruned to the stored bound only at turn finalization,
//     never mid-turn.
//
// Usage:
//
//	orch, err := orchestrator.New("default", state, table, queue,
//		orchestrator.WithTranscript(transcript),
//		orchestrator.WithToolExecutor(bridge),
//	)
//	handle, err := orch.Submit(ctx, orchestrator.TurnRequest{
//		Message: "hello",
//		Stream:  true,
//	})
//	for delta := range handle.Chunks() {
//		// write delta to the client
//	}
//	result, err := handle.Wait(ctx)
package orchestrator
