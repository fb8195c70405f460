// Package toolbridge executes batches of model-requested tool calls
// against a tool registry.
//
// Invariants:
// - Calls in a batch run independently and concurrently.
// - Results preserve request order and always carry a result payload,
//   either the handler output or an {"error": ...} map.
// - One call failing (bad arguments, unknown tool, handler error,
//   panic, timeout) never fails or blocks the rest of the batch.
//
// Usage:
//
//	bridge := toolbridge.New(toolbridge.Builtins())
//	results := bridge.ExecuteBatch(ctx, requests)
//	_ = results
package toolbridge
