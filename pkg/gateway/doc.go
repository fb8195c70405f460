// Package gateway exposes chat sessions over HTTP.
//
// Four operations serve each session, in a bare form bound to the
// default session and a keyed /sessions/{key}/ form: GET /messages,
// POST /chat, DELETE /clear, POST /model. Every JSON response is the
// same envelope, {success, data?, error?}, where data is the session's
// ChatState after the operation.
//
// Invariants:
//   - Validation failures map to 400 with the reason, configuration
//     failures to 500 with the reason. Anything else maps to 500 with
//     the literal string "internal error"; backend error text never
//     crosses the boundary.
//   - Streaming turns respond text/event-stream with one
//     data: {"content": delta} event per chunk and a data: [DONE]
//     sentinel, flushed per event. A client that drops mid-stream is
//     logged and never blocks turn finalization.
//   - /ws is an observer feed: turn lifecycle events fan out to every
//     connected client, marshaled once, stamped with a monotonic
//     sequence number. A client whose write fails is dropped.
//
// Usage:
//
//	srv, err := gateway.NewServer(gateway.Config{Port: 8080, Hub: hub})
//	if err != nil {
//		return err
//	}
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Stop()
package gateway
