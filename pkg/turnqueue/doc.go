// Package turnqueue serializes chat turns per session lane.
//
// Invariants:
// - Turns in the same lane execute in FIFO order, one at a time.
// - Turns in different lanes may execute concurrently.
// - A lane reset rejects queued turns from the previous generation.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := turnqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue("session:abc", func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package turnqueue
