package orchestrator

import (
	"context"
	"sync"

	"github.com/hfaried/parley/pkg/chat"
)

// chunkBuffer gives a slow receiver some slack before deliveries
// apply backpressure to the turn.
const chunkBuffer = 32

// Result is a settled turn: the finalized assistant message as it was
// appended to the session.
type Result struct {
	Message chat.Message
}

// StreamHandle is the caller's view of one in-flight turn. Chunks
// delivers content deltas in adapter order; the channel closes when
// the turn settles, success or failure. A caller that stops receiving
// before the channel closes must call Cancel, otherwise delivery
// backpressure stalls the turn.
type StreamHandle struct {
	chunks    chan string
	started   chan struct{}
	done      chan struct{}
	cancelled chan struct{}

	startOnce  sync.Once
	cancelOnce sync.Once
	settleOnce sync.Once

	result *Result
	err    error
}

func newStreamHandle() *StreamHandle {
	return &StreamHandle{
		chunks:    make(chan string, chunkBuffer),
		started:   make(chan struct{}),
		done:      make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

// Chunks returns the delta stream. Empty and immediately closed for
// non-streaming turns.
func (h *StreamHandle) Chunks() <-chan string {
	return h.chunks
}

// Wait blocks until the turn settles, returning the finalized message
// or the turn's error. Waiting again returns the same settled result.
func (h *StreamHandle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel signals that the receiver is gone. The turn keeps running to
// settle; only chunk delivery stops. Safe to call more than once.
func (h *StreamHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancelled) })
}

// markStarted publishes that the turn's user message is appended and
// the session is Processing.
func (h *StreamHandle) markStarted() {
	h.startOnce.Do(func() { close(h.started) })
}

// deliver hands one delta to the receiver, dropping it once the handle
// is cancelled.
func (h *StreamHandle) deliver(delta string) {
	select {
	case <-h.cancelled:
	case h.chunks <- delta:
	}
}

// isCancelled reports whether the receiver abandoned the handle.
func (h *StreamHandle) isCancelled() bool {
	select {
	case <-h.cancelled:
		return true
	default:
		return false
	}
}

// settle records the outcome and closes the stream. All deliveries
// happen before settle, so receivers draining Chunks see every delta
// before the close.
func (h *StreamHandle) settle(result *Result, err error) {
	h.settleOnce.Do(func() {
		h.result = result
		h.err = err
		close(h.chunks)
		close(h.done)
	})
}
