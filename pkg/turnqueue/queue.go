package turnqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// laneConcurrency is fixed at one: a session's state has a single
// writer, so its lane never runs two turns at once.
const laneConcurrency = 1

// Task represents an asynchronous turn operation to be executed
type Task func(ctx context.Context) (interface{}, error)

// TaskOptions provides configuration for task execution
type TaskOptions struct {
	WarnAfterMs int
	OnWait      func(waitMs int64, queuePos int)
}

// taskRecord tracks a turn's execution state
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	generation int
	enqueuedAt time.Time
	options    TaskOptions
	result     chan Result
}

// Result carries a settled turn's value or error.
type Result struct {
	Value interface{}
	Err   error
}

// laneState manages execution state for a single session lane
type laneState struct {
	generation int
	queue      []*taskRecord
	running    int
	activeIDs  map[string]bool
	mu         sync.Mutex
}

// EventHandler is a function that handles queue events
type EventHandler func(event Event)

// Event represents a queue event
type Event struct {
	Type   string                 // "enqueued" or "completed"
	Lane   string                 // Session lane name
	TaskID string                 // Turn task ID
	Data   map[string]interface{} // Additional event data
}

// TurnQueue serializes turns per session lane
type TurnQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	dedup     *dedupCache
	// Event handling
	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a new TurnQueue. Lanes are created on demand, one per
// session key.
func New() *TurnQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &TurnQueue{
		lanes:         make(map[string]*laneState),
		ctx:           ctx,
		cancel:        cancel,
		dedup:         newDedupCache(ctx, 5*time.Minute),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// ensureLane returns the lane, creating it if needed
func (tq *TurnQueue) ensureLane(lane string) *laneState {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()
	if exists {
		return ls
	}

	tq.mu.Lock()
	defer tq.mu.Unlock()
	if ls, exists = tq.lanes[lane]; !exists {
		ls = &laneState{
			queue:     make([]*taskRecord, 0),
			activeIDs: make(map[string]bool),
		}
		tq.lanes[lane] = ls
		log.Debug().Str("lane", lane).Msg("Lane initialized")
	}
	return ls
}

// Enqueue adds a turn to the session lane and waits for it to settle
func (tq *TurnQueue) Enqueue(lane string, task Task, options *TaskOptions) (interface{}, error) {
	return tq.EnqueueWithContext(context.Background(), lane, task, options)
}

// EnqueueWithContext adds a turn to the session lane and propagates
// context metadata. When the context carries a request ID, a repeated
// submission within the idempotency window returns the cached result
// instead of running the turn again.
func (tq *TurnQueue) EnqueueWithContext(ctx context.Context, lane string, task Task, options *TaskOptions) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"parley.turnqueue",
		"turnqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	if tracing.GetSessionKey(ctx) == "" {
		ctx = tracing.WithSessionKey(ctx, lane)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("session_key", lane).Logger()

	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		if cached, ok := tq.dedup.Get(requestID); ok {
			logger.Debug().Str("requestId", requestID).Msg("Duplicate turn served from cache")
			return cached.Value, cached.Err
		}
	}

	ls := tq.ensureLane(lane)

	tq.mu.Lock()
	tq.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, tq.taskIDSeq)
	tq.mu.Unlock()

	opts := TaskOptions{}
	if options != nil {
		opts = *options
	}

	record := &taskRecord{
		id:         taskID,
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		options:    opts,
		result:     make(chan Result, 1),
	}

	ls.mu.Lock()
	record.generation = ls.generation
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger.Debug().
		Str("lane", lane).
		Str("taskId", taskID).
		Int("queueSize", queueSize).
		Msg("Turn enqueued")

	observability.RecordQueueEnqueue(lane, queueSize)

	tq.emit(Event{
		Type:   "enqueued",
		Lane:   lane,
		TaskID: taskID,
		Data: map[string]interface{}{
			"queueSize": queueSize,
		},
	})

	if opts.WarnAfterMs > 0 {
		go tq.startWarnTimer(record, lane)
	}

	go tq.processLane(lane)

	result := <-record.result
	// A turn abandoned before it started is not a settled outcome, so
	// it must not consume the request's idempotency key.
	if requestID := tracing.GetRequestID(ctx); requestID != "" && !errors.Is(result.Err, context.Canceled) {
		tq.dedup.Set(requestID, result)
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	return result.Value, result.Err
}

// EnqueueAsync adds a turn to the session lane and returns a channel
// that receives the settled result. The channel is buffered, so the
// caller may abandon it.
func (tq *TurnQueue) EnqueueAsync(ctx context.Context, lane string, task Task, options *TaskOptions) <-chan Result {
	done := make(chan Result, 1)
	go func() {
		value, err := tq.EnqueueWithContext(ctx, lane, task, options)
		done <- Result{Value: value, Err: err}
	}()
	return done
}

// processLane starts queued turns for a lane while it has capacity
func (tq *TurnQueue) processLane(lane string) {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()
	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < laneConcurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]

		// Reject turns queued before the last lane reset
		if record.generation != ls.generation {
			record.result <- Result{
				Err: fmt.Errorf("turn cancelled by session reset"),
			}
			close(record.result)
			continue
		}

		ls.running++
		ls.activeIDs[record.id] = true

		logger := tracing.LoggerFromContext(record.ctx, log.Logger).With().Str("session_key", lane).Logger()
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Msg("Turn started")

		tq.wg.Add(1)
		go tq.executeTask(lane, ls, record)
	}
}

// executeTask runs a single turn and settles its result
func (tq *TurnQueue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer tq.wg.Done()

	taskCtx := record.ctx
	if taskCtx == nil {
		taskCtx = context.Background()
	}
	taskCtx, span := tracing.StartSpan(
		taskCtx,
		"parley.turnqueue",
		"turnqueue.run_turn",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	taskCtx = tracing.WithSessionKey(taskCtx, lane)
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("session_key", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(tq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()

	value, err := record.task(runCtx)

	duration := time.Since(startTime)

	ls.mu.Lock()
	ls.running--
	delete(ls.activeIDs, record.id)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- Result{Value: value, Err: err}
	close(record.result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Turn failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Dur("duration", duration).
			Msg("Turn completed")
	}

	observability.RecordQueueCompletion(lane, duration, err == nil, queueSize)

	tq.emit(Event{
		Type:   "completed",
		Lane:   lane,
		TaskID: record.id,
		Data: map[string]interface{}{
			"duration": duration.Milliseconds(),
			"success":  err == nil,
		},
	})

	go tq.processLane(lane)
}

// startWarnTimer warns when a turn has waited in queue past its threshold
func (tq *TurnQueue) startWarnTimer(record *taskRecord, lane string) {
	timer := time.NewTimer(time.Duration(record.options.WarnAfterMs) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		tq.mu.RLock()
		ls, exists := tq.lanes[lane]
		tq.mu.RUnlock()
		if !exists {
			return
		}

		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r.id == record.id {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			waitMs := time.Since(record.enqueuedAt).Milliseconds()
			log.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Int64("waitMs", waitMs).
				Int("queuePos", queuePos).
				Msg("Turn waiting longer than expected")

			if record.options.OnWait != nil {
				record.options.OnWait(waitMs, queuePos)
			}
		}
	case <-tq.ctx.Done():
		return
	}
}

// GetQueueSize returns the number of queued turns for a lane
func (tq *TurnQueue) GetQueueSize(lane string) int {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of currently executing turns for a lane
func (tq *TurnQueue) GetRunningCount(lane string) int {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// GetStats returns statistics for all lanes
func (tq *TurnQueue) GetStats() map[string]map[string]int {
	tq.mu.RLock()
	defer tq.mu.RUnlock()

	stats := make(map[string]map[string]int)
	for lane, ls := range tq.lanes {
		ls.mu.Lock()
		stats[lane] = map[string]int{
			"queued":  len(ls.queue),
			"running": ls.running,
		}
		ls.mu.Unlock()
	}

	return stats
}

// ClearLane rejects all queued turns in a lane. The running turn, if
// any, is left to settle on its own.
func (tq *TurnQueue) ClearLane(lane string) int {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()

	if !exists {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	count := len(ls.queue)

	for _, record := range ls.queue {
		record.result <- Result{
			Err: fmt.Errorf("session lane cleared"),
		}
		close(record.result)
	}

	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("cleared", count).Msg("Lane cleared")
	observability.SetQueueSize(lane, 0)

	return count
}

// ResetLane bumps the lane generation and rejects all queued turns.
// Turns enqueued before the reset but not yet dequeued are rejected
// when dequeued.
func (tq *TurnQueue) ResetLane(lane string) {
	tq.mu.RLock()
	ls, exists := tq.lanes[lane]
	tq.mu.RUnlock()

	if !exists {
		return
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.generation++

	for _, record := range ls.queue {
		record.result <- Result{
			Err: fmt.Errorf("turn cancelled by session reset"),
		}
		close(record.result)
	}

	ls.queue = make([]*taskRecord, 0)

	log.Info().Str("lane", lane).Int("generation", ls.generation).Msg("Lane reset")
	observability.SetQueueSize(lane, 0)
}

// DropLane removes an idle lane entirely. Returns false when the lane
// still has queued or running turns.
func (tq *TurnQueue) DropLane(lane string) bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	ls, exists := tq.lanes[lane]
	if !exists {
		return true
	}

	ls.mu.Lock()
	busy := ls.running > 0 || len(ls.queue) > 0
	ls.mu.Unlock()
	if busy {
		return false
	}

	delete(tq.lanes, lane)
	log.Debug().Str("lane", lane).Msg("Lane dropped")
	return true
}

// WaitForActive waits for all active turns to complete with timeout
func (tq *TurnQueue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		allDrained := true

		tq.mu.RLock()
		for _, ls := range tq.lanes {
			ls.mu.Lock()
			if len(ls.activeIDs) > 0 {
				allDrained = false
			}
			ls.mu.Unlock()
		}
		tq.mu.RUnlock()

		if allDrained {
			log.Info().Msg("All active turns completed")
			return true
		}

		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active turns")
			return false
		}

		<-ticker.C
	}
}

// Close gracefully shuts down the turn queue
func (tq *TurnQueue) Close() error {
	tq.cancel()
	tq.wg.Wait()
	tq.dedup.Stop()
	return nil
}

// On registers an event handler for a specific event type
func (tq *TurnQueue) On(eventType string, handler EventHandler) {
	tq.eventMu.Lock()
	defer tq.eventMu.Unlock()

	tq.eventHandlers[eventType] = append(tq.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (tq *TurnQueue) Off(eventType string) {
	tq.eventMu.Lock()
	defer tq.eventMu.Unlock()

	delete(tq.eventHandlers, eventType)
}

// emit emits an event synchronously to all registered handlers
func (tq *TurnQueue) emit(event Event) {
	tq.eventMu.RLock()
	handlers := tq.eventHandlers[event.Type]
	tq.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
