package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/internal/tracing"
	"github.com/hfaried/parley/pkg/chat"
	"github.com/hfaried/parley/pkg/identity"
	"github.com/hfaried/parley/pkg/provider"
	"github.com/hfaried/parley/pkg/turnqueue"
)

// errorReply is the synthetic assistant message appended when a turn
// fails.
const errorReply = "Sorry, I encountered an error processing your request."

// turnWarnAfterMs flags turns that sit queued behind a slow lane.
const turnWarnAfterMs = 10000

// TurnRequest is one submitted chat turn. A non-empty Model overrides
// the session's active model for this and all subsequent turns.
type TurnRequest struct {
	Message string
	Model   string
	Stream  bool
}

// Transcript persists a session's messages. Append adds one record;
// Rewrite replaces the whole log, used after pruning and clearing.
type Transcript interface {
	Append(ctx context.Context, msg chat.Message) error
	Rewrite(ctx context.Context, msgs []chat.Message) error
}

// ToolExecutor runs a batch of requested tool calls to completion.
// Every returned call carries a result, error payloads included.
type ToolExecutor interface {
	ExecuteBatch(ctx context.Context, requests []provider.ToolCallRequest) []chat.ToolCall
}

// EventSink receives turn lifecycle and chunk events for observers.
type EventSink interface {
	Publish(event string, data map[string]interface{})
}

// Orchestrator drives one session's conversation: it owns the
// session's state, and every mutation runs as a task on the session's
// queue lane.
type Orchestrator struct {
	key          string
	state        *chat.ChatState
	stateMu      sync.RWMutex
	adapter      provider.Adapter
	providers    *provider.Table
	identities   identity.Resolver
	queue        *turnqueue.TurnQueue
	transcript   Transcript
	tools        ToolExecutor
	events       EventSink
	defaultModel string
	newAdapter   func(provider.Config) (provider.Adapter, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithIdentities attaches the resolver consulted whenever the active
// model changes.
func WithIdentities(r identity.Resolver) Option {
	return func(o *Orchestrator) { o.identities = r }
}

// WithDefaultModel sets the model used when the session state carries
// none.
func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) { o.defaultModel = model }
}

// WithTranscript attaches the session's persistence log.
func WithTranscript(t Transcript) Option {
	return func(o *Orchestrator) { o.transcript = t }
}

// WithToolExecutor attaches the bridge that runs requested tool calls.
func WithToolExecutor(exec ToolExecutor) Option {
	return func(o *Orchestrator) { o.tools = exec }
}

// WithEvents attaches an observer event sink.
func WithEvents(sink EventSink) Option {
	return func(o *Orchestrator) { o.events = sink }
}

// WithAdapterFactory overrides provider adapter construction.
func WithAdapterFactory(f func(provider.Config) (provider.Adapter, error)) Option {
	return func(o *Orchestrator) { o.newAdapter = f }
}

// New builds the orchestrator for one session. The adapter for the
// active model is constructed eagerly, so a session that cannot be
// served fails here rather than on first use.
func New(key string, state *chat.ChatState, providers *provider.Table, queue *turnqueue.TurnQueue, opts ...Option) (*Orchestrator, error) {
	if strings.TrimSpace(key) == "" {
		return nil, &ValidationError{Reason: "session key must not be empty"}
	}
	if providers == nil {
		return nil, errors.New("provider table is required")
	}
	if queue == nil {
		return nil, errors.New("turn queue is required")
	}
	if state == nil {
		state = chat.NewState()
	}

	o := &Orchestrator{
		key:        key,
		state:      state,
		providers:  providers,
		queue:      queue,
		newAdapter: provider.New,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.state.Model == "" {
		o.state.Model = o.defaultModel
	}
	if o.state.Model == "" {
		return nil, &ConfigurationError{Err: errors.New("no model configured for session")}
	}

	adapter, err := o.buildAdapter(o.state.Model)
	if err != nil {
		return nil, err
	}
	o.adapter = adapter
	return o, nil
}

// buildAdapter resolves a model name to its identity and provider
// config and constructs the adapter. Pure with respect to session
// state, so it can run before any mutation is committed.
func (o *Orchestrator) buildAdapter(model string) (provider.Adapter, error) {
	var id identity.Identity
	if o.identities != nil {
		id = o.identities.Resolve(model)
	}

	var cfg provider.Config
	var err error
	if id.Provider != "" {
		// The identity pins its model to a family the selector would
		// not necessarily choose.
		cfg, err = o.providers.ConfigFor(provider.Kind(id.Provider))
	} else {
		_, cfg, err = o.providers.Lookup(model)
	}
	if err != nil {
		return nil, &ConfigurationError{Model: model, Err: err}
	}

	if id.SystemPrompt != "" {
		cfg.SystemPrompt = id.SystemPrompt
	}
	if id.Personality != "" {
		cfg.Personality = id.Personality
	}

	adapter, err := o.newAdapter(cfg)
	if err != nil {
		return nil, &ConfigurationError{Model: model, Err: err}
	}
	return adapter, nil
}

// Submit validates and enqueues one turn. It returns once the turn has
// started: user message appended, session Processing, handle live. The
// turn then runs to settle inside the session lane regardless of
// whether the submitting request sticks around.
//
// Validation and model resolution happen here, before anything is
// enqueued: a rejected turn leaves no trace in the session.
func (o *Orchestrator) Submit(ctx context.Context, req TurnRequest) (*StreamHandle, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &ValidationError{Reason: "message must not be empty"}
	}

	model := strings.TrimSpace(req.Model)
	var adapter provider.Adapter
	if model != "" {
		var err error
		adapter, err = o.buildAdapter(model)
		if err != nil {
			return nil, err
		}
	}

	handle := newStreamHandle()
	turnCtx := tracing.CloneContext(ctx)
	results := o.queue.EnqueueAsync(turnCtx, o.key, func(taskCtx context.Context) (interface{}, error) {
		return o.runTurn(taskCtx, req, model, adapter, handle)
	}, &turnqueue.TaskOptions{WarnAfterMs: turnWarnAfterMs})

	select {
	case <-handle.started:
		return handle, nil
	case res := <-results:
		// Settled without starting: a lane reset while queued, or an
		// idempotent replay served from the queue's cache.
		if res.Err != nil {
			handle.settle(nil, res.Err)
			return nil, res.Err
		}
		if cached, ok := res.Value.(*Result); ok {
			handle.settle(cached, nil)
			return handle, nil
		}
		handle.settle(nil, nil)
		return handle, nil
	case <-ctx.Done():
		// The submitter gave up while the turn was still queued; the
		// task aborts before touching state.
		handle.Cancel()
		return nil, ctx.Err()
	}
}

// runTurn executes one turn inside the session lane. Exactly one
// runTurn per session is active at any moment.
func (o *Orchestrator) runTurn(ctx context.Context, req TurnRequest, model string, adapter provider.Adapter, handle *StreamHandle) (interface{}, error) {
	if handle.isCancelled() {
		// Abandoned before starting; nothing was mutated.
		handle.settle(nil, context.Canceled)
		return nil, context.Canceled
	}

	ctx = tracing.NewTurnContext(ctx, o.key)

	o.stateMu.Lock()
	if adapter != nil {
		// Same-turn model override: name and adapter swap together.
		o.state.Model = model
		o.adapter = adapter
	}
	active := o.adapter
	activeModel := o.state.Model
	sid := o.state.SessionID
	history := o.state.History()
	o.state.Append(chat.NewMessage(chat.RoleUser, req.Message))
	userMsg := o.state.Messages[len(o.state.Messages)-1]
	o.state.IsProcessing = true
	o.state.StreamingMessage = ""
	o.stateMu.Unlock()

	ctx, span := tracing.StartSpan(
		ctx,
		"parley.orchestrator",
		"orchestrator.run_turn",
		attribute.String("session_key", o.key),
		attribute.String("model", activeModel),
	)
	defer span.End()

	o.persistAppend(ctx, userMsg)
	o.publish("turn_started", map[string]interface{}{
		"sessionId": sid,
		"model":     activeModel,
	})
	handle.markStarted()

	start := time.Now()
	kind := string(active.Kind())

	var onChunk func(string)
	if req.Stream {
		onChunk = func(delta string) {
			o.stateMu.Lock()
			o.state.StreamingMessage += delta
			o.stateMu.Unlock()
			observability.RecordStreamChunk(kind)
			o.publish("turn_chunk", map[string]interface{}{
				"sessionId": sid,
				"content":   delta,
			})
			handle.deliver(delta)
		}
	}

	preq := provider.Request{
		Model:    activeModel,
		History:  history,
		UserText: req.Message,
		Stream:   req.Stream,
		OnChunk:  onChunk,
	}

	resp, err := active.Send(ctx, preq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, o.failTurn(ctx, handle, sid, kind, start, err)
	}

	content := resp.Content
	var executed []chat.ToolCall
	if len(resp.ToolCalls) > 0 {
		executed = o.executeTools(ctx, resp.ToolCalls)

		preq.ToolTurn = &provider.ToolTurn{Calls: executed}
		follow, err := active.Send(ctx, preq)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, o.failTurn(ctx, handle, sid, kind, start, err)
		}
		// The client streamed both legs, so the finalized content is
		// their concatenation.
		content += follow.Content
	}

	reply := chat.NewMessage(chat.RoleAssistant, content)
	reply.ToolCalls = executed

	o.stateMu.Lock()
	o.state.Append(reply)
	reply = o.state.Messages[len(o.state.Messages)-1]
	o.state.IsProcessing = false
	o.state.StreamingMessage = ""
	pruned := o.state.Prune()
	var snapshot []chat.Message
	if pruned > 0 {
		snapshot = append([]chat.Message(nil), o.state.Messages...)
	}
	o.stateMu.Unlock()

	if pruned > 0 {
		observability.RecordSessionPrune(pruned)
		o.persistRewrite(ctx, snapshot)
	} else {
		o.persistAppend(ctx, reply)
	}

	duration := time.Since(start)
	observability.RecordTurn(kind, duration, true)
	observability.RecordTurnAudit(ctx, o.key, "completed", map[string]interface{}{
		"model":     activeModel,
		"toolCalls": len(executed),
	})
	o.publish("turn_completed", map[string]interface{}{
		"sessionId":  sid,
		"model":      activeModel,
		"durationMs": duration.Milliseconds(),
	})
	log.Info().
		Str("session_key", o.key).
		Str("model", activeModel).
		Dur("duration", duration).
		Int("tool_calls", len(executed)).
		Msg("Turn completed")

	result := &Result{Message: reply}
	handle.settle(result, nil)
	return result, nil
}

// failTurn appends the synthetic error reply, resets transient state,
// and settles the handle. The cause is returned for the gateway to
// log; the session stays usable.
func (o *Orchestrator) failTurn(ctx context.Context, handle *StreamHandle, sid, kind string, start time.Time, cause error) error {
	synthetic := chat.NewMessage(chat.RoleAssistant, errorReply)
	synthetic.IncludeInHistory = false

	o.stateMu.Lock()
	o.state.Append(synthetic)
	synthetic = o.state.Messages[len(o.state.Messages)-1]
	o.state.IsProcessing = false
	o.state.StreamingMessage = ""
	pruned := o.state.Prune()
	var snapshot []chat.Message
	if pruned > 0 {
		snapshot = append([]chat.Message(nil), o.state.Messages...)
	}
	o.stateMu.Unlock()

	if pruned > 0 {
		observability.RecordSessionPrune(pruned)
		o.persistRewrite(ctx, snapshot)
	} else {
		o.persistAppend(ctx, synthetic)
	}

	duration := time.Since(start)
	observability.RecordTurn(kind, duration, false)
	observability.RecordTurnAudit(ctx, o.key, "failed", map[string]interface{}{
		"error": cause.Error(),
	})
	o.publish("turn_failed", map[string]interface{}{
		"sessionId": sid,
		"error":     cause.Error(),
	})
	log.Error().
		Str("session_key", o.key).
		Dur("duration", duration).
		Err(cause).
		Msg("Turn failed")

	handle.settle(nil, cause)
	return cause
}

// executeTools runs the batch through the configured executor. With no
// executor configured every call resolves to an error result, so the
// follow-up round-trip still happens and the invariant that executed
// calls always carry a result holds.
func (o *Orchestrator) executeTools(ctx context.Context, requests []provider.ToolCallRequest) []chat.ToolCall {
	if o.tools == nil {
		out := make([]chat.ToolCall, 0, len(requests))
		for _, req := range requests {
			out = append(out, chat.ToolCall{
				ID:     req.ID,
				Name:   req.Name,
				Result: map[string]interface{}{"error": "tool execution is not configured"},
			})
		}
		return out
	}
	return o.tools.ExecuteBatch(ctx, requests)
}

// SetModel switches the session's active model: a turn with no
// message. Resolution happens before the swap is enqueued; the swap
// itself is lane-serialized so it lands between turns, never inside
// one.
func (o *Orchestrator) SetModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return &ValidationError{Reason: "model must not be empty"}
	}

	adapter, err := o.buildAdapter(model)
	if err != nil {
		return err
	}

	_, err = o.queue.EnqueueWithContext(ctx, o.key, func(taskCtx context.Context) (interface{}, error) {
		o.stateMu.Lock()
		o.state.Model = model
		o.adapter = adapter
		sid := o.state.SessionID
		o.stateMu.Unlock()

		observability.RecordModelAudit(taskCtx, o.key, model)
		o.publish("model_changed", map[string]interface{}{
			"sessionId": sid,
			"model":     model,
		})
		log.Info().Str("session_key", o.key).Str("model", model).Msg("Model switched")
		return nil, nil
	}, nil)
	return err
}

// Clear empties the session's history and truncates its transcript,
// retaining the session id. Lane-serialized: a running turn settles
// first, and turns queued behind the clear run against empty history.
func (o *Orchestrator) Clear(ctx context.Context) error {
	_, err := o.queue.EnqueueWithContext(ctx, o.key, func(taskCtx context.Context) (interface{}, error) {
		o.stateMu.Lock()
		o.state.Clear()
		sid := o.state.SessionID
		o.stateMu.Unlock()

		o.persistRewrite(taskCtx, nil)
		observability.RecordSessionAudit(taskCtx, o.key, "cleared")
		o.publish("session_cleared", map[string]interface{}{"sessionId": sid})
		log.Info().Str("session_key", o.key).Msg("Session cleared")
		return nil, nil
	}, nil)
	return err
}

// State returns a read snapshot of the session. Reads never enter the
// lane.
func (o *Orchestrator) State() *chat.ChatState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state.Clone()
}

// Key returns the session key the orchestrator serves.
func (o *Orchestrator) Key() string {
	return o.key
}

func (o *Orchestrator) persistAppend(ctx context.Context, msg chat.Message) {
	if o.transcript == nil {
		return
	}
	if err := o.transcript.Append(ctx, msg); err != nil {
		log.Warn().Str("session_key", o.key).Err(err).Msg("Transcript append failed")
	}
}

func (o *Orchestrator) persistRewrite(ctx context.Context, msgs []chat.Message) {
	if o.transcript == nil {
		return
	}
	if err := o.transcript.Rewrite(ctx, msgs); err != nil {
		log.Warn().Str("session_key", o.key).Err(err).Msg("Transcript rewrite failed")
	}
}

func (o *Orchestrator) publish(event string, data map[string]interface{}) {
	if o.events == nil {
		return
	}
	o.events.Publish(event, data)
}
