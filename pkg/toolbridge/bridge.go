package toolbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/internal/tracing"
	"github.com/hfaried/parley/pkg/chat"
	"github.com/hfaried/parley/pkg/provider"
)

// defaultCallTimeout bounds one tool handler.
const defaultCallTimeout = 30 * time.Second

// Bridge runs batches of requested tool calls against a registry.
type Bridge struct {
	registry    Registry
	callTimeout time.Duration
}

// New creates a bridge over a registry.
func New(registry Registry) *Bridge {
	observability.EnsureRegistered()
	return &Bridge{registry: registry, callTimeout: defaultCallTimeout}
}

// SetCallTimeout overrides the per-call handler bound.
func (b *Bridge) SetCallTimeout(d time.Duration) {
	if d > 0 {
		b.callTimeout = d
	}
}

// ExecuteBatch runs every requested call concurrently and returns one
// completed ToolCall per request, preserving input order. Each result
// carries either the handler output or an {"error": ...} payload; no
// call can fail the batch.
func (b *Bridge) ExecuteBatch(ctx context.Context, requests []provider.ToolCallRequest) []chat.ToolCall {
	if len(requests) == 0 {
		return nil
	}

	results := make([]chat.ToolCall, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req provider.ToolCallRequest) {
			defer wg.Done()
			results[i] = b.executeOne(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

// executeOne resolves arguments and dispatches a single call. Every
// failure mode folds into the call's own error payload.
func (b *Bridge) executeOne(ctx context.Context, req provider.ToolCallRequest) chat.ToolCall {
	call := chat.ToolCall{ID: req.ID, Name: req.Name}
	start := time.Now()

	args, err := parseArguments(req.Arguments)
	if err != nil {
		log.Warn().Str("tool", req.Name).Err(err).Msg("Tool arguments unparsable")
		call.Result = errorResult(fmt.Sprintf("invalid tool arguments: %v", err))
		observability.RecordToolInvocation(req.Name, time.Since(start), false)
		return call
	}
	call.Arguments = args

	if b.registry == nil || !b.registry.Has(req.Name) {
		call.Result = errorResult(fmt.Sprintf("tool not found: %s", req.Name))
		observability.RecordToolInvocation(req.Name, time.Since(start), false)
		return call
	}

	output, err := b.dispatch(ctx, req.Name, args)
	duration := time.Since(start)
	if err != nil {
		log.Error().Str("tool", req.Name).Dur("duration", duration).Err(err).Msg("Tool execution failed")
		call.Result = errorResult(err.Error())
		observability.RecordToolInvocation(req.Name, duration, false)
		observability.RecordToolAudit(ctx, req.Name, tracing.GetSessionKey(ctx), "failure", map[string]interface{}{
			"error": err.Error(),
		})
		return call
	}

	log.Debug().Str("tool", req.Name).Dur("duration", duration).Msg("Tool execution completed")
	call.Result = output
	observability.RecordToolInvocation(req.Name, duration, true)
	observability.RecordToolAudit(ctx, req.Name, tracing.GetSessionKey(ctx), "success", map[string]interface{}{
		"durationMs": duration.Milliseconds(),
	})
	return call
}

// dispatch runs the handler under the per-call timeout, recovering a
// panicking handler into an error.
func (b *Bridge) dispatch(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		output, err := b.registry.Execute(callCtx, name, args)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- output
	}()

	select {
	case output := <-resultChan:
		return output, nil
	case err := <-errChan:
		return nil, err
	case <-callCtx.Done():
		return nil, fmt.Errorf("tool execution timeout after %v", b.callTimeout)
	}
}

// parseArguments turns the raw wire payload into structured form. An
// empty payload is an empty argument map.
func parseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

func errorResult(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg}
}
