package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hfaried/parley/internal/tracing"
	"github.com/hfaried/parley/pkg/chat"
	"github.com/hfaried/parley/pkg/orchestrator"
	"github.com/rs/zerolog/log"
)

// statusFor maps a session error to its HTTP status and boundary-safe
// message. Unclassified failures never leak their detail.
func statusFor(err error) (int, string) {
	var verr *orchestrator.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error()
	}
	var cerr *orchestrator.ConfigurationError
	if errors.As(err, &cerr) {
		return http.StatusInternalServerError, cerr.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Error().Err(err).Msg("Failed to encode gateway response")
	}
}

func writeState(w http.ResponseWriter, state *chat.ChatState) {
	writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: state})
}

func writeFailure(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeEnvelope(w, status, Envelope{Success: false, Error: msg})
}

func writeNotFound(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusNotFound, Envelope{Success: false, Error: "not found"})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeEnvelope(w, http.StatusMethodNotAllowed, Envelope{Success: false, Error: "method not allowed"})
}

// requestContext carries trace and idempotency identifiers in from the
// request headers. A client retrying with the same X-Request-Id gets
// the settled result of its first attempt instead of a second turn.
func requestContext(r *http.Request) context.Context {
	ctx := r.Context()
	traceID := r.Header.Get("X-Trace-Id")
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	ctx = tracing.WithTraceID(ctx, traceID)
	if requestID := r.Header.Get("X-Request-Id"); requestID != "" {
		ctx = tracing.WithRequestID(ctx, requestID)
	}
	return ctx
}

// handleMessages serves GET /messages and GET /sessions/{key}/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	orch, err := s.hub.Get(requestContext(r), key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeState(w, orch.State())
}

// handleChat serves POST /chat and POST /sessions/{key}/chat.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var body chatRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Success: false, Error: "invalid request body"})
		return
	}

	ctx := requestContext(r)
	orch, err := s.hub.Get(ctx, key)
	if err != nil {
		writeFailure(w, err)
		return
	}

	handle, err := orch.Submit(ctx, orchestrator.TurnRequest{
		Message: body.Message,
		Model:   body.Model,
		Stream:  body.Stream,
	})
	if err != nil {
		writeFailure(w, err)
		return
	}

	if body.Stream {
		s.streamTurn(w, r, orch, handle)
		return
	}

	if _, err := handle.Wait(ctx); err != nil {
		writeFailure(w, err)
		return
	}
	writeState(w, orch.State())
}

// handleClear serves DELETE /clear and DELETE /sessions/{key}/clear.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w)
		return
	}

	ctx := requestContext(r)
	orch, err := s.hub.Get(ctx, key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := orch.Clear(ctx); err != nil {
		writeFailure(w, err)
		return
	}
	writeState(w, orch.State())
}

// handleModel serves POST /model and POST /sessions/{key}/model.
func (s *Server) handleModel(w http.ResponseWriter, r *http.Request, key string) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var body modelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, Envelope{Success: false, Error: "invalid request body"})
		return
	}

	ctx := requestContext(r)
	orch, err := s.hub.Get(ctx, key)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := orch.SetModel(ctx, body.Model); err != nil {
		writeFailure(w, err)
		return
	}
	writeState(w, orch.State())
}

// streamTurn relays chunks as server-sent events. A write failure means
// the peer is gone: the handle is cancelled so buffered delivery stops,
// and the turn finalizes in the background regardless.
func (s *Server) streamTurn(w http.ResponseWriter, r *http.Request, orch *orchestrator.Orchestrator, handle *orchestrator.StreamHandle) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		// No incremental delivery possible; degrade to the buffered form.
		if _, err := handle.Wait(r.Context()); err != nil {
			writeFailure(w, err)
			return
		}
		writeState(w, orch.State())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for delta := range handle.Chunks() {
		payload, err := json.Marshal(map[string]string{"content": delta})
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			log.Warn().
				Err(err).
				Str("session_key", orch.Key()).
				Msg("Stream client disconnected")
			handle.Cancel()
			// Drain so the producer never waits on a dead reader.
			for range handle.Chunks() {
			}
			return
		}
		flusher.Flush()
	}

	if _, err := handle.Wait(r.Context()); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Debug().Str("session_key", orch.Key()).Msg("Stream client left before completion")
			return
		}
		log.Warn().
			Err(err).
			Str("session_key", orch.Key()).
			Msg("Streaming turn failed")
	}

	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return
	}
	flusher.Flush()
}
