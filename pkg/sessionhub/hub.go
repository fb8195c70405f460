package sessionhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/pkg/chat"
	"github.com/hfaried/parley/pkg/identity"
	"github.com/hfaried/parley/pkg/orchestrator"
	"github.com/hfaried/parley/pkg/provider"
	"github.com/hfaried/parley/pkg/turnqueue"
)

// DefaultSessionKey serves requests that do not name a session.
const DefaultSessionKey = "default"

// Config wires the hub's shared collaborators. Providers and
// DefaultModel are required; everything else is optional.
type Config struct {
	Store        *Store
	Queue        *turnqueue.TurnQueue
	Providers    *provider.Table
	Identities   identity.Resolver
	Tools        orchestrator.ToolExecutor
	Events       orchestrator.EventSink
	DefaultModel string

	// AdapterFactory overrides provider adapter construction, nil
	// means provider.New.
	AdapterFactory func(provider.Config) (provider.Adapter, error)
}

// Hub owns one orchestrator per session key. Orchestrators are created
// lazily, rehydrated from the transcript store when a log exists, and
// evicted from memory when idle; the transcript outlives them.
type Hub struct {
	store      *Store
	queue      *turnqueue.TurnQueue
	ownsQueue  bool
	providers  *provider.Table
	identities identity.Resolver
	tools      orchestrator.ToolExecutor
	events     orchestrator.EventSink
	model      string
	factory    func(provider.Config) (provider.Adapter, error)

	mu         sync.Mutex
	sessions   map[string]*orchestrator.Orchestrator
	lastActive map[string]time.Time
}

// New builds the hub. When no queue is supplied the hub owns one and
// closes it on Close.
func New(cfg Config) (*Hub, error) {
	if cfg.Providers == nil {
		return nil, errors.New("provider table is required")
	}
	if cfg.DefaultModel == "" {
		return nil, errors.New("default model is required")
	}

	h := &Hub{
		store:      cfg.Store,
		queue:      cfg.Queue,
		providers:  cfg.Providers,
		identities: cfg.Identities,
		tools:      cfg.Tools,
		events:     cfg.Events,
		model:      cfg.DefaultModel,
		factory:    cfg.AdapterFactory,
		sessions:   make(map[string]*orchestrator.Orchestrator),
		lastActive: make(map[string]time.Time),
	}
	if h.queue == nil {
		h.queue = turnqueue.New()
		h.ownsQueue = true
	}
	return h, nil
}

// Queue exposes the lane serializer shared by every session.
func (h *Hub) Queue() *turnqueue.TurnQueue {
	return h.queue
}

// sessionTranscript binds one session's key to the store, giving the
// orchestrator a Transcript without knowing about keys.
type sessionTranscript struct {
	store *Store
	key   string
}

func (t *sessionTranscript) Append(ctx context.Context, msg chat.Message) error {
	return t.store.Append(ctx, t.key, msg)
}

func (t *sessionTranscript) Rewrite(ctx context.Context, msgs []chat.Message) error {
	return t.store.Rewrite(ctx, t.key, msgs)
}

// Get returns the session's orchestrator, creating or rehydrating it
// on first access. Every access refreshes the session's idle clock.
func (h *Hub) Get(ctx context.Context, key string) (*orchestrator.Orchestrator, error) {
	if err := ValidateKey(key); err != nil {
		return nil, &orchestrator.ValidationError{Reason: err.Error()}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if orch, ok := h.sessions[key]; ok {
		h.lastActive[key] = time.Now()
		return orch, nil
	}

	state := chat.NewState()
	if h.store != nil {
		msgs, err := h.store.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		for _, msg := range msgs {
			state.Append(msg)
		}
		// The stored log may predate a lower bound; trim on load and
		// bring the file along.
		if pruned := state.Prune(); pruned > 0 {
			observability.RecordSessionPrune(pruned)
			if err := h.store.Rewrite(ctx, key, state.Messages); err != nil {
				log.Warn().Str("session_key", key).Err(err).Msg("Transcript trim failed")
			}
		}
		if len(msgs) > 0 {
			log.Info().Str("session_key", key).Int("messages", len(state.Messages)).Msg("Session rehydrated")
		}
	}

	opts := []orchestrator.Option{
		orchestrator.WithDefaultModel(h.model),
	}
	if h.identities != nil {
		opts = append(opts, orchestrator.WithIdentities(h.identities))
	}
	if h.store != nil {
		opts = append(opts, orchestrator.WithTranscript(&sessionTranscript{store: h.store, key: key}))
	}
	if h.tools != nil {
		opts = append(opts, orchestrator.WithToolExecutor(h.tools))
	}
	if h.events != nil {
		opts = append(opts, orchestrator.WithEvents(h.events))
	}
	if h.factory != nil {
		opts = append(opts, orchestrator.WithAdapterFactory(h.factory))
	}

	orch, err := orchestrator.New(key, state, h.providers, h.queue, opts...)
	if err != nil {
		return nil, err
	}

	h.sessions[key] = orch
	h.lastActive[key] = time.Now()
	observability.SetActiveSessions(len(h.sessions))
	return orch, nil
}

// Evict drops a session from memory if its lane is idle. The
// transcript survives. Reports whether the session was evicted.
func (h *Hub) Evict(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.evictLocked(key)
}

func (h *Hub) evictLocked(key string) bool {
	if _, ok := h.sessions[key]; !ok {
		return false
	}
	// A busy lane means a turn is running or queued; leave it alone.
	if !h.queue.DropLane(key) {
		return false
	}
	delete(h.sessions, key)
	delete(h.lastActive, key)
	observability.SetActiveSessions(len(h.sessions))
	return true
}

// EvictIdle removes every session idle longer than ttl, returning how
// many were evicted.
func (h *Hub) EvictIdle(ttl time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	evicted := 0
	for key, last := range h.lastActive {
		if last.After(cutoff) {
			continue
		}
		if h.evictLocked(key) {
			evicted++
		}
	}
	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("resident", len(h.sessions)).Msg("Idle sessions evicted")
	}
	return evicted
}

// ActiveCount reports how many sessions are resident in memory.
func (h *Hub) ActiveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close drains in-flight turns (bounded) and releases the hub's
// resources.
func (h *Hub) Close() error {
	if !h.queue.WaitForActive(30 * time.Second) {
		log.Warn().Msg("Timed out waiting for in-flight turns")
	}
	if h.ownsQueue {
		_ = h.queue.Close()
	}
	if h.store != nil {
		_ = h.store.Close()
	}

	h.mu.Lock()
	h.sessions = make(map[string]*orchestrator.Orchestrator)
	h.lastActive = make(map[string]time.Time)
	h.mu.Unlock()

	log.Info().Msg("Session hub closed")
	return nil
}
