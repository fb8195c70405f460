package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hfaried/parley/internal/observability"
	"github.com/hfaried/parley/pkg/sessionhub"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
	Hub     *sessionhub.Hub
	// Broadcaster is optional: pass one that is already wired into the
	// hub's event sink, or leave nil for a standalone feed.
	Broadcaster *EventBroadcaster
}

// Server exposes a session hub over HTTP.
type Server struct {
	host           string
	port           int
	version        string
	hub            *sessionhub.Hub
	server         *http.Server
	upgrader       websocket.Upgrader
	broadcaster    *EventBroadcaster
	startedAt      time.Time
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// NewServer creates a gateway server over the given hub.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("session hub is required")
	}

	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = NewEventBroadcaster()
	}

	return &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		version:     cfg.Version,
		hub:         cfg.Hub,
		broadcaster: broadcaster,
		startedAt:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The feed carries no client commands.
			},
		},
	}, nil
}

// Broadcaster returns the event feed backing /ws.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.defaultSession(s.handleMessages))
	mux.HandleFunc("/chat", s.defaultSession(s.handleChat))
	mux.HandleFunc("/clear", s.defaultSession(s.handleClear))
	mux.HandleFunc("/model", s.defaultSession(s.handleModel))
	mux.HandleFunc("/sessions/", s.track(s.handleSessionRoute))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", s.track(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w)
	}))
	return mux
}

// Start begins serving. It returns once the listener goroutine is up.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}
	s.startedAt = time.Now()

	log.Info().Str("addr", s.server.Addr).Msg("Starting gateway")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Gateway server error")
		}
	}()

	// Give the listener a moment to come up.
	time.Sleep(50 * time.Millisecond)

	return nil
}

// Stop gracefully stops the server, draining in-flight requests.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	log.Info().Msg("Shutting down gateway")

	s.broadcaster.Broadcast("server_shutdown", map[string]interface{}{
		"message": "server is shutting down",
	})

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All in-flight requests completed")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	for _, client := range s.broadcaster.clients.All() {
		client.Conn.Close()
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	log.Info().Msg("Gateway stopped")
	return nil
}

// track wraps a handler with shutdown rejection and in-flight
// accounting so Stop can drain.
func (s *Server) track(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		if s.isShuttingDown {
			s.shutdownMu.RUnlock()
			writeEnvelope(w, http.StatusServiceUnavailable, Envelope{Success: false, Error: "server is shutting down"})
			return
		}
		s.shutdownMu.RUnlock()

		s.inFlight.Add(1)
		defer s.inFlight.Done()

		h(w, r)
	}
}

// defaultSession binds a keyed handler to the default session.
func (s *Server) defaultSession(h func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return s.track(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, sessionhub.DefaultSessionKey)
	})
}

// handleSessionRoute dispatches /sessions/{key}/{op} to the keyed
// handlers.
func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeNotFound(w)
		return
	}

	key := parts[0]
	switch parts[1] {
	case "messages":
		s.handleMessages(w, r, key)
	case "chat":
		s.handleChat(w, r, key)
	case "clear":
		s.handleClear(w, r, key)
	case "model":
		s.handleModel(w, r, key)
	default:
		writeNotFound(w)
	}
}

// handleWebSocket upgrades an observer onto the event feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, err := gonanoid.New()
	if err != nil {
		conn.Close()
		return
	}

	client := &Client{
		ID:          clientID,
		Conn:        conn,
		ConnectedAt: time.Now(),
		RemoteAddr:  r.RemoteAddr,
	}
	s.broadcaster.clients.Add(client)

	log.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Observer connected")

	go s.readUntilClosed(client)
}

// readUntilClosed consumes inbound frames until the peer goes away.
// The feed is one-directional, so inbound payloads are discarded.
func (s *Server) readUntilClosed(client *Client) {
	defer func() {
		client.Conn.Close()
		s.broadcaster.clients.Remove(client.ID)
		log.Info().Str("clientId", client.ID).Msg("Observer disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	payload := healthPayload{
		Status:  "ok",
		Uptime:  time.Since(s.startedAt).Round(time.Second).String(),
		Version: s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode health response")
	}
}
