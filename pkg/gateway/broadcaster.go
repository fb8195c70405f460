package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hfaried/parley/internal/observability"
)

// EventBroadcaster fans turn lifecycle events out to every connected
// /ws observer. It satisfies orchestrator.EventSink, so a session hub
// publishes into it directly.
type EventBroadcaster struct {
	clients *ClientRegistry
	seq     uint64
}

// NewEventBroadcaster creates a broadcaster with its own client
// registry.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients: NewClientRegistry(),
	}
}

// Publish implements orchestrator.EventSink.
func (b *EventBroadcaster) Publish(event string, data map[string]interface{}) {
	b.Broadcast(event, data)
}

// Broadcast sends an event to all connected clients. The payload is
// marshaled once; every client receives the same bytes.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Seq:       b.nextSeq(),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		log.Error().
			Err(err).
			Str("event", msg.Event).
			Msg("Failed to marshal event")
		return
	}

	observability.RecordBroadcastEvent(msg.Event)

	clients := b.clients.All()
	if len(clients) == 0 {
		return
	}

	// One dead observer must not wedge the feed for the rest: a failed
	// write drops that client.
	for _, client := range clients {
		if err := client.send(jsonData); err != nil {
			log.Warn().
				Err(err).
				Str("clientId", client.ID).
				Str("event", msg.Event).
				Int64("seq", msg.Seq).
				Msg("Dropping observer after failed write")
			b.clients.Remove(client.ID)
			client.Conn.Close()
		}
	}
}

// ObserverCount returns the number of connected observers.
func (b *EventBroadcaster) ObserverCount() int {
	return b.clients.Count()
}

func (b *EventBroadcaster) nextSeq() int64 {
	return int64(atomic.AddUint64(&b.seq, 1))
}
