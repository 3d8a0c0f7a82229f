// Package realtime pushes cycle events to dashboard clients over
// Server-Sent Events and websockets.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"agripredict/logger"
)

// Event names broadcast by the retrainer.
const (
	EventCycleStarted   = "cycle_started"
	EventCycleFailed    = "cycle_failed"
	EventModelPublished = "model_published"
)

// Message is the envelope every client receives.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  time.Time   `json:"sent_at"`
}

// Broker fans broadcast messages out to subscribed clients
type Broker struct {
	clients    map[chan []byte]bool
	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
	done       chan struct{}
	mu         sync.RWMutex
}

// NewBroker creates a new broker
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[chan []byte]bool),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 100),
		done:       make(chan struct{}),
	}
}

// Run starts the broker loop and returns when ctx is done
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			for client := range b.clients {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			total := len(b.clients)
			b.mu.Unlock()
			logger.Debug().Int("clients", total).Msg("Realtime client connected")

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			total := len(b.clients)
			b.mu.Unlock()
			logger.Debug().Int("clients", total).Msg("Realtime client disconnected")

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
					// Skip if client buffer is full to prevent blocking
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Subscribe registers a new client channel. The channel is closed after
// Unsubscribe or when the broker stops.
func (b *Broker) Subscribe(ctx context.Context) (chan []byte, error) {
	client := make(chan []byte, 16)
	select {
	case b.register <- client:
		return client, nil
	case <-b.done:
		return nil, fmt.Errorf("broker stopped")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe removes a client channel
func (b *Broker) Unsubscribe(client chan []byte) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// Clients returns the number of connected clients
func (b *Broker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP handles the SSE endpoint
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.Subscribe(r.Context())
	if err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.Unsubscribe(client)
			return
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// Broadcast sends an event to all connected clients. It never blocks; when
// the buffer is full the event is dropped.
func (b *Broker) Broadcast(event string, payload interface{}) {
	jsonBytes, err := json.Marshal(Message{Event: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		logger.Error().Err(err).Str("event", event).Msg("Error marshalling broadcast message")
		return
	}

	select {
	case b.broadcast <- jsonBytes:
	default:
		logger.Warn().Str("event", event).Msg("⚠️ Broadcast buffer full, dropping event")
	}
}
