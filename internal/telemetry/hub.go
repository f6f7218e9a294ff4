package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beacon-relay/brc/internal/config"
)

// Event represents one relay telemetry event in SSE form.
type Event struct {
	ID   int64          `json:"id,omitempty"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Relay event types published by the engine.
const (
	EventObservation = "observation"
	EventFrameSent   = "frameSent"
	EventSweep       = "sweep"
	EventReset       = "reset"
	EventHeartbeat   = "heartbeat"
	EventReady       = "ready"
)

// Client represents one SSE subscriber connection.
type Client struct {
	ID      string
	Writer  http.ResponseWriter
	Context context.Context
	Cancel  context.CancelFunc
	Events  chan Event
	once    sync.Once
	mu      sync.Mutex // guards Writer
}

// Hub fans relay events out to SSE subscribers with a bounded replay buffer.
//
// Lock ordering: h.mu before buffer.mu; Client channel close goes through
// sync.Once so handler exit and Stop cannot race.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	nextID  atomic.Int64

	buffer *eventBuffer

	cfg *config.RelayConfig

	heartbeatTicker *time.Ticker
	stopHeartbeat   chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// eventBuffer keeps the last N events for Last-Event-ID resume.
type eventBuffer struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHub creates a telemetry hub with the configured buffer size and
// heartbeat cadence.
func NewHub(cfg *config.RelayConfig) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		buffer:  &eventBuffer{capacity: cfg.EventBufferSize},
		cfg:     cfg,
		done:    make(chan struct{}),
	}
}

// Subscribe attaches an SSE client and blocks until it disconnects.
// A Last-Event-ID header replays the buffered events after that ID.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		ID:      fmt.Sprintf("client_%d", time.Now().UnixNano()),
		Writer:  w,
		Context: clientCtx,
		Cancel:  cancel,
		Events:  make(chan Event, 100),
	}

	lastEventID := int64(0)
	if lastIDStr := r.Header.Get("Last-Event-ID"); lastIDStr != "" {
		if id, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastEventID = id
		}
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	first := len(h.clients) == 1 && h.heartbeatTicker == nil
	if first {
		h.startHeartbeat()
	}
	h.mu.Unlock()

	if err := h.sendEventToClient(client, Event{
		ID:   h.nextID.Add(1),
		Type: EventReady,
		Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
	}); err != nil {
		h.unregisterClient(client.ID)
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	if lastEventID > 0 {
		for _, event := range h.buffer.eventsAfter(lastEventID) {
			if err := h.sendEventToClient(client, event); err != nil {
				h.unregisterClient(client.ID)
				return fmt.Errorf("failed to replay events: %w", err)
			}
		}
	}

	h.handleClient(client)
	return nil
}

// Publish assigns a monotonic ID, buffers the event for resume and fans it
// out to every subscriber. Slow subscribers get events dropped rather than
// blocking the relay.
func (h *Hub) Publish(event Event) error {
	if event.ID == 0 {
		event.ID = h.nextID.Add(1)
	}
	h.buffer.add(event)

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.Context.Done():
			continue
		case <-h.done:
			return nil
		case client.Events <- event:
		case <-time.After(100 * time.Millisecond):
			// Drop for this client.
		}
	}
	return nil
}

func (h *Hub) sendEventToClient(client *Client, event Event) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if event.ID > 0 {
		if _, err := fmt.Fprintf(client.Writer, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(client.Writer, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(client.Writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := client.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

func (h *Hub) handleClient(client *Client) {
	defer func() {
		client.once.Do(func() { close(client.Events) })
		h.unregisterClient(client.ID)
	}()

	for {
		select {
		case <-client.Context.Done():
			return
		default:
		}

		timeout := time.NewTimer(100 * time.Millisecond)
		select {
		case <-client.Context.Done():
			timeout.Stop()
			return
		case <-timeout.C:
			continue
		case event, ok := <-client.Events:
			timeout.Stop()
			if !ok {
				return
			}
			if err := h.sendEventToClient(client, event); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, exists := h.clients[clientID]
	if !exists {
		return
	}

	client.Cancel()
	delete(h.clients, clientID)

	if len(h.clients) == 0 && h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
		if h.stopHeartbeat != nil {
			close(h.stopHeartbeat)
			h.stopHeartbeat = nil
		}
	}
}

// startHeartbeat begins the heartbeat loop. Caller holds h.mu and has
// verified h.heartbeatTicker == nil.
func (h *Hub) startHeartbeat() {
	// Jitter spreads reconnect storms across containers.
	interval := h.cfg.HeartbeatInterval + time.Duration(float64(h.cfg.HeartbeatJitter)*0.5)

	h.heartbeatTicker = time.NewTicker(interval)
	h.stopHeartbeat = make(chan struct{})

	ticker := h.heartbeatTicker
	stopChan := h.stopHeartbeat

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticker.C:
				_ = h.Publish(Event{
					Type: EventHeartbeat,
					Data: map[string]any{"ts": time.Now().UTC().Format(time.RFC3339)},
				})
			case <-stopChan:
				return
			case <-h.done:
				return
			}
		}
	}()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop shuts the hub down and disconnects all subscribers.
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
	}
	if h.heartbeatTicker != nil {
		h.heartbeatTicker.Stop()
		h.heartbeatTicker = nil
	}
	if h.stopHeartbeat != nil {
		close(h.stopHeartbeat)
		h.stopHeartbeat = nil
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}

	h.mu.Lock()
	for _, client := range h.clients {
		client.Cancel()
		client.once.Do(func() { close(client.Events) })
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
}

func (b *eventBuffer) add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.capacity {
		b.events = b.events[1:]
	}
}

func (b *eventBuffer) eventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.ID > lastID {
			result = append(result, event)
		}
	}
	return result
}
