package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/docket/pkg/domain"
)

// EventView carries the full session view after an operation.
const EventView = "view"

// Message is one server-sent event.
type Message struct {
	Event string
	Data  json.RawMessage
}

// StreamManager handles active SSE connections
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- Message]struct{} // SessionID -> Set of Channels
}

func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- Message]struct{}),
	}
}

func (sm *StreamManager) Subscribe(sessionID string) (chan Message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Message, 16)
	if _, ok := sm.subscribers[sessionID]; !ok {
		sm.subscribers[sessionID] = make(map[chan<- Message]struct{})
	}
	sm.subscribers[sessionID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[sessionID]; ok {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, sessionID)
			}
		}
	}
}

func (sm *StreamManager) Broadcast(sessionID string, msg Message) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if subs, ok := sm.subscribers[sessionID]; ok {
		for ch := range subs {
			select {
			case ch <- msg:
			default:
				// Drop message if channel is full (slow client)
				slog.Warn("SSE: Client buffer full, dropping message", "session_id", sessionID, "event", msg.Event)
			}
		}
	}
}

// Subscribers returns the number of open streams for a session.
func (sm *StreamManager) Subscribers(sessionID string) int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers[sessionID])
}

// Hooks forwards controller events to the session's subscribers.
// Register them on the Manager with session.WithSessionHooks.
func (sm *StreamManager) Hooks() domain.Hooks {
	return domain.Hooks{
		OnPhaseChange: func(_ context.Context, e *domain.PhaseEvent) { sm.emit(e.SessionID, string(e.Type), e) },
		OnEcho:        func(_ context.Context, e *domain.EchoEvent) { sm.emit(e.SessionID, string(e.Type), e) },
		OnThinking:    func(_ context.Context, e *domain.ThinkingEvent) { sm.emit(e.SessionID, string(e.Type), e) },
		OnError:       func(_ context.Context, e *domain.ErrorEvent) { sm.emit(e.SessionID, string(e.Type), e) },
	}
}

func (sm *StreamManager) emit(sessionID, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("SSE: event encode failed", "event", event, "err", err)
		return
	}
	sm.Broadcast(sessionID, Message{Event: event, Data: data})
}

// SubscribeEvents handles the GET /sessions/{id}/events request (SSE).
// The optional "watch" query parameter filters by event name (comma separated).
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		slog.Error("SubscribeEvents: Streaming not supported")
		return
	}

	sessionID := chi.URLParam(r, "id")
	view, err := s.Manager.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	var watch map[string]bool
	if raw := r.URL.Query().Get("watch"); raw != "" {
		watch = make(map[string]bool)
		for _, name := range strings.Split(raw, ",") {
			watch[strings.TrimSpace(name)] = true
		}
	}

	ch, cancel := s.Streams.Subscribe(sessionID)
	defer cancel()
	s.logger.Info("SSE: Subscribing to Session Updates", "session_id", sessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	if watch == nil || watch[EventView] {
		if data, err := json.Marshal(view); err == nil {
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", EventView, data)
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "session_id", sessionID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if watch != nil && !watch[msg.Event] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
		}
	}
}
