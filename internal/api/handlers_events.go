package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/ouroboros/internal/events"
	"github.com/jordanhubbard/ouroboros/internal/logging"
)

const (
	keepaliveInterval = 30 * time.Second
	socketWriteWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// eventFilter matches the optional type and work_item_id query parameters.
func eventFilter(r *http.Request) func(*events.Event) bool {
	eventType := r.URL.Query().Get("type")
	workItemID := r.URL.Query().Get("work_item_id")
	return func(event *events.Event) bool {
		if eventType != "" && string(event.Type) != eventType {
			return false
		}
		if workItemID != "" && event.WorkItemID != workItemID {
			return false
		}
		return true
	}
}

// handleGetEvents handles GET requests for recent events
// GET /api/v1/events?type=xxx&limit=100
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.events == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Event bus not available")
		return
	}
	recent := s.events.RecentEvents(queryInt(r, "limit", 100), events.EventType(r.URL.Query().Get("type")))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": recent,
		"count":  len(recent),
	})
}

// handleEventStream handles SSE endpoint for real-time event updates
// GET /api/v1/events/stream
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.events == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Event bus not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	subscriberID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	subscriber := s.events.Subscribe(subscriberID, eventFilter(r))
	defer s.events.Unsubscribe(subscriberID)

	flusher, _ := w.(http.Flusher)
	fmt.Fprintf(w, "event: connected\ndata: {\"message\": \"Connected to event stream\"}\n\n")
	if flusher != nil {
		flusher.Flush()
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-subscriber.Channel:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleEventSocket streams events over a websocket: GET /ws/events
func (s *Server) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Event bus not available")
		return
	}
	log := logging.Component("api")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	subscriberID := fmt.Sprintf("ws-%d", time.Now().UnixNano())
	subscriber := s.events.Subscribe(subscriberID, eventFilter(r))
	defer s.events.Unsubscribe(subscriberID)

	// The read side only drains control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepaliveInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-subscriber.Channel:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Str("subscriber", subscriberID).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(socketWriteWait)); err != nil {
				return
			}
		}
	}
}
