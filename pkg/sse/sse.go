package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Event represents a Server-Sent Event
type Event struct {
	ID      string
	Type    string
	Data    interface{}
	Retry   int
	Comment string
}

// Client represents an SSE client connection
type Client struct {
	ID      string
	Channel chan Event
	cancel  context.CancelFunc
}

// Logger is the logging surface the server needs
type Logger interface {
	Debug(string, ...any)
	Error(string, error, ...any)
}

// Server fans events out to connected clients. Broadcast never blocks: a
// client whose buffer is full is disconnected.
type Server struct {
	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
	buffer  int
	initial func() []Event
	logger  Logger
}

// NewServer creates a new SSE server
func NewServer(logger Logger) *Server {
	return &Server{
		clients: make(map[string]*Client),
		buffer:  100,
		logger:  logger,
	}
}

// OnConnect sets fn to produce the events every new client receives first,
// typically the current state. Must be set before serving.
func (s *Server) OnConnect(fn func() []Event) {
	s.initial = fn
}

// Start disconnects every client once ctx is done
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.Close()
	}()
}

// Close disconnects every client and refuses new ones
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, client := range s.clients {
		client.cancel()
		delete(s.clients, id)
	}
}

// Clients returns the number of connected clients
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// ServeHTTP handles SSE connections
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := &Client{
		ID:      "client-" + uuid.NewString(),
		Channel: make(chan Event, s.buffer),
		cancel:  cancel,
	}
	if !s.register(client) {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx buffering
	w.WriteHeader(http.StatusOK)

	initial := []Event{{Type: "connected", Data: map[string]string{"id": client.ID}}}
	if s.initial != nil {
		initial = append(initial, s.initial()...)
	}
	for _, event := range initial {
		if err := s.writeEvent(w, flusher, event); err != nil {
			s.logger.Error("failed to write SSE event", err, "client", client.ID)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-client.Channel:
			if err := s.writeEvent(w, flusher, event); err != nil {
				s.logger.Error("failed to write SSE event", err, "client", client.ID)
				return
			}
		}
	}
}

func (s *Server) register(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.ID] = c
	s.logger.Debug("SSE client registered", "id", c.ID)
	return true
}

func (s *Server) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; ok {
		delete(s.clients, c.ID)
		s.logger.Debug("SSE client unregistered", "id", c.ID)
	}
}

// Broadcast sends an event to all clients
func (s *Server) Broadcast(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, client := range s.clients {
		select {
		case client.Channel <- event:
		default:
			// slow consumer; it reconnects and gets the current state again
			s.logger.Debug("client channel full, disconnecting", "client", id)
			client.cancel()
			delete(s.clients, id)
		}
	}
}

// writeEvent writes an event to the response writer
func (s *Server) writeEvent(w http.ResponseWriter, flusher http.Flusher, event Event) error {
	if event.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.ID); err != nil {
			return err
		}
	}
	if event.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
			return err
		}
	}
	if event.Retry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n", event.Retry); err != nil {
			return err
		}
	}
	if event.Comment != "" {
		if _, err := fmt.Fprintf(w, ": %s\n", event.Comment); err != nil {
			return err
		}
	}

	if event.Data != nil {
		var dataStr string
		switch v := event.Data.(type) {
		case string:
			dataStr = v
		case []byte:
			dataStr = string(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			dataStr = string(data)
		}

		// Split data by newlines for proper SSE format
		for _, line := range strings.Split(strings.TrimSuffix(dataStr, "\n"), "\n") {
			if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
