// Package dashboard provides a real-time WebSocket server for monitoring
// the sync engine.
//
// The dashboard broadcasts session transitions and sync results to connected
// WebSocket clients, and serves the debug state and Prometheus metrics over
// plain HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jotworks/daybook/internal/router"
	"github.com/jotworks/daybook/internal/session"
	"github.com/jotworks/daybook/internal/syncer"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeSession indicates a session state transition
	MessageTypeSession MessageType = "session"

	// MessageTypeSyncComplete indicates a sync run finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeOnline indicates a connectivity change
	MessageTypeOnline MessageType = "online"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SessionData contains session transition information
type SessionData struct {
	Event  string `json:"event"`
	State  string `json:"state"`
	UserID string `json:"userId,omitempty"`
}

// OnlineData contains connectivity information
type OnlineData struct {
	Online bool `json:"online"`
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	rt       *router.Router
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 7319)
	Port int

	// Logger for server activity (default: log.Default())
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   7319,
		Logger: log.Default(),
	}
}

// NewServer creates a new dashboard WebSocket server over the given router.
func NewServer(rt *router.Router, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		rt:        rt,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Watch subscribes the server to session events so every transition is
// broadcast to connected clients.
func (s *Server) Watch(machine *session.Machine) {
	machine.Subscribe(func(ev session.Event) {
		data, err := json.Marshal(SessionData{
			Event:  ev.Kind.String(),
			State:  ev.State.String(),
			UserID: ev.UserID,
		})
		if err != nil {
			return
		}
		s.Broadcast(Message{Type: MessageTypeSession, Data: data})
	})
}

// BroadcastSync publishes a finished sync result.
func (s *Server) BroadcastSync(res *syncer.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncComplete, Data: data})
}

// BroadcastOnline publishes a connectivity change.
func (s *Server) BroadcastOnline(online bool) {
	data, _ := json.Marshal(OnlineData{Online: online})
	s.Broadcast(Message{Type: MessageTypeOnline, Data: data})
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/debug/state", s.handleDebugState)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock to avoid blocking broadcasts
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Initial state push so clients render without waiting for an event
	state := s.rt.Debug(r.Context())
	if data, err := json.Marshal(state); err == nil {
		msg, _ := json.Marshal(Message{Type: MessageTypeSession, Timestamp: time.Now(), Data: data})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, msg)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed, the loop only detects closes
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleDebugState returns the engine's introspection state as JSON.
func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.rt.Debug(r.Context()))
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Daybook Dashboard</title>
</head>
<body>
    <h1>Daybook Sync Dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Debug state: <a href="/debug/state">/debug/state</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
    <p>Connect a WebSocket client to receive real-time sync updates.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
