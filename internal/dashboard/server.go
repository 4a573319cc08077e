// Package dashboard provides the real-time WebSocket feed consumed by the
// overlay and quick-add windows: record-change notifications and sync-status
// updates.
//
// The presentation layer itself lives outside this repository; it connects
// to the loopback listener started by the daemon command and re-renders on
// every message.
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

	"github.com/mkrause/deskpad/internal/engine"
	"github.com/mkrause/deskpad/internal/schema"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeRecordChange indicates records in a table were mutated.
	MessageTypeRecordChange MessageType = "record_change"

	// MessageTypeSyncStatus carries the engine's current sync status.
	MessageTypeSyncStatus MessageType = "sync_status"
)

// Message is a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// RecordChangeData identifies which record collection changed.
type RecordChangeData struct {
	Table schema.Table `json:"table"`
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on. Loopback only by default; the UI runs on the same
	// machine.
	Addr string

	// Logger for server activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:   "127.0.0.1:7317",
		Logger: log.Default(),
	}
}

// Server manages WebSocket connections and broadcasts dashboard messages.
// It doubles as a service observer and an engine status listener, so wiring
// is a matter of registering it with both.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger

	statusMu   sync.Mutex
	lastStatus engine.Status
}

// NewServer creates a dashboard server. A nil config uses DefaultConfig.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      config.Addr,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// RecordsChanged implements the service observer interface.
func (s *Server) RecordsChanged(table schema.Table) {
	data, err := json.Marshal(RecordChangeData{Table: table})
	if err != nil {
		s.logger.Printf("Failed to marshal record change: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeRecordChange, Data: data})
}

// SyncStatusChanged is an engine StatusListener.
func (s *Server) SyncStatusChanged(status engine.Status) {
	s.statusMu.Lock()
	s.lastStatus = status
	s.statusMu.Unlock()

	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Printf("Failed to marshal sync status: %v", err)
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncStatus, Data: data})
}

// Start begins the HTTP server and WebSocket handler.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

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
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
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
	return nil
}

// Broadcast sends a message to all connected clients. Never blocks; a full
// channel drops the message, since a fresh status follows shortly anyway.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

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

	// New clients get the last known status immediately so the overlay can
	// render without waiting for the next round.
	s.statusMu.Lock()
	status := s.lastStatus
	s.statusMu.Unlock()

	if data, err := json.Marshal(status); err == nil {
		welcome := Message{Type: MessageTypeSyncStatus, Timestamp: time.Now(), Data: data}
		if welcomeData, err := json.Marshal(welcome); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = conn.Write(ctx, websocket.MessageText, welcomeData)
			cancel()
		}
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and notices client disconnects. Client
// messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

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

// handleStatus serves the last known sync status over plain HTTP for
// clients that do not want a socket.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.statusMu.Lock()
	status := s.lastStatus
	s.statusMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
