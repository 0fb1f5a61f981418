// ABOUTME: Reference loopsync server
// ABOUTME: Serves the time reference over HTTP and WebSocket plus the media player API
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loopsync/loopsync-go/internal/discovery"
	"github.com/loopsync/loopsync-go/internal/protocol"
	internalsync "github.com/loopsync/loopsync-go/internal/sync"
)

const (
	// ProtocolVersion is reported in server/hello
	ProtocolVersion = 1

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	Password   string // empty disables the password check
	EnableMDNS bool
	Debug      bool
	UseTUI     bool
}

// Server represents the loopsync server
type Server struct {
	config   Config
	serverID string

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Server clock (monotonic milliseconds since the epoch)
	clock *internalsync.MonotonicClock

	players *PlayerStore

	// WebSocket client management
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui       *ServerTUI
	startTime time.Time

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// Client represents a connected WebSocket client
type Client struct {
	ID       string
	Name     string
	PlayerID string
	Conn     *websocket.Conn

	probes int64

	// Output channel for messages
	sendChan chan protocol.Message

	mu sync.RWMutex
}

// New creates a new server instance
func New(config Config) *Server {
	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Players are not browsers; the password check guards access
				return true
			},
		},
		clock:     internalsync.NewMonotonicClock(),
		players:   NewPlayerStore(),
		clients:   make(map[string]*Client),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}

	s.mux.HandleFunc("GET "+protocol.SyncPath, s.handleSync)
	s.mux.HandleFunc("GET "+protocol.SyncWSPath, s.handleWebSocket)
	s.mux.HandleFunc("GET "+protocol.MediaPlayerPath+"{id}", s.handleGetPlayer)
	s.mux.HandleFunc("PATCH "+protocol.MediaPlayerPath+"{id}", s.handlePatchPlayer)

	return s
}

// Now returns the server clock in milliseconds.
func (s *Server) Now() int64 {
	return s.clock.LocalTime()
}

// Players returns the media player store.
func (s *Server) Players() *PlayerStore {
	return s.players
}

// Handler returns the HTTP handler with the password check applied.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Password != "" && r.URL.Query().Get("password") != s.config.Password {
			http.Error(w, "wrong password", http.StatusUnauthorized)
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Start starts the server and blocks until Stop is called
func (s *Server) Start() error {
	// Start TUI if enabled
	if s.config.UseTUI {
		s.tui = NewServerTUI()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tui.Start(s.config.Name, s.config.Port); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tuiRefreshLoop()
		}()
	}

	log.Printf("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	// Start mDNS advertisement if enabled
	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.config.Port,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			log.Printf("mDNS advertisement started")
		}
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("Sync server listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for stop signal, TUI quit, or server error
	var serverErr error
	var tuiQuitChan <-chan struct{}
	if s.tui != nil {
		tuiQuitChan = s.tui.QuitChan()
	}

	select {
	case <-s.stopChan:
		log.Printf("Server shutting down...")
	case <-tuiQuitChan:
		log.Printf("TUI quit requested, shutting down...")
		s.Stop()
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
		s.Stop()
	}

	// Mark server as shutting down to reject new connections
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.tui != nil {
		s.tui.Stop()
	}

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	s.closeClients()

	s.wg.Wait()
	log.Printf("Server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// handleSync answers a single HTTP sync probe
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// Capture receive time as early as possible
	received := s.Now()

	reqSentAt, err := strconv.ParseInt(r.URL.Query().Get("reqSentAt"), 10, 64)
	if err != nil {
		http.Error(w, "reqSentAt must be an integer", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	sent := s.Now()
	resp := protocol.SyncResponse{
		ReqSentAt:     &reqSentAt,
		ReqReceivedAt: &received,
		ResSentAt:     &sent,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("Error writing sync response: %v", err)
	}

	if s.config.Debug {
		log.Printf("[DEBUG] HTTP sync from %s: sent=%d received=%d", r.RemoteAddr, reqSentAt, received)
	}
}

// handleGetPlayer returns a media player record
func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	player, ok := s.players.Get(id)
	if !ok {
		http.Error(w, "media player not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(player)
}

// handlePatchPlayer applies a partial media player update
func (s *Server) handlePatchPlayer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var update protocol.MediaPlayerUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid media player update", http.StatusBadRequest)
		return
	}
	if update.Duration == nil && update.LastTimestamp == nil {
		http.Error(w, "empty media player update", http.StatusBadRequest)
		return
	}
	if (update.Duration != nil && *update.Duration < 0) || (update.LastTimestamp != nil && *update.LastTimestamp < 0) {
		http.Error(w, "values must not be negative", http.StatusUnprocessableEntity)
		return
	}

	player := s.players.Apply(id, update)

	if update.LastTimestamp != nil {
		log.Printf("Player %s loop started at %d (server now %d)", id, *update.LastTimestamp, s.Now())
	}
	if update.Duration != nil {
		log.Printf("Player %s clip duration %dms", id, *update.Duration)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(player)
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConnection(conn)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	// Wait for client/hello
	conn.SetReadDeadline(time.Now().Add(writeDeadline))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	if env.Type != protocol.TypeClientHello {
		log.Printf("Expected client/hello, got %s", env.Type)
		return
	}

	var hello protocol.ClientHello
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		log.Printf("Error unmarshaling client hello: %v", err)
		return
	}
	if hello.ClientID == "" {
		log.Printf("Client hello missing ClientID")
		return
	}

	log.Printf("Client hello: %s (ID: %s, player: %s)", hello.Name, hello.ClientID, hello.PlayerID)

	client := &Client{
		ID:       hello.ClientID,
		Name:     hello.Name,
		PlayerID: hello.PlayerID,
		Conn:     conn,
		sendChan: make(chan protocol.Message, 100),
	}

	// Check for duplicate client ID and register atomically
	s.clientsMu.Lock()
	if existing, exists := s.clients[hello.ClientID]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", hello.ClientID, existing.Name)
		conn.WriteJSON(protocol.Message{
			Type: "server/error",
			Payload: map[string]string{
				"error":   "duplicate_client_id",
				"message": "Client ID already connected",
			},
		})
		return
	}
	s.clients[client.ID] = client
	s.clientsMu.Unlock()

	writerDone := make(chan struct{})
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client.ID)
		s.clientsMu.Unlock()
		close(client.sendChan)
		<-writerDone
		log.Printf("Client disconnected: %s", client.Name)
	}()

	go func() {
		defer close(writerDone)
		s.clientWriter(client)
	}()

	s.sendMessage(client, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
	})

	// Read messages from client
	for {
		var msg protocol.Envelope
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !isClosedConn(err) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		s.handleClientMessage(client, msg)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// clientWriter sends queued messages to the client. server/time replies are
// stamped with the transmit time immediately before the write.
func (s *Server) clientWriter(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.sendChan:
			if !ok {
				return
			}

			if reply, isTime := msg.Payload.(protocol.ServerTime); isTime {
				reply.ServerTransmitted = s.Now()
				msg.Payload = reply
			}

			client.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := client.Conn.WriteJSON(msg); err != nil {
				log.Printf("Error writing message: %v", err)
				client.Conn.Close()
				drain(client.sendChan)
				return
			}

		case <-ticker.C:
			if err := client.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				client.Conn.Close()
				drain(client.sendChan)
				return
			}
		}
	}
}

// drain discards messages until the channel is closed.
func drain(ch <-chan protocol.Message) {
	for range ch {
	}
}

// handleClientMessage processes messages from clients
func (s *Server) handleClientMessage(client *Client, msg protocol.Envelope) {
	switch msg.Type {
	case protocol.TypeClientTime:
		s.handleTimeSync(client, msg.Payload)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

// handleTimeSync responds to time synchronization requests
func (s *Server) handleTimeSync(client *Client, payload json.RawMessage) {
	// Capture receive time as early as possible
	received := s.Now()

	var clientTime protocol.ClientTime
	if err := json.Unmarshal(payload, &clientTime); err != nil {
		log.Printf("Error unmarshaling client time: %v", err)
		return
	}

	client.mu.Lock()
	client.probes++
	client.mu.Unlock()

	if s.config.Debug {
		log.Printf("[DEBUG] Time sync for %s: sent=%d received=%d", client.Name, clientTime.ClientTransmitted, received)
	}

	response := protocol.ServerTime{
		ClientTransmitted: clientTime.ClientTransmitted,
		ServerReceived:    received,
	}

	if err := s.sendMessage(client, protocol.TypeServerTime, response); err != nil {
		log.Printf("Error sending server time: %v", err)
	}
}

// sendMessage queues a JSON message for a client
func (s *Server) sendMessage(client *Client, msgType string, payload interface{}) error {
	msg := protocol.Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case client.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}

// closeClients closes every open WebSocket so handlers return
func (s *Server) closeClients() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, client := range s.clients {
		client.Conn.Close()
	}
}

// ClientCount returns the number of connected WebSocket clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
