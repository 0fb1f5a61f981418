// ABOUTME: WebSocket time reference for clock synchronization
// ABOUTME: Handles connection, handshake and client/time round trips
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loopsync/loopsync-go/internal/protocol"
	"github.com/loopsync/loopsync-go/internal/sync"
)

const handshakeTimeout = 5 * time.Second

// WSConfig holds WebSocket time reference configuration
type WSConfig struct {
	ServerURL  string // http(s) base url of the server
	Password   string
	ClientID   string
	Name       string
	Version    int
	PlayerID   string
	DeviceInfo protocol.DeviceInfo
	Dialer     *websocket.Dialer
}

// WSTimeReference answers sync probes over a persistent WebSocket. The
// connection is opened on first use and reopened after any error.
type WSTimeReference struct {
	config WSConfig
	wsURL  string

	mu   gosync.Mutex // one probe at a time
	conn *websocket.Conn
}

// NewWSTimeReference creates a WebSocket time reference
func NewWSTimeReference(config WSConfig) (*WSTimeReference, error) {
	u, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", config.ServerURL, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("invalid server url %q: unsupported scheme", config.ServerURL)
	}
	u.Path = protocol.SyncWSPath
	if config.Password != "" {
		u.RawQuery = url.Values{"password": []string{config.Password}}.Encode()
	}

	if config.ClientID == "" {
		config.ClientID = uuid.NewString()
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}

	return &WSTimeReference{config: config, wsURL: u.String()}, nil
}

// ClientID returns the id sent in client/hello.
func (c *WSTimeReference) ClientID() string {
	return c.config.ClientID
}

// Connect establishes the connection and performs the handshake
func (c *WSTimeReference) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked(ctx)
}

func (c *WSTimeReference) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	log.Printf("Connecting to %s", c.wsURL)

	conn, _, err := c.config.Dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	c.conn = conn
	return nil
}

// handshake performs the client/hello exchange
func (c *WSTimeReference) handshake(conn *websocket.Conn) error {
	hello := protocol.Message{
		Type: protocol.TypeClientHello,
		Payload: protocol.ClientHello{
			ClientID:   c.config.ClientID,
			Name:       c.config.Name,
			Version:    c.config.Version,
			PlayerID:   c.config.PlayerID,
			DeviceInfo: &c.config.DeviceInfo,
		},
	}

	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("failed to send client/hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return fmt.Errorf("failed to read server/hello: %w", err)
	}
	if env.Type != protocol.TypeServerHello {
		return fmt.Errorf("expected server/hello, got %s", env.Type)
	}

	var serverHello protocol.ServerHello
	if err := json.Unmarshal(env.Payload, &serverHello); err != nil {
		return fmt.Errorf("failed to parse server/hello: %w", err)
	}

	log.Printf("Handshake complete with server %s (%s)", serverHello.Name, serverHello.ServerID)
	return nil
}

// Sync performs one client/time round trip.
func (c *WSTimeReference) Sync(ctx context.Context, reqSentAt int64) (sync.ServerTimestamps, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return sync.ServerTimestamps{}, err
	}

	ts, err := c.roundTrip(ctx, reqSentAt)
	if err != nil {
		c.closeLocked()
		return sync.ServerTimestamps{}, err
	}
	return ts, nil
}

func (c *WSTimeReference) roundTrip(ctx context.Context, reqSentAt int64) (sync.ServerTimestamps, error) {
	conn := c.conn

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	// Unblock reads when ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	msg := protocol.Message{
		Type:    protocol.TypeClientTime,
		Payload: protocol.ClientTime{ClientTransmitted: reqSentAt},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return sync.ServerTimestamps{}, fmt.Errorf("failed to send client/time: %w", err)
	}

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return sync.ServerTimestamps{}, ctx.Err()
			}
			return sync.ServerTimestamps{}, fmt.Errorf("failed to read server/time: %w", err)
		}

		if env.Type != protocol.TypeServerTime {
			log.Printf("Ignoring message type %s while waiting for server/time", env.Type)
			continue
		}

		var st protocol.ServerTime
		if err := json.Unmarshal(env.Payload, &st); err != nil {
			return sync.ServerTimestamps{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if st.ClientTransmitted != reqSentAt {
			// Late answer to an earlier, abandoned probe
			continue
		}

		return sync.ServerTimestamps{
			ReceivedAt: st.ServerReceived,
			SentAt:     st.ServerTransmitted,
		}, nil
	}
}

// Close closes the connection
func (c *WSTimeReference) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *WSTimeReference) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	log.Printf("Connection closed")
	return err
}

// IsConnected returns connection status
func (c *WSTimeReference) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
