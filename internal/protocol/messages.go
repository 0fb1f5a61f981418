// ABOUTME: loopsync wire message type definitions
// ABOUTME: Defines the sync endpoint, WebSocket and media player payloads
package protocol

import "encoding/json"

// WebSocket message types
const (
	TypeClientHello = "client/hello"
	TypeServerHello = "server/hello"
	TypeClientTime  = "client/time"
	TypeServerTime  = "server/time"
)

// HTTP paths served by a loopsync server
const (
	SyncPath        = "/api/sync"
	SyncWSPath      = "/api/sync/ws"
	MediaPlayerPath = "/api/mediaplayer/"
)

// Message is the top-level wrapper for all WebSocket messages
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// ClientHello is sent by clients to initiate the WebSocket handshake
type ClientHello struct {
	ClientID   string      `json:"client_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	PlayerID   string      `json:"player_id,omitempty"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// ServerHello is the server's response to client/hello
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ClientTime is sent for clock synchronization
type ClientTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Client local time in milliseconds
}

// ServerTime is the response to client/time
type ServerTime struct {
	ClientTransmitted int64 `json:"client_transmitted"` // Echoed client timestamp
	ServerReceived    int64 `json:"server_received"`    // Server receive timestamp
	ServerTransmitted int64 `json:"server_transmitted"` // Server send timestamp
}

// SyncResponse is the body of GET /api/sync. Fields are pointers so a
// missing timestamp can be told apart from zero.
type SyncResponse struct {
	ReqSentAt     *int64 `json:"reqSentAt"`
	ReqReceivedAt *int64 `json:"reqReceivedAt"`
	ResSentAt     *int64 `json:"resSentAt"`
}

// MediaPlayer is the server-side record of a player
type MediaPlayer struct {
	ID            int64   `json:"id"`
	Nickname      string  `json:"nickname"`
	IPAddress     string  `json:"ipAddress,omitempty"`
	MACAddress    string  `json:"macAddress,omitempty"`
	SyncURL       string  `json:"syncUrl,omitempty"`
	Volume        int     `json:"volume"`    // 0-100
	QuietMode     float64 `json:"quietMode"` // 0-1
	SerialNumber  string  `json:"serialNumber,omitempty"`
	Duration      int64   `json:"duration"`      // Clip duration in milliseconds
	WorkID        int64   `json:"workId"`
	LastTimestamp int64   `json:"lastTimestamp"` // Server time of the last loop start
	TenantID      int64   `json:"tenantId"`
}

// MediaPlayerUpdate is a partial PATCH of a MediaPlayer
type MediaPlayerUpdate struct {
	Duration      *int64 `json:"duration,omitempty"`
	LastTimestamp *int64 `json:"lastTimestamp,omitempty"`
}

// Envelope is used to decode a Message before its payload type is known
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
