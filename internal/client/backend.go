// ABOUTME: Media player backend client
// ABOUTME: Fetches player settings and patches duration and loop timestamps
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/loopsync/loopsync-go/internal/protocol"
)

// Backend talks to the media player API of a loopsync server
type Backend struct {
	endpoint
}

// NewBackend creates a backend client
func NewBackend(config HTTPConfig) (*Backend, error) {
	e, err := newEndpoint(config)
	if err != nil {
		return nil, err
	}
	return &Backend{endpoint: e}, nil
}

func mediaPlayerPath(id string) string {
	return protocol.MediaPlayerPath + url.PathEscape(id)
}

// GetMediaPlayer fetches the server-side settings of player id.
func (b *Backend) GetMediaPlayer(ctx context.Context, id string) (*protocol.MediaPlayer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(mediaPlayerPath(id), nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	body, err := b.do(req)
	if err != nil {
		return nil, fmt.Errorf("could not find media player %s: %w", id, err)
	}

	var player protocol.MediaPlayer
	if err := json.Unmarshal(body, &player); err != nil {
		return nil, fmt.Errorf("failed to parse media player: %w", err)
	}
	return &player, nil
}

// UpdateMediaPlayer sends a partial update for player id.
func (b *Backend) UpdateMediaPlayer(ctx context.Context, id string, update protocol.MediaPlayerUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, b.url(mediaPlayerPath(id), nil), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := b.do(req); err != nil {
		return fmt.Errorf("failed to update media player %s: %w", id, err)
	}
	return nil
}
