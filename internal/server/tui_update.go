// ABOUTME: TUI update helpers for server
// ABOUTME: Builds status snapshots of clients and media players for the TUI
package server

import (
	"cmp"
	"slices"
	"strconv"
	"time"
)

const tuiRefreshInterval = 500 * time.Millisecond

// tuiRefreshLoop pushes status snapshots until the server stops
func (s *Server) tuiRefreshLoop() {
	ticker := time.NewTicker(tuiRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.updateTUI()
		}
	}
}

// updateTUI sends current server state to TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}
	s.tui.Update(s.status())
}

// status builds a snapshot of the server state
func (s *Server) status() ServerStatus {
	s.clientsMu.RLock()
	clients := make([]ClientInfo, 0, len(s.clients))
	for _, client := range s.clients {
		client.mu.RLock()
		probes := client.probes
		client.mu.RUnlock()

		clients = append(clients, ClientInfo{
			Name:     client.Name,
			ID:       client.ID,
			PlayerID: client.PlayerID,
			Probes:   probes,
		})
	}
	s.clientsMu.RUnlock()

	slices.SortFunc(clients, func(a, b ClientInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})

	records := s.players.List()
	players := make([]PlayerInfo, 0, len(records))
	for _, rec := range records {
		id := strconv.FormatInt(rec.ID, 10)
		players = append(players, PlayerInfo{
			ID:            id,
			Nickname:      rec.Nickname,
			DurationMs:    rec.Duration,
			LastTimestamp: rec.LastTimestamp,
			Loops:         s.players.Loops(id),
		})
	}

	return ServerStatus{
		Name:       s.config.Name,
		Port:       s.config.Port,
		ServerTime: s.Now(),
		Clients:    clients,
		Players:    players,
	}
}
