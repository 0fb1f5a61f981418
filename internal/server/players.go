// ABOUTME: In-memory media player records
// ABOUTME: Backs the GET and PATCH media player endpoints
package server

import (
	"cmp"
	"slices"
	"strconv"
	"sync"

	"github.com/loopsync/loopsync-go/internal/protocol"
	"github.com/samber/lo"
)

// PlayerStore holds media player records keyed by their path id
type PlayerStore struct {
	mu      sync.RWMutex
	players map[string]*protocol.MediaPlayer
	loops   map[string]int
}

// NewPlayerStore creates an empty store
func NewPlayerStore() *PlayerStore {
	return &PlayerStore{
		players: make(map[string]*protocol.MediaPlayer),
		loops:   make(map[string]int),
	}
}

// Put creates or replaces a record
func (ps *PlayerStore) Put(id string, player protocol.MediaPlayer) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	player.ID = numericID(id)
	ps.players[id] = &player
}

// Get returns a copy of the record for id
func (ps *PlayerStore) Get(id string) (protocol.MediaPlayer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	player, ok := ps.players[id]
	if !ok {
		return protocol.MediaPlayer{}, false
	}
	return *player, true
}

// Apply merges a partial update, creating the record when needed
func (ps *PlayerStore) Apply(id string, update protocol.MediaPlayerUpdate) protocol.MediaPlayer {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	player, ok := ps.players[id]
	if !ok {
		player = &protocol.MediaPlayer{ID: numericID(id), Volume: 100}
		ps.players[id] = player
	}

	if update.Duration != nil {
		player.Duration = *update.Duration
	}
	if update.LastTimestamp != nil {
		player.LastTimestamp = *update.LastTimestamp
		ps.loops[id]++
	}
	return *player
}

// Loops returns how many loop starts were reported for id
func (ps *PlayerStore) Loops(id string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.loops[id]
}

// List returns copies of all records ordered by id
func (ps *PlayerStore) List() []protocol.MediaPlayer {
	ps.mu.RLock()
	players := lo.Map(lo.Values(ps.players), func(p *protocol.MediaPlayer, _ int) protocol.MediaPlayer {
		return *p
	})
	ps.mu.RUnlock()

	slices.SortFunc(players, func(a, b protocol.MediaPlayer) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return players
}

// numericID parses the path id; non-numeric ids map to 0
func numericID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
