// ABOUTME: Playback state machine states
// ABOUTME: Names match the values reported to logs and the status TUI
package player

import "fmt"

// State is a playback scheduler state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateWaitingToSync
	StateSyncing
	StateWaitingToLoop
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateWaitingToSync:
		return "waiting_to_sync"
	case StateSyncing:
		return "syncing"
	case StateWaitingToLoop:
		return "waiting_to_loop"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}
