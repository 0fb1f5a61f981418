// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for player UI and debounces volume changes
package ui

import (
	"time"

	"github.com/bep/debounce"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/loopsync/loopsync-go/internal/sync"
)

// VolumeDebounce delays volume changes so held keys apply once.
const VolumeDebounce = 150 * time.Millisecond

// VolumeChangeMsg carries a volume or mute change to the player
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// QuitMsg signals that the user asked to quit
type QuitMsg struct{}

// VolumeControl holds channels for control communication from the TUI
type VolumeControl struct {
	Changes chan VolumeChangeMsg
	Resync  chan struct{}
	Quit    chan QuitMsg

	debounced func(f func())
	volume    int
	muted     bool
}

// NewVolumeControl creates a new volume control handler
func NewVolumeControl(initialVolume int) *VolumeControl {
	return &VolumeControl{
		Changes:   make(chan VolumeChangeMsg, 10),
		Resync:    make(chan struct{}, 1),
		Quit:      make(chan QuitMsg, 1),
		debounced: debounce.New(VolumeDebounce),
		volume:    initialVolume,
	}
}

// setVolume queues a debounced volume change. Only the last value inside
// the debounce window is delivered.
func (vc *VolumeControl) setVolume(volume int) {
	if vc == nil {
		return
	}
	vc.volume = volume
	change := VolumeChangeMsg{Volume: volume, Muted: vc.muted}
	vc.debounced(func() { vc.send(change) })
}

// setMuted delivers a mute change immediately.
func (vc *VolumeControl) setMuted(muted bool) {
	if vc == nil {
		return
	}
	vc.muted = muted
	vc.send(VolumeChangeMsg{Volume: vc.volume, Muted: muted})
}

func (vc *VolumeControl) send(change VolumeChangeMsg) {
	select {
	case vc.Changes <- change:
	default:
	}
}

func (vc *VolumeControl) resync() {
	if vc == nil {
		return
	}
	select {
	case vc.Resync <- struct{}{}:
	default:
	}
}

func (vc *VolumeControl) quit() {
	if vc == nil {
		return
	}
	select {
	case vc.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(volCtrl *VolumeControl) Model {
	volume := 100
	if volCtrl != nil {
		volume = volCtrl.volume
	}
	return Model{
		volume:      volume,
		state:       "idle",
		syncQuality: sync.QualityLost,
		volumeCtrl:  volCtrl,
	}
}

// Run creates the TUI program
func Run(volCtrl *VolumeControl) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(volCtrl), tea.WithAltScreen())
	return p, nil
}
