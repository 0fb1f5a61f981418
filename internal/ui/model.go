// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/loopsync/loopsync-go/internal/sync"
)

const volumeStep = 5

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Server
	serverName string
	transport  string

	// Sync
	syncOffset   int64
	syncRTT      float64
	syncQuality  sync.Quality
	syncFailures int
	lastOutcome  string
	lastSyncAt   time.Time

	// Clip
	clip       string
	codec      string
	durationMs int64

	// Playback
	state         string
	remainingMs   int64
	loops         int64
	lastTimestamp int64
	volume        int
	muted         bool

	// Debug
	showDebug bool
	history   []sync.Result

	// Dimensions
	width  int
	height int

	volumeCtrl *VolumeControl
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("loopsync player"))
	b.WriteString("\n\n")
	b.WriteString(m.renderSync())
	b.WriteString("\n")
	b.WriteString(m.renderPlayback())
	b.WriteString("\n")
	b.WriteString(m.renderControls())

	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓:Volume  m:Mute  r:Resync  d:Debug  q:Quit"))
	b.WriteString("\n")

	return b.String()
}

func field(name, value string) string {
	return headerStyle.Render(fmt.Sprintf("%-10s", name+":")) + " " + value + "\n"
}

// renderSync renders server and clock sync status
func (m Model) renderSync() string {
	server := "discovering..."
	if m.serverName != "" {
		server = fmt.Sprintf("%s (%s)", m.serverName, m.transport)
	}

	var quality string
	switch m.syncQuality {
	case sync.QualityGood:
		quality = valueStyle.Render(fmt.Sprintf("✓ Synced (offset: %+dms, rtt: %.1fms)", m.syncOffset, m.syncRTT))
	case sync.QualityDegraded:
		quality = warnStyle.Render(fmt.Sprintf("⚠ Degraded (offset: %+dms, last: %s)", m.syncOffset, m.lastOutcome))
	default:
		quality = errorStyle.Render(fmt.Sprintf("✗ Lost (%d failed runs)", m.syncFailures))
	}

	return field("Server", valueStyle.Render(server)) + field("Sync", quality)
}

// renderPlayback renders clip and loop state
func (m Model) renderPlayback() string {
	if m.clip == "" {
		return field("Clip", valueStyle.Render("none loaded"))
	}

	s := field("Clip", valueStyle.Render(fmt.Sprintf("%s (%s, %s)",
		truncate(m.clip, 40), m.codec, formatMs(m.durationMs))))
	s += field("State", valueStyle.Render(m.state))
	s += field("Remaining", valueStyle.Render(fmt.Sprintf("[%s] %s",
		renderBar(max(m.remainingMs, 0), max(m.durationMs, 1), 20), formatMs(max(m.remainingMs, 0)))))
	s += field("Loops", valueStyle.Render(fmt.Sprintf("%d", m.loops)))
	return s
}

// renderControls renders volume status
func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " 🔇"
	}

	return field("Volume", valueStyle.Render(fmt.Sprintf("[%s] %d%%%s",
		renderBar(int64(m.volume), 100, 10), m.volume, muteIcon)))
}

// renderDebug renders recent sync runs
func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Recent sync runs:"))
	b.WriteString("\n")

	start := max(len(m.history)-5, 0)
	for _, r := range m.history[start:] {
		b.WriteString(valueStyle.Render(fmt.Sprintf("  %s offset=%+dms kept=%d/%d mean=%.1f var=%.1f rtt=%.1fms",
			r.Outcome, r.Offset, r.Kept, r.Probes, r.Mean, r.Variance, r.MeanRTT)))
		b.WriteString("\n")
	}
	b.WriteString(valueStyle.Render(fmt.Sprintf("  last loop start (server): %d", m.lastTimestamp)))
	b.WriteString("\n")
	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.volumeCtrl.quit()
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.volumeCtrl.setVolume(m.volume)
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.volumeCtrl.setVolume(m.volume)
	case "m":
		m.muted = !m.muted
		m.volumeCtrl.setMuted(m.muted)
	case "r":
		m.volumeCtrl.resync()
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.ServerName != "" {
		m.serverName = msg.ServerName
		m.transport = msg.Transport
	}
	if msg.Sync != nil {
		m.syncOffset = msg.Sync.Offset
		m.syncRTT = msg.Sync.RTT
		m.syncQuality = msg.Sync.Quality
		m.syncFailures = msg.Sync.Failures
		m.lastOutcome = msg.Sync.LastOutcome
		m.history = msg.Sync.History
	}
	if msg.Clip != "" {
		m.clip = msg.Clip
		m.codec = msg.Codec
		m.durationMs = msg.DurationMs
	}
	if msg.Playback != nil {
		m.state = msg.Playback.State
		m.remainingMs = msg.Playback.RemainingMs
		m.loops = msg.Playback.Loops
		m.lastTimestamp = msg.Playback.LastTimestamp
	}
	if msg.Volume != nil {
		m.volume = *msg.Volume
	}
}

// StatusMsg updates TUI state. Nil groups are left unchanged.
type StatusMsg struct {
	ServerName string
	Transport  string
	Sync       *SyncStatus
	Clip       string
	Codec      string
	DurationMs int64
	Playback   *PlaybackStatus
	Volume     *int
}

// SyncStatus is a snapshot of the clock sync
type SyncStatus struct {
	Offset      int64
	RTT         float64
	Quality     sync.Quality
	Failures    int
	LastOutcome string
	History     []sync.Result
}

// PlaybackStatus is a snapshot of the loop scheduler
type PlaybackStatus struct {
	State         string
	RemainingMs   int64
	Loops         int64
	LastTimestamp int64
}

// Utility functions
func renderBar(value, total int64, width int) string {
	filled := int(min(value*int64(width)/total, int64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return "..." + s[len(s)-length+3:]
}

func formatMs(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}
