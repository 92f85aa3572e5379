// ABOUTME: Bubbletea model for player TUI
// ABOUTME: Shows connection, clock sync and playout engine health
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-playout/pkg/resonate"
	timesync "github.com/Resonate-Protocol/resonate-playout/pkg/sync"
)

const (
	volumeStep = 5
	bufferStep = 50
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle   = lipgloss.NewStyle().Faint(true)
)

// StatusMsg carries a snapshot of the player into the TUI
type StatusMsg struct {
	ServerName string
	State      resonate.PlayerState
	Stats      resonate.PlayerStats
}

// Model represents the TUI state
type Model struct {
	status    StatusMsg
	controls  *Controls
	showDebug bool
	quitting  bool
	width     int
	height    int
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
		m.status = msg
	}

	return m, nil
}

// handleKey handles keyboard input. Changes are applied optimistically and
// forwarded to the player through the controls.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	state := &m.status.State

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		m.controls.quit()
		return m, tea.Quit
	case "up":
		state.Volume = min(state.Volume+volumeStep, 100)
		m.controls.setVolume(state.Volume)
	case "down":
		state.Volume = max(state.Volume-volumeStep, 0)
		m.controls.setVolume(state.Volume)
	case "m":
		state.Muted = !state.Muted
		m.controls.setMuted(state.Muted)
	case "+", "=":
		state.BufferMs += bufferStep
		m.controls.setBuffer(state.BufferMs)
	case "-":
		state.BufferMs = max(state.BufferMs-bufferStep, 0)
		m.controls.setBuffer(state.BufferMs)
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down player...\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Resonate Player"))
	b.WriteString("\n\n")
	m.renderConnection(&b)
	m.renderStream(&b)
	m.renderPlayout(&b)
	if m.showDebug {
		m.renderDebug(&b)
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ volume  m mute  +/- buffer  d debug  q quit"))
	b.WriteString("\n")
	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-10s", name+":")))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) renderConnection(b *strings.Builder) {
	state := m.status.State
	conn := "Disconnected"
	if state.Connected {
		conn = fmt.Sprintf("Connected to %s (%s)", m.status.ServerName, state.State)
	}
	field(b, "Status", conn)

	stats := m.status.Stats
	field(b, "Clock", syncText(stats.SyncQuality, stats.SyncOffset, stats.SyncRTT))
}

func syncText(q timesync.Quality, offset, rtt int64) string {
	switch q {
	case timesync.QualityGood:
		return fmt.Sprintf("✓ synced (offset %+.1fms, rtt %.1fms)", float64(offset)/1000, float64(rtt)/1000)
	case timesync.QualityDegraded:
		return fmt.Sprintf("⚠ degraded (rtt %.1fms)", float64(rtt)/1000)
	default:
		return "✗ lost"
	}
}

func (m Model) renderStream(b *strings.Builder) {
	state := m.status.State
	if state.Codec == "" {
		field(b, "Stream", "none")
	} else {
		field(b, "Stream", fmt.Sprintf("%s %dHz %s %d-bit",
			state.Codec, state.SampleRate, channelName(state.Channels), state.BitDepth))
	}

	volume := fmt.Sprintf("[%s] %d%%", renderBar(state.Volume, 100, 10), state.Volume)
	if state.Muted {
		volume += " (muted)"
	}
	field(b, "Volume", volume)
	field(b, "Buffer", fmt.Sprintf("%dms", state.BufferMs))
}

func (m Model) renderPlayout(b *strings.Builder) {
	p := m.status.Stats.Playout
	b.WriteString("\n")

	mode := "normal"
	if p.HardSync {
		mode = warnStyle.Render("hard sync")
	}
	field(b, "Playout", fmt.Sprintf("%s, %d chunks queued", mode, p.QueuedChunks))
	field(b, "Error", fmt.Sprintf("%+.2fms now, %+.2fms short, %+.2fms long",
		float64(p.Age)/1000, float64(p.MedianShort)/1000, float64(p.MedianLong)/1000))
	field(b, "Rate", fmt.Sprintf("%.6f (%+.0fppm)", p.Ratio, p.Correction*1e6))
	field(b, "Events", fmt.Sprintf("%d underruns, %d hard syncs, %d chunks late",
		p.Underruns, p.HardSyncs, p.ChunksDropped))
}

func (m Model) renderDebug(b *strings.Builder) {
	p := m.status.Stats.Playout
	b.WriteString("\n")
	field(b, "Frames", fmt.Sprintf("%d played, %d silent, +%d/-%d corrected",
		p.FramesPlayed, p.SilenceFrames, p.FramesInserted, p.FramesDropped))
	field(b, "Chunks", fmt.Sprintf("%d received, %d decode errors",
		m.status.Stats.ChunksReceived, m.status.Stats.DecodeErrors))
	field(b, "Offset", fmt.Sprintf("%+dμs", m.status.Stats.SyncOffset))
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}
