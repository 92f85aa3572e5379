// ABOUTME: Tests for the server TUI model
// ABOUTME: Checks rendering of players and quit handling
package server

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestTUIViewListsPlayers(t *testing.T) {
	m := tuiModel{quitChan: make(chan struct{}, 1)}
	assert.Contains(t, m.View(), "No players connected")

	updated, _ := m.Update(statusMsg(ServerStatus{
		Name:   "Living Room",
		Source: "Test Tone (440Hz)",
		Clients: []ClientStatus{
			{Name: "Kitchen", Codec: "pcm", State: "synchronized", Volume: 80, BufferMs: 500, SyncErrorUs: 150},
			{Name: "Porch", Codec: "opus", State: "buffering", Muted: true, SyncErrorUs: -5000, Underruns: 3},
		},
	}))
	view := updated.View()
	assert.Contains(t, view, "Living Room")
	assert.Contains(t, view, "Connected Players (2)")
	assert.Contains(t, view, "Kitchen")
	assert.Contains(t, view, "sync +150us")
	assert.Contains(t, view, "muted")
	assert.Contains(t, view, "sync -5000us, underruns 3")
}

func TestTUIQuit(t *testing.T) {
	quit := make(chan struct{}, 1)
	m := tuiModel{quitChan: quit}

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.NotNil(t, cmd)
	assert.Equal(t, "Shutting down server...\n", updated.View())
	select {
	case <-quit:
	default:
		t.Fatal("quit not signalled")
	}
}
