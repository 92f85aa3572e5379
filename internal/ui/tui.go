// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for player UI and forwards key actions
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Controls carries user actions from the TUI to the player
type Controls struct {
	Volume   chan int
	Mute     chan bool
	BufferMs chan int
	Quit     chan struct{}
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Volume:   make(chan int, 10),
		Mute:     make(chan bool, 10),
		BufferMs: make(chan int, 10),
		Quit:     make(chan struct{}, 1),
	}
}

// The send helpers never block the UI and tolerate a nil receiver

func (c *Controls) setVolume(v int) {
	if c != nil {
		send(c.Volume, v)
	}
}

func (c *Controls) setMuted(v bool) {
	if c != nil {
		send(c.Mute, v)
	}
}

func (c *Controls) setBuffer(v int) {
	if c != nil {
		send(c.BufferMs, v)
	}
}

func (c *Controls) quit() {
	if c != nil {
		send(c.Quit, struct{}{})
	}
}

func send[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls, initial StatusMsg) Model {
	return Model{
		status:   initial,
		controls: controls,
	}
}

// New creates the TUI program; feed it StatusMsg values with Send
func New(controls *Controls, initial StatusMsg) *tea.Program {
	return tea.NewProgram(NewModel(controls, initial), tea.WithAltScreen())
}
