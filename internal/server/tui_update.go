// ABOUTME: Server status snapshots
// ABOUTME: Shared by Server.GetStatus and the periodic TUI refresh
package server

import (
	"time"

	"github.com/Resonate-Protocol/resonate-playout/internal/version"
)

// tuiRefresh is how often the TUI is redrawn from server state
const tuiRefresh = 500 * time.Millisecond

// ServerStatus is a snapshot of the server and its players
type ServerStatus struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Port     int            `json:"port"`
	UptimeS  int64          `json:"uptime_s"`
	Source   string         `json:"source"`
	Format   string         `json:"format"`
	Codec    string         `json:"codec"`
	BufferMs int            `json:"buffer_ms"`
	Clients  []ClientStatus `json:"clients"`
}

// Status returns the current server state
func (s *Server) Status() ServerStatus {
	return ServerStatus{
		ID:       s.serverID,
		Name:     s.config.Name,
		Version:  version.Version,
		Port:     s.config.Port,
		UptimeS:  int64(time.Since(s.startTime).Seconds()),
		Source:   s.audioEngine.Title(),
		Format:   s.audioEngine.Format().String(),
		Codec:    s.config.Codec,
		BufferMs: s.config.BufferMs,
		Clients:  s.Clients(),
	}
}

// tuiLoop pushes status to the TUI until the server stops
func (s *Server) tuiLoop() {
	ticker := time.NewTicker(tuiRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tui.Update(s.Status())
		}
	}
}
