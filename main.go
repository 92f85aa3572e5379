// ABOUTME: Entry point for the Resonate playout player
// ABOUTME: Parses CLI flags, finds a server and runs the player with optional TUI and metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-playout/internal/discovery"
	"github.com/Resonate-Protocol/resonate-playout/internal/ui"
	"github.com/Resonate-Protocol/resonate-playout/internal/version"
	"github.com/Resonate-Protocol/resonate-playout/pkg/resonate"
)

var (
	serverAddr    = flag.String("server", "", "Manual server address (skip mDNS)")
	port          = flag.Int("port", 8928, "Port for mDNS player advertisement")
	name          = flag.String("name", "", "Player friendly name (default: hostname-resonate-player)")
	bufferMs      = flag.Int("buffer-ms", 500, "Playout buffer in milliseconds until the server sets one")
	latency       = flag.Duration("latency", 0, "Extra output latency of the audio device")
	outputRate    = flag.Int("output-rate", 0, "Fixed device sample rate (default: first stream's rate)")
	metricsAddr   = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	discoveryWait = flag.Duration("discovery-timeout", 10*time.Second, "How long to browse for a server")
	logFile       = flag.String("log-file", "resonate-player.log", "Log file path")
	noTUI         = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	playerName := *name
	if playerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		playerName = fmt.Sprintf("%s-resonate-player", hostname)
	}
	log.Printf("Starting %s %s: %s", version.Product, version.Version, playerName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := *serverAddr
	if address == "" {
		address, err = discoverServer(ctx, playerName)
		if err != nil {
			log.Fatalf("Server discovery failed: %v", err)
		}
	}

	var tuiProg *tea.Program
	var controls *ui.Controls
	if useTUI {
		controls = ui.NewControls()
		tuiProg = ui.New(controls, ui.StatusMsg{ServerName: address})
		go func() {
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
			stop()
		}()
	}

	player, err := resonate.NewPlayer(resonate.PlayerConfig{
		ServerAddr:       address,
		PlayerName:       playerName,
		BufferMs:         *bufferMs,
		DeviceLatency:    *latency,
		OutputSampleRate: *outputRate,
		DeviceInfo: resonate.DeviceInfo{
			ProductName:     version.Product,
			Manufacturer:    version.Manufacturer,
			SoftwareVersion: version.Version,
		},
		OnStateChange: func(state resonate.PlayerState) {
			log.Printf("Player state: %s (%s %dHz %dch %d-bit, buffer %dms)",
				state.State, state.Codec, state.SampleRate, state.Channels, state.BitDepth, state.BufferMs)
		},
		OnError: func(err error) {
			log.Printf("Player error: %v", err)
		},
	})
	if err != nil {
		log.Fatalf("Failed to create player: %v", err)
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, player.MetricsHandler())
	}

	if err := player.Connect(ctx); err != nil {
		if tuiProg != nil {
			tuiProg.Quit()
		}
		log.Fatalf("Connection failed: %v", err)
	}
	log.Printf("Connected to server: %s", address)

	if controls != nil {
		go handleControls(ctx, player, controls, stop)
		go statusLoop(ctx, player, address, tuiProg)
	}

	<-ctx.Done()
	log.Printf("Shutdown requested")

	if tuiProg != nil {
		tuiProg.Quit()
	}
	if err := player.Close(); err != nil {
		log.Printf("Error closing player: %v", err)
	}
	log.Printf("Player stopped")
}

// discoverServer advertises the player and waits for a server announcement
func discoverServer(ctx context.Context, playerName string) (string, error) {
	log.Printf("Starting server discovery...")

	adv := discovery.NewManager(discovery.Config{ServiceName: playerName, Port: *port})
	if err := adv.Advertise(); err != nil {
		log.Printf("Failed to advertise player: %v", err)
	}
	defer adv.Stop()

	ctx, cancel := context.WithTimeout(ctx, *discoveryWait)
	defer cancel()

	server, err := discovery.Discover(ctx)
	if err != nil {
		return "", err
	}
	log.Printf("Discovered server %s at %s", server.Name, server.Addr())
	return server.Addr(), nil
}

func serveMetrics(addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	log.Printf("Metrics listening on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v", err)
	}
}

// handleControls applies TUI actions to the player
func handleControls(ctx context.Context, player *resonate.Player, controls *ui.Controls, quit func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-controls.Volume:
			if err := player.SetVolume(v); err != nil {
				log.Printf("Failed to set volume: %v", err)
			}
		case m := <-controls.Mute:
			if err := player.Mute(m); err != nil {
				log.Printf("Failed to set mute: %v", err)
			}
		case ms := <-controls.BufferMs:
			player.SetBufferLen(ms)
		case <-controls.Quit:
			log.Printf("Received quit signal from TUI")
			quit()
			return
		}
	}
}

// statusLoop pushes player snapshots to the TUI
func statusLoop(ctx context.Context, player *resonate.Player, serverName string, prog *tea.Program) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prog.Send(ui.StatusMsg{
				ServerName: serverName,
				State:      player.Status(),
				Stats:      player.Stats(),
			})
		}
	}
}
