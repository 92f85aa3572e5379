// ABOUTME: Entry point for the Resonate test server
// ABOUTME: Parses CLI flags and streams a tone or audio file to players
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/resonate-playout/internal/server"
)

var (
	port      = flag.Int("port", server.DefaultPort, "WebSocket server port")
	name      = flag.String("name", "", "Server friendly name (default: hostname-resonate-server)")
	logFile   = flag.String("log-file", "resonate-server.log", "Log file path")
	debug     = flag.Bool("debug", false, "Enable debug logging")
	noMDNS    = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI    = flag.Bool("tui", false, "Show the status TUI instead of streaming logs")
	audioFile = flag.String("audio", "", "MP3 or FLAC file, or MP3 URL, to stream. If not specified, plays test tone")
	codec     = flag.String("codec", "pcm", "Preferred codec: pcm or opus (opus needs a 48kHz 16-bit source)")
	bufferMs  = flag.Int("buffer-ms", server.DefaultBufferMs, "Playout buffer announced to players")
	chunkMs   = flag.Int("chunk-ms", server.DefaultChunkMs, "Audio per chunk in milliseconds")
	leadMs    = flag.Int("lead-ms", 0, "Send chunks this far ahead of their timestamp")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if *useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-resonate-server", hostname)
	}

	log.Printf("Starting Resonate Server: %s on port %d", serverName, *port)
	if *debug {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", *logFile)

	srv, err := server.New(server.Config{
		Port:       *port,
		Name:       serverName,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		UseTUI:     *useTUI,
		AudioFile:  *audioFile,
		Codec:      *codec,
		BufferMs:   *bufferMs,
		ChunkMs:    *chunkMs,
		LeadMs:     *leadMs,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}
