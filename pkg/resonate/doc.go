// ABOUTME: High-level Resonate library API
// ABOUTME: Provides the synchronized Player used by the command line player
// Package resonate provides the high-level player API for Resonate audio streaming.
//
// A Player connects to a server, synchronizes its clock, decodes incoming
// chunks into a playout stream and lets the output device pull audio that is
// aligned to the shared clock. Its lifecycle runs idle, connecting,
// synchronizing, buffering, playing.
//
// For lower-level control, see the audio, protocol, stream and sync packages.
//
// Example:
//
//	player, err := resonate.NewPlayer(resonate.PlayerConfig{
//	    ServerAddr: "localhost:8927",
//	    PlayerName: "Living Room",
//	    Volume:     80,
//	})
//	err = player.Connect(ctx)
//	http.Handle("/metrics", player.MetricsHandler())
package resonate
