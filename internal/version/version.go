// ABOUTME: Build and product identification
// ABOUTME: Reported in client/hello device info and server/hello
package version

// Version is overridden at build time with -ldflags "-X ...version.Version=..."
var Version = "0.3.0"

const (
	Product      = "Resonate Playout"
	Manufacturer = "Resonate"
)
