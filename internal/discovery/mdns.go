// ABOUTME: mDNS service discovery for Resonate servers and players
// ABOUTME: Handles both advertisement (server side) and browsing (player side)
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	// ServerService is advertised by servers and browsed by players
	ServerService = "_resonate-server._tcp"
	// PlayerService is advertised by players
	PlayerService = "_resonate._tcp"
)

// ErrNotFound is returned when no server answered before the deadline
var ErrNotFound = errors.New("no server found")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	ServerMode  bool // If true, advertise as a server, otherwise as a player
	// TXT holds extra key=value records advertised with the service
	TXT map[string]string
}

// Manager handles mDNS operations
type Manager struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	servers chan *ServerInfo
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	// Path is the websocket path from the TXT record (default /resonate)
	Path string
	TXT  map[string]string
}

// Addr returns host:port
func (s *ServerInfo) Addr() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		servers: make(chan *ServerInfo, 10),
	}
}

func serviceType(serverMode bool) string {
	if serverMode {
		return ServerService
	}
	return PlayerService
}

// txtRecords renders the TXT map in a stable order with path first
func txtRecords(txt map[string]string) []string {
	records := []string{"path=/resonate"}
	if p, ok := txt["path"]; ok {
		records[0] = "path=" + p
	}
	keys := make([]string, 0, len(txt))
	for k := range txt {
		if k != "path" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		records = append(records, k+"="+txt[k])
	}
	return records
}

func parseTXT(fields []string) map[string]string {
	txt := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// Advertise announces this service via mDNS until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	svc := serviceType(m.config.ServerMode)
	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		svc,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.TXT),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Printf("Advertising mDNS service: %s on port %d (type: %s)", m.config.ServiceName, m.config.Port, svc)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for Resonate servers until Stop is called
func (m *Manager) Browse() error {
	go m.browseLoop()
	return nil
}

// browseLoop continuously browses for servers
func (m *Manager) browseLoop() {
	for m.ctx.Err() == nil {
		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				server := entryToServer(entry)
				if server == nil {
					continue
				}
				log.Printf("Discovered server: %s at %s", server.Name, server.Addr())

				select {
				case m.servers <- server:
				case <-m.ctx.Done():
				}
			}
		}()

		params := mdns.DefaultParams(ServerService)
		params.Timeout = 3 * time.Second
		params.Entries = entries
		params.DisableIPv6 = true
		if err := mdns.Query(params); err != nil {
			log.Printf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

func entryToServer(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.AddrV4 == nil {
		return nil
	}
	txt := parseTXT(entry.InfoFields)
	path := txt["path"]
	if path == "" {
		path = "/resonate"
	}
	return &ServerInfo{
		Name: strings.TrimSuffix(entry.Name, "."+ServerService+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: path,
		TXT:  txt,
	}
}

// Servers returns the channel of discovered servers
func (m *Manager) Servers() <-chan *ServerInfo {
	return m.servers
}

// Discover browses until the first server answers or ctx ends
func Discover(ctx context.Context) (*ServerInfo, error) {
	m := NewManager(Config{})
	defer m.Stop()
	if err := m.Browse(); err != nil {
		return nil, err
	}

	select {
	case server := <-m.Servers():
		return server, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
	}
}

// Stop stops the discovery manager
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
