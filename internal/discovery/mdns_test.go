// ABOUTME: Tests for mDNS discovery
// ABOUTME: Tests TXT handling and service entry conversion
package discovery

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Test Server", Port: 8927, ServerMode: true})
	if mgr == nil {
		t.Fatal("expected manager to be created")
	}
	mgr.Stop()
}

func TestServiceType(t *testing.T) {
	if got := serviceType(true); got != ServerService {
		t.Errorf("server mode: got %s", got)
	}
	if got := serviceType(false); got != PlayerService {
		t.Errorf("player mode: got %s", got)
	}
}

func TestTXTRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]string
		want []string
	}{
		{"default path", nil, []string{"path=/resonate"}},
		{"extra keys sorted", map[string]string{"version": "1", "jsonrpc": "/jsonrpc"}, []string{"path=/resonate", "jsonrpc=/jsonrpc", "version=1"}},
		{"custom path", map[string]string{"path": "/ws"}, []string{"path=/ws"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := txtRecords(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("txtRecords() = %v, want %v", got, tt.want)
			}
			parsed := parseTXT(got)
			for k, v := range tt.in {
				if parsed[k] != v {
					t.Errorf("parsed[%s] = %q, want %q", k, parsed[k], v)
				}
			}
		})
	}
}

func TestEntryToServer(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Kitchen." + ServerService + ".local.",
		AddrV4:     net.ParseIP("192.168.1.20").To4(),
		Port:       8927,
		InfoFields: []string{"path=/resonate", "jsonrpc=/jsonrpc"},
	}

	server := entryToServer(entry)
	if server == nil {
		t.Fatal("expected server")
	}
	if server.Name != "Kitchen" {
		t.Errorf("name = %q", server.Name)
	}
	if server.Addr() != "192.168.1.20:8927" {
		t.Errorf("addr = %q", server.Addr())
	}
	if server.Path != "/resonate" || server.TXT["jsonrpc"] != "/jsonrpc" {
		t.Errorf("unexpected TXT: %+v", server)
	}

	if entryToServer(&mdns.ServiceEntry{Name: "no address"}) != nil {
		t.Error("expected nil for entry without IPv4 address")
	}
}

func TestDiscoverHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := Discover(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Discover did not return promptly on a cancelled context")
	}
}
