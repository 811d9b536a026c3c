package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestFromEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("tracker-1", ServiceType, Domain)
	entry.Port = 9090
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.7")}
	entry.Text = []string{"version=1", "junk"}

	info := fromEntry(entry)
	if info.Addr() != "192.168.1.7:9090" {
		t.Errorf("Addr = %q", info.Addr())
	}
	if info.Meta["version"] != "1" || len(info.Meta) != 1 {
		t.Errorf("Meta = %v", info.Meta)
	}
}

func TestAddrWithoutIPs(t *testing.T) {
	info := &ServiceInfo{Port: 9090}
	if info.Addr() != "" {
		t.Errorf("Addr = %q, want empty", info.Addr())
	}
}

func TestLookupTracker(t *testing.T) {
	// multicast is often unavailable in CI/docker
	if testing.Short() {
		t.Skip("Skipping mDNS test in short mode")
	}

	advertiser := NewAdvertiser()
	port := 12345
	if err := advertiser.Start("test-tracker", port, map[string]string{"test": "true"}); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	defer advertiser.Stop()

	time.Sleep(500 * time.Millisecond)

	resolver, err := NewResolver()
	if err != nil {
		t.Skipf("mDNS resolver unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr, err := resolver.LookupTracker(ctx)
	if err != nil {
		t.Skipf("no mDNS response on this network: %v", err)
	}
	_, p, err := net.SplitHostPort(addr)
	if err != nil || p != "12345" {
		t.Errorf("LookupTracker = %q", addr)
	}
}
