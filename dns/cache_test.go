package dns

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestResolveCachesLiteralIP(t *testing.T) {
	c := NewCache()
	ips, err := c.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("ips = %v, want [127.0.0.1]", ips)
	}

	total, expired := c.Stats()
	if total != 1 || expired != 0 {
		t.Errorf("Stats() = (%d, %d), want (1, 0)", total, expired)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c := NewCache()
	c.Resolve(context.Background(), "127.0.0.1")

	c.Invalidate("127.0.0.1")

	total, _ := c.Stats()
	if total != 0 {
		t.Errorf("Stats().total = %d after Invalidate, want 0", total)
	}
}

func TestClearEmptiesCache(t *testing.T) {
	c := NewCache()
	c.Resolve(context.Background(), "127.0.0.1")
	c.Resolve(context.Background(), "::1")

	c.Clear()

	total, _ := c.Stats()
	if total != 0 {
		t.Errorf("Stats().total = %d after Clear, want 0", total)
	}
}

func TestSetTTLFloorsAtMinTTL(t *testing.T) {
	c := NewCache()
	c.SetTTL(time.Millisecond)
	if c.defaultTTL != c.minTTL {
		t.Errorf("defaultTTL = %v, want floored to minTTL %v", c.defaultTTL, c.minTTL)
	}
}

func TestCleanupDropsOnlyExpiredEntries(t *testing.T) {
	c := NewCache()
	c.entries["stale.test"] = &Entry{
		IPs:       []net.IP{net.ParseIP("10.0.0.1")},
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	c.entries["fresh.test"] = &Entry{
		IPs:       []net.IP{net.ParseIP("10.0.0.2")},
		ExpiresAt: time.Now().Add(time.Hour),
	}

	c.Cleanup()

	if _, ok := c.entries["stale.test"]; ok {
		t.Error("stale.test survived Cleanup")
	}
	if _, ok := c.entries["fresh.test"]; !ok {
		t.Error("fresh.test was dropped by Cleanup")
	}
}

func TestResolveOnePrefersIPv6(t *testing.T) {
	c := NewCache()
	c.entries["dual.test"] = &Entry{
		IPs:       []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("::1")},
		ExpiresAt: time.Now().Add(time.Hour),
	}

	ip, err := c.ResolveOne(context.Background(), "dual.test")
	if err != nil {
		t.Fatalf("ResolveOne: %v", err)
	}
	if ip.String() != "::1" {
		t.Errorf("ResolveOne() = %v, want ::1", ip)
	}
}
