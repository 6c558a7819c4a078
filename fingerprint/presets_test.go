package fingerprint

import "testing"

func TestAvailableMatchesGet(t *testing.T) {
	for _, name := range Available() {
		p := Get(name)
		if p == nil {
			t.Fatalf("Get(%q) returned nil", name)
		}
		if p.Name != name {
			t.Errorf("Get(%q).Name = %q, want %q", name, p.Name, name)
		}
		if p.UserAgent == "" {
			t.Errorf("preset %q has empty UserAgent", name)
		}
	}
}

func TestGetUnknownDefaultsToChrome133(t *testing.T) {
	p := Get("does-not-exist")
	if p.Name != "chrome-133" {
		t.Errorf("Get(unknown) = %q, want default chrome-133", p.Name)
	}
}

func TestChrome133PlatformVariantsPinPlatform(t *testing.T) {
	cases := map[string]string{
		"chrome-133-windows": `"Windows"`,
		"chrome-133-linux":   `"Linux"`,
		"chrome-133-macos":   `"macOS"`,
	}
	for name, want := range cases {
		p := Get(name)
		if p.SecChUAPlatform != want {
			t.Errorf("%s: SecChUAPlatform = %s, want %s", name, p.SecChUAPlatform, want)
		}
	}
}
