package headers

import (
	"net/url"
	"testing"

	"github.com/sardanioss/httpcloakproxy/fingerprint"
)

func TestComposeAppliesDefaultsVerbatim(t *testing.T) {
	c := NewComposer(fingerprint.Chrome133())
	u, _ := url.Parse("https://example.com/path")

	got := c.Compose(u, nil)

	cases := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "tr-TR,tr;q=0.9,en-US;q=0.8,en;q=0.7",
		"Accept-Encoding": "gzip, deflate, br, zstd",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Sec-Fetch-Dest":  "empty",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Site":  "same-site",
	}
	for k, want := range cases {
		if got.Get(k) != want {
			t.Errorf("Compose()[%q] = %q, want %q", k, got.Get(k), want)
		}
	}
}

func TestComposeDerivesOriginAndReferer(t *testing.T) {
	c := NewComposer(fingerprint.Chrome133())
	u, _ := url.Parse("https://example.com:8443/path?q=1")

	got := c.Compose(u, nil)

	if want := "https://example.com:8443"; got.Get("Origin") != want {
		t.Errorf("Origin = %q, want %q", got.Get("Origin"), want)
	}
	if want := "https://example.com:8443/"; got.Get("Referer") != want {
		t.Errorf("Referer = %q, want %q", got.Get("Referer"), want)
	}
}

func TestComposeOverridesDominateDefaults(t *testing.T) {
	c := NewComposer(fingerprint.Chrome133())
	u, _ := url.Parse("https://example.com/")

	got := c.Compose(u, map[string]string{"accept": "text/html"})

	if got.Get("Accept") != "text/html" {
		t.Errorf("Accept = %q, want override %q", got.Get("Accept"), "text/html")
	}
}

func TestComposeEmptyOverrideSuppressesHeader(t *testing.T) {
	c := NewComposer(fingerprint.Chrome133())
	u, _ := url.Parse("https://example.com/")

	got := c.Compose(u, map[string]string{"Pragma": ""})

	if _, ok := got["Pragma"]; ok {
		t.Error("an empty-valued override should suppress the header entirely")
	}
}

func TestComposeUsesPresetUserAgentFamily(t *testing.T) {
	preset := fingerprint.Chrome133()
	c := NewComposer(preset)
	u, _ := url.Parse("https://example.com/")

	got := c.Compose(u, nil)

	if got.Get("User-Agent") != preset.UserAgent {
		t.Errorf("User-Agent = %q, want preset's %q", got.Get("User-Agent"), preset.UserAgent)
	}
	if got.Get("Sec-Ch-Ua") != preset.SecChUA {
		t.Errorf("Sec-Ch-Ua = %q, want preset's %q", got.Get("Sec-Ch-Ua"), preset.SecChUA)
	}
}
