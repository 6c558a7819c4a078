// Package fingerprint holds the TLS/HTTP2 impersonation profile. Per design,
// the profile is a versioned, swappable parameter set rather than something
// hardcoded at call sites — callers ask for a preset by name and get back a
// value, never a global.
package fingerprint

import (
	tls "github.com/sardanioss/utls"
)

// PlatformInfo carries the platform-dependent fragments of the header set.
type PlatformInfo struct {
	UserAgentOS     string
	Platform        string
	PlatformVersion string
}

// platformInfo returns the header fragments for one platform, keyed the way
// runtime.GOOS spells it ("windows", "darwin", or anything else for Linux).
func platformInfo(goos string) PlatformInfo {
	switch goos {
	case "windows":
		return PlatformInfo{UserAgentOS: "(Windows NT 10.0; Win64; x64)", Platform: "Windows", PlatformVersion: "10.0.0"}
	case "darwin":
		return PlatformInfo{UserAgentOS: "(Macintosh; Intel Mac OS X 10_15_7)", Platform: "macOS", PlatformVersion: "14.7.0"}
	default:
		return PlatformInfo{UserAgentOS: "(X11; Linux x86_64)", Platform: "Linux", PlatformVersion: "6.12.0"}
	}
}

// HTTP2Settings mirrors the SETTINGS frame values a real browser emits.
type HTTP2Settings struct {
	HeaderTableSize        uint32
	EnablePush             bool
	MaxConcurrentStreams   uint32
	InitialWindowSize      uint32
	MaxFrameSize           uint32
	MaxHeaderListSize      uint32
	ConnectionWindowUpdate uint32
	StreamWeight           uint16
	StreamExclusive        bool
}

// Preset is the impersonation profile for one browser version/platform pair:
// the TLS ClientHello shape, the HTTP/2 SETTINGS values, and the fingerprint
// fragments of the header set (User-Agent, Sec-Ch-Ua family). The rest of the
// outbound header set is the header composer's job, not the preset's.
type Preset struct {
	Name              string
	ClientHelloID     tls.ClientHelloID
	UserAgent         string
	SecChUA           string
	SecChUAMobile     string
	SecChUAPlatform   string
	HTTP2Settings     HTTP2Settings
}

// Chrome133 is the default profile this service impersonates: Chrome 133
// on macOS, fixed regardless of the host OS the process runs on — the
// fingerprint is a property of the impersonated client, not the deployment
// host. Use Chrome133Windows/Chrome133Linux/Chrome133macOS to pin a
// different platform explicitly.
func Chrome133() *Preset {
	p := platformInfo("darwin")
	return &Preset{
		Name:            "chrome-133",
		ClientHelloID:   tls.HelloChrome_133,
		UserAgent:       "Mozilla/5.0 " + p.UserAgentOS + " AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
		SecChUA:         `"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`,
		SecChUAMobile:   "?0",
		SecChUAPlatform: `"` + p.Platform + `"`,
		HTTP2Settings: HTTP2Settings{
			HeaderTableSize:        65536,
			EnablePush:             false,
			MaxConcurrentStreams:   0,
			InitialWindowSize:      6291456,
			MaxFrameSize:           16384,
			MaxHeaderListSize:      262144,
			ConnectionWindowUpdate: 15663105,
			StreamWeight:           256,
			StreamExclusive:        true,
		},
	}
}

// Chrome133Windows, Chrome133Linux and Chrome133macOS pin the platform
// instead of deriving it from the host, for deployments that want a fixed
// fingerprint regardless of the OS they run on.
func Chrome133Windows() *Preset {
	return chrome133For("chrome-133-windows", platformInfo("windows"))
}

func Chrome133Linux() *Preset {
	return chrome133For("chrome-133-linux", platformInfo("linux"))
}

func Chrome133macOS() *Preset {
	return chrome133For("chrome-133-macos", platformInfo("darwin"))
}

func chrome133For(name string, p PlatformInfo) *Preset {
	pr := Chrome133()
	pr.Name = name
	pr.UserAgent = "Mozilla/5.0 " + p.UserAgentOS + " AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
	pr.SecChUAPlatform = `"` + p.Platform + `"`
	return pr
}

var presets = map[string]func() *Preset{
	"chrome-133":         Chrome133,
	"chrome-133-windows": Chrome133Windows,
	"chrome-133-linux":   Chrome133Linux,
	"chrome-133-macos":   Chrome133macOS,
}

// Get returns a preset by name, defaulting to Chrome133 (fixed macOS) for
// unknown names rather than failing — an unrecognized preset name should
// never prevent a request from going out.
func Get(name string) *Preset {
	if fn, ok := presets[name]; ok {
		return fn()
	}
	return Chrome133()
}

// Available lists the preset names this build knows about.
func Available() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}
