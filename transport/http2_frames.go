package transport

import (
	"bytes"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/sardanioss/httpcloakproxy/fingerprint"
	"golang.org/x/net/http2/hpack"
	tls "github.com/sardanioss/utls"
)

// This file rewrites the first SETTINGS and WINDOW_UPDATE frames and every
// complete (END_HEADERS) request HEADERS frame of an outgoing HTTP/2
// connection to match the impersonated preset —
// the Go HTTP/2 client otherwise emits its own SETTINGS values and leaves
// pseudo-headers in whatever order net/http2 happens to produce, neither of
// which matches a real Chrome ClientHello's H2 fingerprint.

const (
	frameTypeHeaders      = 0x1
	frameTypeSettings     = 0x4
	frameTypeWindowUpdate = 0x8
)

const (
	settingHeaderTableSize      = 0x1
	settingEnablePush           = 0x2
	settingMaxConcurrentStreams = 0x3
	settingInitialWindowSize    = 0x4
	settingMaxHeaderListSize    = 0x6
)

const frameHeaderLen = 9

// chromeHeaderOrder is the order a real Chrome 133 request emits regular
// (non-pseudo) headers in, extracted from captured ClientHello/HEADERS pairs.
var chromeHeaderOrder = []string{
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"upgrade-insecure-requests",
	"user-agent",
	"accept",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-user",
	"sec-fetch-dest",
	"accept-encoding",
	"accept-language",
	"cache-control",
	"pragma",
	"cookie",
	"origin",
	"referer",
}

// http2FrameConn wraps a raw TLS connection and rewrites the frames the Go
// HTTP/2 client writes to it so the wire fingerprint matches the preset.
type http2FrameConn struct {
	net.Conn
	preset *fingerprint.Preset

	mu            sync.Mutex
	buf           bytes.Buffer
	wrotePreface  bool
	wroteSettings bool
	wroteWindow   bool
	hpackEncoder  *hpack.Encoder
	hpackBuf      bytes.Buffer
}

func newHTTP2FrameConn(conn net.Conn, preset *fingerprint.Preset) *http2FrameConn {
	c := &http2FrameConn{Conn: conn, preset: preset}
	c.hpackEncoder = hpack.NewEncoder(&c.hpackBuf)
	return c
}

func (c *http2FrameConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Write(p)
	n := len(p)

	for c.buf.Len() > 0 {
		data := c.buf.Bytes()

		if !c.wrotePreface {
			preface := []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
			if len(data) >= len(preface) && bytes.Equal(data[:len(preface)], preface) {
				if _, err := c.Conn.Write(preface); err != nil {
					return 0, err
				}
				c.buf.Next(len(preface))
				c.wrotePreface = true
				continue
			}
			break
		}

		if len(data) < frameHeaderLen {
			break
		}

		length := (uint32(data[0]) << 16) | (uint32(data[1]) << 8) | uint32(data[2])
		frameType := data[3]
		frameSize := int(frameHeaderLen) + int(length)
		if len(data) < frameSize {
			break
		}

		switch frameType {
		case frameTypeSettings:
			if !c.wroteSettings {
				if _, err := c.Conn.Write(c.buildSettingsFrame()); err != nil {
					return 0, err
				}
				c.wroteSettings = true
				c.buf.Next(frameSize)
				continue
			}
		case frameTypeWindowUpdate:
			if !c.wroteWindow {
				if _, err := c.Conn.Write(c.buildWindowUpdateFrame()); err != nil {
					return 0, err
				}
				c.wroteWindow = true
				c.buf.Next(frameSize)
				continue
			}
		case frameTypeHeaders:
			flags := data[4]
			streamID := binary.BigEndian.Uint32(data[5:9]) & 0x7FFFFFFF
			if flags&0x4 != 0 && streamID > 0 {
				if rebuilt, err := c.rebuildHeadersFrame(data[:frameSize]); err == nil {
					if _, err := c.Conn.Write(rebuilt); err != nil {
						return 0, err
					}
					c.buf.Next(frameSize)
					continue
				}
			}
		}

		if _, err := c.Conn.Write(data[:frameSize]); err != nil {
			return 0, err
		}
		c.buf.Next(frameSize)
	}

	return n, nil
}

func (c *http2FrameConn) buildSettingsFrame() []byte {
	s := c.preset.HTTP2Settings
	var payload bytes.Buffer

	if s.HeaderTableSize > 0 {
		binary.Write(&payload, binary.BigEndian, uint16(settingHeaderTableSize))
		binary.Write(&payload, binary.BigEndian, s.HeaderTableSize)
	}
	binary.Write(&payload, binary.BigEndian, uint16(settingEnablePush))
	if s.EnablePush {
		binary.Write(&payload, binary.BigEndian, uint32(1))
	} else {
		binary.Write(&payload, binary.BigEndian, uint32(0))
	}
	binary.Write(&payload, binary.BigEndian, uint16(settingMaxConcurrentStreams))
	binary.Write(&payload, binary.BigEndian, s.MaxConcurrentStreams)
	if s.InitialWindowSize > 0 {
		binary.Write(&payload, binary.BigEndian, uint16(settingInitialWindowSize))
		binary.Write(&payload, binary.BigEndian, s.InitialWindowSize)
	}
	if s.MaxHeaderListSize > 0 {
		binary.Write(&payload, binary.BigEndian, uint16(settingMaxHeaderListSize))
		binary.Write(&payload, binary.BigEndian, s.MaxHeaderListSize)
	}

	return buildFrame(frameTypeSettings, 0, 0, payload.Bytes())
}

func (c *http2FrameConn) buildWindowUpdateFrame() []byte {
	increment := c.preset.HTTP2Settings.ConnectionWindowUpdate
	if increment == 0 {
		increment = 15663105
	}
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, increment&0x7FFFFFFF)
	return buildFrame(frameTypeWindowUpdate, 0, 0, payload)
}

func buildFrame(frameType byte, flags byte, streamID uint32, payload []byte) []byte {
	frame := make([]byte, frameHeaderLen+len(payload))
	frame[0] = byte(len(payload) >> 16)
	frame[1] = byte(len(payload) >> 8)
	frame[2] = byte(len(payload))
	frame[3] = frameType
	frame[4] = flags
	binary.BigEndian.PutUint32(frame[5:9], streamID&0x7FFFFFFF)
	copy(frame[frameHeaderLen:], payload)
	return frame
}

// rebuildHeadersFrame re-emits the HEADERS frame with pseudo-headers in
// :method :authority :scheme :path order, a Priority flag matching the
// preset's stream weight, and regular headers in chromeHeaderOrder.
func (c *http2FrameConn) rebuildHeadersFrame(original []byte) ([]byte, error) {
	flags := original[4]
	streamID := binary.BigEndian.Uint32(original[5:9]) & 0x7FFFFFFF

	hasPadding := flags&0x8 != 0
	hasPriority := flags&0x20 != 0

	start := frameHeaderLen
	if hasPadding {
		start++
	}
	if hasPriority {
		start += 5
	}

	block := original[start:]
	if hasPadding {
		padLen := int(original[frameHeaderLen])
		if padLen < len(block) {
			block = block[:len(block)-padLen]
		}
	}

	decoder := hpack.NewDecoder(65536, nil)
	fields, err := decoder.DecodeFull(block)
	if err != nil {
		return nil, err
	}

	var method, authority, scheme, path string
	regular := make(map[string]string, len(fields))
	for _, f := range fields {
		switch f.Name {
		case ":method":
			method = f.Value
		case ":authority":
			authority = f.Value
		case ":scheme":
			scheme = f.Value
		case ":path":
			path = f.Value
		default:
			regular[f.Name] = f.Value
		}
	}

	c.hpackBuf.Reset()
	c.hpackEncoder.WriteField(hpack.HeaderField{Name: ":method", Value: method})
	c.hpackEncoder.WriteField(hpack.HeaderField{Name: ":authority", Value: authority})
	c.hpackEncoder.WriteField(hpack.HeaderField{Name: ":scheme", Value: scheme})
	c.hpackEncoder.WriteField(hpack.HeaderField{Name: ":path", Value: path})

	written := make(map[string]bool, len(regular))
	for _, name := range chromeHeaderOrder {
		if v, ok := regular[name]; ok {
			c.hpackEncoder.WriteField(hpack.HeaderField{Name: name, Value: v})
			written[name] = true
		}
	}
	for name, v := range regular {
		if !written[name] {
			c.hpackEncoder.WriteField(hpack.HeaderField{Name: name, Value: v})
		}
	}
	newBlock := append([]byte(nil), c.hpackBuf.Bytes()...)

	weight := c.preset.HTTP2Settings.StreamWeight
	if weight == 0 {
		weight = 256
	}
	priority := make([]byte, 5)
	binary.BigEndian.PutUint32(priority[0:4], 0x80000000) // exclusive, depends_on stream 0
	priority[4] = byte(weight - 1)

	newFlags := (flags & 0x05) | 0x20 // keep END_STREAM/END_HEADERS, add PRIORITY
	payload := append(priority, newBlock...)
	return buildFrame(frameTypeHeaders, newFlags, streamID, payload), nil
}

func (c *http2FrameConn) Read(p []byte) (int, error) { return c.Conn.Read(p) }
func (c *http2FrameConn) Close() error               { return c.Conn.Close() }

// http2FrameTLSConn exposes ConnectionState from the wrapped uTLS connection
// so the net/http2 client can see ALPN/version even though Write is proxied.
type http2FrameTLSConn struct {
	*http2FrameConn
	tlsConn *tls.UConn
}

func (w *http2FrameTLSConn) ConnectionState() tls.ConnectionState {
	return w.tlsConn.ConnectionState()
}

func (w *http2FrameTLSConn) SetDeadline(t time.Time) error      { return w.tlsConn.SetDeadline(t) }
func (w *http2FrameTLSConn) SetReadDeadline(t time.Time) error  { return w.tlsConn.SetReadDeadline(t) }
func (w *http2FrameTLSConn) SetWriteDeadline(t time.Time) error { return w.tlsConn.SetWriteDeadline(t) }

// wrapForFingerprint wraps a uTLS connection so writes through it produce
// Chrome-133-shaped HTTP/2 frames instead of the Go client's defaults.
func wrapForFingerprint(tlsConn *tls.UConn, preset *fingerprint.Preset) net.Conn {
	return &http2FrameTLSConn{
		http2FrameConn: newHTTP2FrameConn(tlsConn, preset),
		tlsConn:        tlsConn,
	}
}
