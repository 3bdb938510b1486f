// Package wsupgrade detects RFC 6455 WebSocket upgrade requests. Frame
// coding and control-frame semantics past the handshake are out of scope
// (spec §1); this package only decides whether a preamble is an upgrade
// request the host should hand off to an external WebSocket module.
package wsupgrade

import "github.com/planetsite/httplisten/headers"

// These are the headers whose mere presence (with the right
// values where checked) marks a GET request as a WebSocket upgrade (spec
// §6).
const (
	headerUpgrade   = "Upgrade"
	headerConn      = "Connection"
	headerWSVersion = "Sec-WebSocket-Version"
	headerWSKey     = "Sec-WebSocket-Key"
)

// Detect reports whether method/protocol/headers describe a WebSocket
// upgrade handshake: GET, HTTP/1.1, Upgrade: websocket (case-insensitive),
// Connection: Upgrade, and both Sec-WebSocket-Version and
// Sec-WebSocket-Key present.
func Detect(method string, protoMajor, protoMinor int, h *headers.Set) bool {
	if method != "GET" || protoMajor != 1 || protoMinor != 1 {
		return false
	}
	if !containsToken(h.Values(headerUpgrade), "websocket") {
		return false
	}
	if !containsToken(h.Values(headerConn), "upgrade") {
		return false
	}
	if h.Get(headerWSVersion) == "" {
		return false
	}
	if h.Get(headerWSKey) == "" {
		return false
	}
	return true
}

func containsToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range splitComma(v) {
			if equalFold(trimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
