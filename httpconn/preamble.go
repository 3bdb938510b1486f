package httpconn

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/planetsite/httplisten/headers"
	"github.com/planetsite/httplisten/lineio"
	"github.com/planetsite/httplisten/wsupgrade"
)

// MaxPreambleSize is the hard cap on a request preamble's total size
// (request line + headers + terminating blank line), per spec §3/§4.6.
const MaxPreambleSize = 32768

// ReadChunkSize is how many bytes Connection reads from the transport at a
// time while accumulating a preamble (spec §4.6).
const ReadChunkSize = 8192

// RequestURL is the resolved scheme+host+port+path used for routing.
type RequestURL struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// RequestPreamble is the parsed request line and headers of one HTTP
// request (spec §3).
type RequestPreamble struct {
	Method       string
	Target       string
	ProtoMajor   int
	ProtoMinor   int
	Headers      *headers.Set
	HostHeader   string
	ContentLength int64 // -1 when chunked; 0 when no Content-Length header
	TransferEncoding []string
	Expect100Continue bool
	IsWebSocketUpgrade bool
	URL          RequestURL
}

// Sentinel framing errors (spec §7, ProtocolFraming kind).
var (
	ErrInvalidRequestLine = errors.New("httpconn: invalid request line")
	ErrInvalidProtocol    = errors.New("httpconn: invalid or unsupported protocol version")
	ErrInvalidHeaderLine  = errors.New("httpconn: invalid header line")
	ErrMissingHost        = errors.New("httpconn: missing required Host header")
	ErrInvalidContentLength = errors.New("httpconn: invalid Content-Length")
	ErrContentLengthWithChunked = errors.New("httpconn: Content-Length ignored: Transfer-Encoding chunked present")
	ErrPreambleTooLarge   = errors.New("httpconn: preamble exceeds maximum size")
)

// preambleParser drives lineio.Reader across the request-line and header
// lines of one preamble (spec §4.6's ReadingPreamble state).
type preambleParser struct {
	lr          *lineio.Reader
	sawRequestLine bool
	done        bool

	method string
	target string
	major  int
	minor  int

	hdrs       *headers.Set
	lastName   string
	lastValue  string
	haveHeader bool
}

func newPreambleParser() *preambleParser {
	return &preambleParser{
		lr:   lineio.New(),
		hdrs: headers.New(true),
	}
}

// feed processes one buffer of newly-read transport bytes. It returns
// done=true once the terminating blank line has been seen, along with
// consumed: the number of leading bytes of data that make up the
// preamble (through and including the blank line's terminator). Any
// bytes at data[consumed:] are body bytes the caller already read off
// the transport and must carry forward (spec §3/§4.5 "carry").
func (p *preambleParser) feed(data []byte) (done bool, consumed int, err error) {
	for i, b := range data {
		line, complete := p.lr.Feed(b)
		if !complete {
			continue
		}
		if err := p.feedLine(line); err != nil {
			return false, 0, err
		}
		if p.done {
			return true, i + 1, nil
		}
	}
	return false, len(data), nil
}

func (p *preambleParser) feedLine(line []byte) error {
	if !p.sawRequestLine {
		p.sawRequestLine = true
		return p.parseRequestLine(line)
	}

	if len(line) == 0 {
		p.flushHeader()
		p.done = true
		return nil
	}

	// LWS continuation: a line starting with SP or HTAB extends the
	// previous header's value (spec §6).
	if line[0] == ' ' || line[0] == '\t' {
		if !p.haveHeader {
			return errors.Wrapf(ErrInvalidHeaderLine, "unexpected continuation %q", line)
		}
		p.appendContinuation(line)
		return nil
	}

	p.flushHeader()

	idx := indexByte(line, ':')
	if idx <= 0 {
		return errors.Wrapf(ErrInvalidHeaderLine, "line %q", line)
	}
	name := strings.TrimSpace(string(line[:idx]))
	value := strings.TrimSpace(string(line[idx+1:]))
	p.lastName = name
	p.lastValue = value
	p.haveHeader = true
	return nil
}

func (p *preambleParser) appendContinuation(line []byte) {
	p.lastValue = p.lastValue + " " + strings.TrimSpace(string(line))
}

func (p *preambleParser) flushHeader() {
	if p.haveHeader {
		p.hdrs.AddRaw(p.lastName, p.lastValue)
		p.haveHeader = false
		p.lastName = ""
		p.lastValue = ""
	}
}

func (p *preambleParser) parseRequestLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return errors.Wrapf(ErrInvalidRequestLine, "line %q", line)
	}
	p.method = parts[0]
	p.target = parts[1]

	major, minor, err := parseProtocol(parts[2])
	if err != nil {
		return err
	}
	p.major, p.minor = major, minor
	return nil
}

func parseProtocol(s string) (major, minor int, err error) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(s, prefix) {
		return 0, 0, ErrInvalidProtocol
	}
	rest := s[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, ErrInvalidProtocol
	}
	major, errA := strconv.Atoi(rest[:dot])
	minor, errB := strconv.Atoi(rest[dot+1:])
	if errA != nil || errB != nil {
		return 0, 0, ErrInvalidProtocol
	}
	if major != 1 {
		return 0, 0, ErrInvalidProtocol
	}
	return major, minor, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// build finalizes a RequestPreamble from the parsed fields, applying the
// invariants of spec §3 (content-length vs transfer-encoding precedence,
// websocket-upgrade detection, Host requirement on HTTP/1.1).
func (p *preambleParser) build(scheme string, defaultPort int) (*RequestPreamble, error) {
	host := p.hdrs.Get("Host")
	if host == "" && p.major == 1 && p.minor == 1 {
		return nil, ErrMissingHost
	}

	pre := &RequestPreamble{
		Method:       p.method,
		Target:       p.target,
		ProtoMajor:   p.major,
		ProtoMinor:   p.minor,
		Headers:      p.hdrs,
		HostHeader:   host,
		ContentLength: -1,
	}

	te := p.hdrs.Values("Transfer-Encoding")
	pre.TransferEncoding = te
	chunked := containsToken(te, "chunked")

	if !chunked {
		if cl := p.hdrs.Get("Content-Length"); cl != "" {
			n, err := strconv.ParseInt(cl, 10, 64)
			if err != nil || n < 0 {
				return nil, errors.Wrapf(ErrInvalidContentLength, "value %q", cl)
			}
			pre.ContentLength = n
		} else {
			pre.ContentLength = 0
		}
	}
	// chunked: content-length MUST be ignored, and remains -1 (meaning
	// "use chunked framing instead"), even if a Content-Length header is
	// also present (spec §3 invariant). ChunkedRequestStream is the
	// authority on body length in that case.

	pre.Expect100Continue = strings.EqualFold(p.hdrs.Get("Expect"), "100-continue")

	pre.IsWebSocketUpgrade = wsupgrade.Detect(p.method, p.major, p.minor, p.hdrs)

	host2, port := splitHostPort(host, defaultPort)
	pre.URL = RequestURL{
		Scheme: scheme,
		Host:   host2,
		Port:   port,
		Path:   requestPath(p.target),
	}

	return pre, nil
}

func containsToken(values []string, token string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func splitHostPort(host string, defaultPort int) (string, int) {
	if host == "" {
		return "", defaultPort
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		if port, err := strconv.Atoi(host[idx+1:]); err == nil {
			return strings.ToLower(host[:idx]), port
		}
	}
	return strings.ToLower(host), defaultPort
}

func requestPath(target string) string {
	if target == "*" {
		return "*"
	}
	if idx := strings.IndexByte(target, '?'); idx >= 0 {
		return target[:idx]
	}
	return target
}
