package httpconn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/planetsite/httplisten/internal/ioutilx"
	"github.com/planetsite/httplisten/reqstream"
)

// Default timeouts and limits (spec §5 Timeouts, §7 Authentication).
const (
	DefaultFirstPreambleDeadline = 90 * time.Second
	DefaultReusePreambleDeadline = 15 * time.Second

	// DefaultMaxAuthRetries bounds how many failed authentication
	// attempts a single connection tolerates before the core closes it
	// (spec §9 Open Question, resolved as an explicit policy constant).
	DefaultMaxAuthRetries = 100
)

// ErrObjectDisposed is surfaced for lifecycle violations (spec §7 kind 6).
var ErrObjectDisposed = errors.New("httpconn: operation on a disposed connection")

// state is the Connection state machine (spec §4.6).
type state int

const (
	stateReadingPreamble state = iota
	stateAwaitingRoute
	stateDispatched
	stateWritingResponse
	stateFlushingInput
	stateClosed
)

// Options configures a Connection (the Go analogue of the teacher's
// ConnectionConfig).
type Options struct {
	// Scheme is "http" or "https", used to resolve the request URL.
	Scheme string
	// DefaultPort is used when the Host header carries no explicit port.
	DefaultPort int

	FirstPreambleDeadline time.Duration
	ReusePreambleDeadline time.Duration
	MaxAuthRetries        int

	// IgnoreWriteExceptions, when true, keeps the connection open on a
	// response-write failure instead of closing it (spec §4.6
	// WritingResponse).
	IgnoreWriteExceptions bool

	Log *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.FirstPreambleDeadline == 0 {
		o.FirstPreambleDeadline = DefaultFirstPreambleDeadline
	}
	if o.ReusePreambleDeadline == 0 {
		o.ReusePreambleDeadline = DefaultReusePreambleDeadline
	}
	if o.MaxAuthRetries == 0 {
		o.MaxAuthRetries = DefaultMaxAuthRetries
	}
	if o.Scheme == "" {
		o.Scheme = "http"
	}
	if o.DefaultPort == 0 {
		o.DefaultPort = 80
	}
	if o.Log == nil {
		o.Log = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Connection is a single accepted socket's state machine: read preamble,
// route, dispatch to a Target, write response, flush input, and either
// reuse (keep-alive) or close (spec §4.6).
type Connection struct {
	id     string
	conn   net.Conn
	router Router
	opts   Options

	reuses    int
	authTries int

	st    state
	timer *ioutilx.ConnectionTimer

	closeMu sync.Mutex
	closed  bool
}

// New creates a Connection over an already-accepted socket. id is a
// caller-supplied correlation identifier (see internal/idgen).
func New(id string, conn net.Conn, router Router, opts Options) *Connection {
	opts.setDefaults()
	return &Connection{
		id:    id,
		timer: ioutilx.NewConnectionTimer(),
		conn:   conn,
		router: router,
		opts:   opts,
		st:     stateReadingPreamble,
	}
}

// Serve runs the connection's request loop until the peer closes the
// socket, a framing/policy error forces a close, or ctx is cancelled.
// Serve never returns while the connection can still be reused.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.close()

	stopWatch := c.watchCancel(ctx)
	defer stopWatch()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.st = stateReadingPreamble
		deadline := c.preambleDeadline()
		if deadline > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
		}

		pre, carry, accumulated, err := c.readPreamble()
		if err != nil {
			if err == io.EOF && accumulated == 0 {
				return nil // clean close between requests
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.writePage(pageRequestTimeout(), 1, 1)
				return nil
			}
			if accumulated > 0 {
				if err == ErrPreambleTooLarge {
					c.writePage(pagePreambleTooLarge(), 1, 1)
				} else {
					c.writePage(pageBadRequest(err.Error()), 1, 1)
				}
			}
			return err
		}

		c.st = stateAwaitingRoute
		target, ok := c.router.Route(pre.URL)
		if !ok {
			c.writePage(pageNotFound(), pre.ProtoMajor, pre.ProtoMinor)
			return nil
		}

		body := c.newBodyStream(pre, carry)

		scheme := target.SelectAuthScheme(pre)
		if scheme != AuthNone && scheme != AuthAnonymous {
			auth := target.Authenticator()
			var result AuthResult
			if auth != nil {
				result = auth.Authenticate(scheme, pre)
			}
			if !result.Authenticated {
				c.authTries++
				_ = body.FlushInput()
				if c.authTries > c.opts.MaxAuthRetries {
					c.writePage(pageTooManyAuthAttempts(), pre.ProtoMajor, pre.ProtoMinor)
					return nil
				}
				c.writePage(pageUnauthorized(result.Challenge), pre.ProtoMajor, pre.ProtoMinor)
				// Unauthorized responses always carry Connection: close in
				// the rendered page, but spec §7 allows bounded retry over
				// the SAME connection: reopen it explicitly here.
				if err := c.resetForRetry(); err != nil {
					return err
				}
				continue
			}
		}

		c.st = stateDispatched
		rc := newRequestContext(c.id, pre, body, c.conn)
		if err := target.Enqueue(ctx, rc); err != nil {
			return err
		}

		select {
		case <-rc.Done():
		case <-ctx.Done():
			return ctx.Err()
		}

		c.st = stateWritingResponse
		if werr := rc.writeErr(); werr != nil && !c.opts.IgnoreWriteExceptions {
			return werr
		}

		c.st = stateFlushingInput
		if err := body.FlushInput(); err != nil {
			return err
		}

		if rc.closeWasRequested() || !c.connectionShouldReuse(pre) {
			return nil
		}

		c.reuses++
	}
}

// resetForRetry undoes the "render as connection: close" behaviour of the
// 401 error page for the bounded-retry path: the wire response still says
// Connection: close (spec §6's minimal error body contract is uniform),
// but the core keeps serving the same socket, counting it as a reuse.
func (c *Connection) resetForRetry() error {
	c.reuses++
	return nil
}

func (c *Connection) preambleDeadline() time.Duration {
	if c.reuses == 0 {
		return c.opts.FirstPreambleDeadline
	}
	return c.opts.ReusePreambleDeadline
}

// readPreamble accumulates bytes from the connection until the parser
// reports completion, the MaxPreambleSize cap is exceeded, or an I/O
// error occurs. It returns the parsed preamble plus any body bytes the
// parser over-read past the terminating blank line (the "carry").
func (c *Connection) readPreamble() (pre *RequestPreamble, carry []byte, accumulated int, err error) {
	parser := newPreambleParser()
	buf := make([]byte, ReadChunkSize)

	c.timer.StartPreamble()
	defer c.timer.EndPreamble()

	for {
		n, rerr := c.conn.Read(buf)
		if n > 0 {
			accumulated += n
			if accumulated > MaxPreambleSize {
				return nil, nil, accumulated, ErrPreambleTooLarge
			}
			done, consumed, ferr := parser.feed(buf[:n])
			if ferr != nil {
				return nil, nil, accumulated, ferr
			}
			if done {
				pre, berr := parser.build(c.opts.Scheme, c.opts.DefaultPort)
				if berr != nil {
					return nil, nil, accumulated, berr
				}
				leftover := n - consumed
				var carry []byte
				if leftover > 0 {
					carry = make([]byte, leftover)
					copy(carry, buf[consumed:n])
				}
				return pre, carry, accumulated, nil
			}
		}
		if rerr != nil {
			return nil, nil, accumulated, rerr
		}
	}
}

func (c *Connection) newBodyStream(pre *RequestPreamble, carry []byte) reqstream.Stream {
	if containsToken(pre.TransferEncoding, "chunked") {
		return reqstream.NewChunked(c.conn, carry)
	}
	cl := pre.ContentLength
	if cl < 0 {
		cl = 0
	}
	return reqstream.New(c.conn, carry, cl)
}

// connectionShouldReuse applies the HTTP/1.0-vs-1.1 keep-alive default
// and the Connection header override (spec §8 boundary behaviour: a
// Connection: close header never reuses, regardless of HTTP version).
func (c *Connection) connectionShouldReuse(pre *RequestPreamble) bool {
	if containsToken(pre.Headers.Values("Connection"), "close") {
		return false
	}
	if pre.ProtoMajor == 1 && pre.ProtoMinor == 0 {
		return containsToken(pre.Headers.Values("Connection"), "keep-alive")
	}
	return true
}

func (c *Connection) writePage(p errorPage, major, minor int) {
	_, _ = c.conn.Write(p.render(major, minor))
}

// watchCancel closes the underlying socket if ctx is cancelled before the
// connection finishes on its own, unblocking any in-flight Read/Write
// (spec §5 Cancellation).
func (c *Connection) watchCancel(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (c *Connection) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.st = stateClosed
	_ = c.conn.Close()

	m := c.timer.Metrics()
	c.opts.Log.WithFields(logrus.Fields{
		"conn":   c.id,
		"reuses": c.reuses,
		"total":  m.TotalTime,
	}).Debug("connection closed")
}

// ForceClose closes the underlying socket immediately, unblocking any
// in-flight Serve call. It is used by EndpointListener to tear down
// still-unregistered connections on shutdown (spec §4.7).
func (c *Connection) ForceClose() error {
	c.close()
	return nil
}

// RemoteAddr returns the connection's remote network address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Reuses returns how many times this connection has looped back to
// ReadingPreamble, after a served request or a 401 challenge.
func (c *Connection) Reuses() int { return c.reuses }
