package httpconn

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/planetsite/httplisten/reqstream"
)

// Target is what a matched route hands a parsed request to. It is
// satisfied by the Listener facade (package wslisten); httpconn only
// depends on this interface so that the transport/parsing core never
// imports the routing/registry layers above it.
type Target interface {
	// SelectAuthScheme chooses the auth scheme for this request, or
	// AuthNone if no authentication is configured.
	SelectAuthScheme(p *RequestPreamble) AuthScheme
	// Authenticator returns the external authenticator for this target,
	// or nil if SelectAuthScheme never returns a scheme requiring one.
	Authenticator() Authenticator
	// Enqueue hands the context to the target's ContextQueue. It must not
	// block past ctx's cancellation.
	Enqueue(ctx context.Context, rc *RequestContext) error
}

// Router resolves a request URL to a Target, implementing the
// longest-prefix matching algorithm of spec §4.7. Satisfied by
// endpoint.Listener.
type Router interface {
	Route(u RequestURL) (Target, bool)
}

// RequestContext is handed from a Connection to a Target's ContextQueue,
// the Go analogue of the source's HttpListenerContext (spec §3
// [EXPANSION]).
type RequestContext struct {
	ID        string
	Preamble  *RequestPreamble
	Body      reqstream.Stream
	Principal any
	StartedAt time.Time

	respWriter *trackingWriter

	mu             sync.Mutex
	done           chan struct{}
	closeRequested bool
	closed         bool
}

func newRequestContext(id string, preamble *RequestPreamble, body reqstream.Stream, transport io.Writer) *RequestContext {
	return &RequestContext{
		ID:         id,
		Preamble:   preamble,
		Body:       body,
		StartedAt:  time.Now(),
		respWriter: &trackingWriter{w: transport},
		done:       make(chan struct{}),
	}
}

// ResponseWriter returns the raw sink host code writes its response bytes
// to. Response framing (status line, headers) is a host concern — it is
// outside the component list of spec §2; the core only needs to observe
// whether writes succeeded.
func (rc *RequestContext) ResponseWriter() io.Writer {
	return rc.respWriter
}

// Close signals that the host has finished writing the response.
// closeAfter requests that the connection not be reused for a subsequent
// keep-alive request even if framing would otherwise allow it.
func (rc *RequestContext) Close(closeAfter bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	rc.closeRequested = closeAfter
	close(rc.done)
}

// Done returns a channel closed once the host has called Close.
func (rc *RequestContext) Done() <-chan struct{} {
	return rc.done
}

func (rc *RequestContext) closeWasRequested() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closeRequested
}

func (rc *RequestContext) writeErr() error {
	return rc.respWriter.err
}

// trackingWriter wraps the transport writer so Connection can observe
// write failures without the host needing to plumb errors back manually.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}
