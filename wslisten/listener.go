// Package wslisten implements Listener: the public facade a host embeds
// to register prefixes, configure authentication, and receive routed
// requests off a bounded context queue (spec §4.9).
package wslisten

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/prefix"
	"github.com/planetsite/httplisten/registry"
)

// ErrDisposed is returned by Enqueue/GetContext once the Listener has
// been stopped (spec §7 Lifecycle kind).
var ErrDisposed = errors.New("wslisten: operation on a disposed listener")

// DefaultQueueSize is the ContextQueue's default capacity.
const DefaultQueueSize = 64

// AuthSelector chooses the authentication scheme for a request (spec
// §4.9). A nil selector means AuthNone for every request.
type AuthSelector func(*httpconn.RequestPreamble) httpconn.AuthScheme

// Options configures a Listener.
type Options struct {
	// Prefixes are the literal prefix specs this Listener registers on
	// Start, e.g. "http://+:80/api/".
	Prefixes []string

	// QueueSize bounds the ContextQueue (spec §5: bounded MPMC channel
	// with backpressure). Zero uses DefaultQueueSize.
	QueueSize int

	AuthSelector  AuthSelector
	Authenticator httpconn.Authenticator
}

// Listener is the host-facing facade: a set of registered prefixes, an
// authentication policy, and a bounded queue of routed RequestContexts
// (spec §3 Listener, §4.9).
type Listener struct {
	opts  Options
	specs []prefix.Spec

	queue  chan *httpconn.RequestContext
	stopCh chan struct{}

	disposed atomic.Bool
}

// New parses opts.Prefixes and constructs a Listener. It does not bind
// any sockets; call Start to register with a Registry.
func New(opts Options) (*Listener, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	specs := make([]prefix.Spec, 0, len(opts.Prefixes))
	for _, lit := range opts.Prefixes {
		spec, err := prefix.Parse(lit)
		if err != nil {
			return nil, errors.Wrapf(err, "wslisten: parsing prefix %q", lit)
		}
		specs = append(specs, spec)
	}

	return &Listener{
		opts:   opts,
		specs:  specs,
		queue:  make(chan *httpconn.RequestContext, opts.QueueSize),
		stopCh: make(chan struct{}),
	}, nil
}

// Start registers every configured prefix with reg via
// Registry.AddPrefix (spec §4.9).
func (l *Listener) Start(ctx context.Context, reg *registry.Registry) error {
	for i, spec := range l.specs {
		if err := reg.AddPrefix(ctx, spec, l); err != nil {
			// Roll back prefixes already registered before the failure.
			for _, done := range l.specs[:i] {
				_ = reg.RemovePrefix(done)
			}
			return err
		}
	}
	return nil
}

// Stop removes every registered prefix and disposes the Listener: queued
// contexts already buffered are still delivered to a draining
// GetContext call, but every pending and future Enqueue/GetContext call
// past that point fails with ErrDisposed (spec §4.9).
//
// Stop does not close connections itself. Connections are force-closed
// only when removing a prefix leaves its endpoint with no prefixes, in
// which case the registry closes that endpoint; connections on an
// endpoint that still has other prefixes stay open.
//
// stopCh, not a closed l.queue, is what unblocks Enqueue/GetContext:
// closing the queue channel itself would race an in-flight Enqueue's
// send against this close and panic the process.
func (l *Listener) Stop(reg *registry.Registry) error {
	if !l.disposed.CompareAndSwap(false, true) {
		return nil
	}
	close(l.stopCh)

	var result *multierror.Error
	for _, spec := range l.specs {
		if err := reg.RemovePrefix(spec); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// SelectAuthScheme implements httpconn.Target.
func (l *Listener) SelectAuthScheme(p *httpconn.RequestPreamble) httpconn.AuthScheme {
	if l.opts.AuthSelector == nil {
		return httpconn.AuthNone
	}
	return l.opts.AuthSelector(p)
}

// Authenticator implements httpconn.Target.
func (l *Listener) Authenticator() httpconn.Authenticator {
	return l.opts.Authenticator
}

// Enqueue implements httpconn.Target: hands rc to the ContextQueue,
// blocking under backpressure until ctx is cancelled or the Listener is
// stopped (spec §5 Shared-resource policy).
func (l *Listener) Enqueue(ctx context.Context, rc *httpconn.RequestContext) error {
	if l.disposed.Load() {
		return ErrDisposed
	}

	select {
	case l.queue <- rc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopCh:
		return ErrDisposed
	}
}

// GetContext awaits the next routed RequestContext, per spec §4.9
// ("GetContext awaits the queue"). Contexts already buffered at the time
// Stop is called are still returned before ErrDisposed.
func (l *Listener) GetContext(ctx context.Context) (*httpconn.RequestContext, error) {
	select {
	case rc := <-l.queue:
		return rc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.stopCh:
		select {
		case rc := <-l.queue:
			return rc, nil
		default:
			return nil, ErrDisposed
		}
	}
}
