// Package registry implements EndpointRegistry: the process-wide map from
// a bound (address, port) to its EndpointListener, per spec §4.8.
package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/planetsite/httplisten/certstore"
	"github.com/planetsite/httplisten/endpoint"
	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/prefix"
)

// Sentinel errors (spec §7 Lifecycle/Routing kinds).
var (
	// ErrSchemeMismatch is returned when a prefix's scheme disagrees
	// with an existing endpoint's scheme on the same address (spec §4.8).
	ErrSchemeMismatch = errors.New("registry: scheme does not match existing endpoint on this address")
	// ErrDisposed is returned for operations on a Shutdown registry.
	ErrDisposed = errors.New("registry: operation on a disposed registry")
)

// Options configures certificate discovery and per-connection behaviour
// for endpoints this registry creates.
type Options struct {
	CertDir     string
	DefaultCert *tls.Certificate
	ConnOptions httpconn.Options
	Log         *logrus.Entry
}

// Registry is the process-wide (address, port) → *endpoint.Listener map
// (spec §3/§4.8).
type Registry struct {
	opts Options

	mu        sync.Mutex
	endpoints map[string]*boundEndpoint
	disposed  bool

	wg sync.WaitGroup
}

type boundEndpoint struct {
	listener *endpoint.Listener
	scheme   string
	cancel   context.CancelFunc
}

// New creates an empty Registry.
func New(opts Options) *Registry {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		opts:      opts,
		endpoints: make(map[string]*boundEndpoint),
	}
}

// AddPrefix registers target under spec, binding a new endpoint (with
// SO_REUSEADDR) if one does not already exist for spec's address. Adding
// an https prefix to an existing http endpoint (or vice versa) fails
// with ErrSchemeMismatch (spec §4.8).
func (r *Registry) AddPrefix(ctx context.Context, spec prefix.Spec, target httpconn.Target) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return ErrDisposed
	}

	key := addrKey(spec.Port)
	be, ok := r.endpoints[key]
	if !ok {
		var err error
		be, err = r.bind(ctx, spec)
		if err != nil {
			return err
		}
		r.endpoints[key] = be
	} else if be.scheme != string(spec.Scheme) {
		return errors.Wrapf(ErrSchemeMismatch, "address %s: existing=%s new=%s", key, be.scheme, spec.Scheme)
	}

	be.listener.AddPrefix(spec, target)
	return nil
}

// RemovePrefix is AddPrefix's inverse. When the endpoint has no prefixes
// left in any table, the registry closes and removes it (spec §4.8).
func (r *Registry) RemovePrefix(spec prefix.Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return ErrDisposed
	}

	key := addrKey(spec.Port)
	be, ok := r.endpoints[key]
	if !ok {
		return nil
	}

	be.listener.RemovePrefix(spec)
	if be.listener.PrefixCount() == 0 {
		be.cancel()
		delete(r.endpoints, key)
		return be.listener.Close()
	}
	return nil
}

// bind creates the TCP (optionally TLS-wrapped) listener for spec's port
// and wraps it as an endpoint.Listener whose accept loop runs in a
// background goroutine until ctx is cancelled or Shutdown is called.
func (r *Registry) bind(ctx context.Context, spec prefix.Spec) (*boundEndpoint, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := fmt.Sprintf(":%d", spec.Port)

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "registry: binding %s", addr)
	}

	if spec.Scheme == prefix.SchemeHTTPS {
		cert, certErr := certstore.Resolve(r.opts.CertDir, int(spec.Port), r.opts.DefaultCert)
		if certErr != nil {
			_ = ln.Close()
			return nil, certErr
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{*cert}})
	}

	epCtx, cancel := context.WithCancel(ctx)
	l := endpoint.New(ln, string(spec.Scheme), int(spec.Port), r.opts.ConnOptions)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := l.Serve(epCtx); err != nil {
			r.opts.Log.WithError(err).WithField("addr", addr).Debug("endpoint accept loop stopped")
		}
	}()

	return &boundEndpoint{listener: l, scheme: string(spec.Scheme), cancel: cancel}, nil
}

func addrKey(port uint16) string {
	return fmt.Sprintf(":%d", port)
}

// Shutdown closes every bound endpoint and stops accepting new
// connections, aggregating per-endpoint errors.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	endpoints := r.endpoints
	r.endpoints = make(map[string]*boundEndpoint)
	r.mu.Unlock()

	var result *multierror.Error
	for _, be := range endpoints {
		be.cancel()
		if err := be.listener.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, ctx.Err())
	}

	return result.ErrorOrNil()
}
