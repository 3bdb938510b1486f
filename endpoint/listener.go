// Package endpoint implements EndpointListener: a single bound
// address/port, its accept loop, and the longest-prefix-match router
// across the three prefix tables (specific host, "*" star, "+" catch-all)
// described in spec §4.7.
package endpoint

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/internal/idgen"
	"github.com/planetsite/httplisten/prefix"
)

// entry pairs a registered prefix with the Target it routes to, used for
// the ordered star/all tables (spec §3 EndpointListener).
type entry struct {
	spec   prefix.Spec
	target httpconn.Target
}

// Listener is a single bound address: one net.Listener, its prefix
// tables, and the set of connections still being served (spec §3/§4.7).
//
// The three prefix collections are copy-on-write: reads load an
// atomic.Value snapshot with no locking; writes take writeMu, clone,
// mutate, and atomically store (grounded on bolt/core/router_lockfree.go's
// RouterLockFree).
type Listener struct {
	Addr   string
	Scheme string // "http" or "https"

	ln net.Listener

	specific atomic.Value // map[prefix.Spec]httpconn.Target
	star     atomic.Value // []entry
	all      atomic.Value // []entry

	writeMu sync.Mutex

	unregMu      sync.Mutex
	unregistered map[*httpconn.Connection]struct{}

	connOpts httpconn.Options
	log      *logrus.Entry
}

// New wraps an already-bound net.Listener as an EndpointListener.
// scheme is "http" or "https"; connOpts configures every Connection this
// endpoint spawns.
func New(ln net.Listener, scheme string, defaultPort int, connOpts httpconn.Options) *Listener {
	connOpts.Scheme = scheme
	connOpts.DefaultPort = defaultPort
	if connOpts.Log == nil {
		connOpts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	l := &Listener{
		Addr:         ln.Addr().String(),
		Scheme:       scheme,
		ln:           ln,
		connOpts:     connOpts,
		log:          connOpts.Log,
		unregistered: make(map[*httpconn.Connection]struct{}),
	}
	l.specific.Store(map[prefix.Spec]httpconn.Target{})
	l.star.Store([]entry{})
	l.all.Store([]entry{})
	return l
}

// AddPrefix registers target under spec, via copy-on-write (spec §4.7).
func (l *Listener) AddPrefix(spec prefix.Spec, target httpconn.Target) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	switch {
	case spec.IsUnhandled():
		old := l.star.Load().([]entry)
		next := make([]entry, len(old), len(old)+1)
		copy(next, old)
		next = append(next, entry{spec: spec, target: target})
		l.star.Store(next)
	case spec.IsCatchAll():
		old := l.all.Load().([]entry)
		next := make([]entry, len(old), len(old)+1)
		copy(next, old)
		next = append(next, entry{spec: spec, target: target})
		l.all.Store(next)
	default:
		old := l.specific.Load().(map[prefix.Spec]httpconn.Target)
		next := make(map[prefix.Spec]httpconn.Target, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[spec] = target
		l.specific.Store(next)
	}
}

// RemovePrefix is AddPrefix's inverse (spec §4.8).
func (l *Listener) RemovePrefix(spec prefix.Spec) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	switch {
	case spec.IsUnhandled():
		old := l.star.Load().([]entry)
		next := make([]entry, 0, len(old))
		for _, e := range old {
			if !e.spec.Equal(spec) {
				next = append(next, e)
			}
		}
		l.star.Store(next)
	case spec.IsCatchAll():
		old := l.all.Load().([]entry)
		next := make([]entry, 0, len(old))
		for _, e := range old {
			if !e.spec.Equal(spec) {
				next = append(next, e)
			}
		}
		l.all.Store(next)
	default:
		old := l.specific.Load().(map[prefix.Spec]httpconn.Target)
		next := make(map[prefix.Spec]httpconn.Target, len(old))
		for k, v := range old {
			if !k.Equal(spec) {
				next[k] = v
			}
		}
		l.specific.Store(next)
	}
}

// PrefixCount reports the total number of registered prefixes across all
// three tables, used by EndpointRegistry to decide when to close this
// endpoint.
func (l *Listener) PrefixCount() int {
	specific := l.specific.Load().(map[prefix.Spec]httpconn.Target)
	star := l.star.Load().([]entry)
	all := l.all.Load().([]entry)
	return len(specific) + len(star) + len(all)
}

// Route implements httpconn.Router: specific host match first (longest
// path prefix), then star ("*", port must match), then all ("+", port
// ignored) (spec §4.7 P4).
func (l *Listener) Route(u httpconn.RequestURL) (httpconn.Target, bool) {
	host := strings.ToLower(u.Host)

	specific := l.specific.Load().(map[prefix.Spec]httpconn.Target)
	if t, ok := longestSpecificMatch(specific, host, u.Port, u.Path); ok {
		return t, true
	}

	star := l.star.Load().([]entry)
	if t, ok := longestEntryMatch(star, u.Port, u.Path, true); ok {
		return t, true
	}

	all := l.all.Load().([]entry)
	if t, ok := longestEntryMatch(all, u.Port, u.Path, false); ok {
		return t, true
	}

	return nil, false
}

func longestSpecificMatch(m map[prefix.Spec]httpconn.Target, host string, port int, path string) (httpconn.Target, bool) {
	var best httpconn.Target
	bestLen := -1
	for spec, target := range m {
		if spec.Host != host || int(spec.Port) != port {
			continue
		}
		if n, ok := pathMatchLen(spec.Path, path); ok && n > bestLen {
			bestLen = n
			best = target
		}
	}
	return best, bestLen >= 0
}

func longestEntryMatch(entries []entry, port int, path string, checkPort bool) (httpconn.Target, bool) {
	var best httpconn.Target
	bestLen := -1
	for _, e := range entries {
		if checkPort && int(e.spec.Port) != port {
			continue
		}
		if n, ok := pathMatchLen(e.spec.Path, path); ok && n > bestLen {
			bestLen = n
			best = e.target
		}
	}
	return best, bestLen >= 0
}

// pathMatchLen reports whether entryPath is a prefix of path, or of
// path+"/" when path lacks a trailing slash (spec §4.7/§8 P4), returning
// the length to compare candidates by.
func pathMatchLen(entryPath, path string) (int, bool) {
	if strings.HasPrefix(path, entryPath) {
		return len(entryPath), true
	}
	if !strings.HasSuffix(path, "/") && strings.HasPrefix(path+"/", entryPath) {
		return len(entryPath), true
	}
	return 0, false
}

// Serve runs the accept loop until ctx is cancelled or the listener
// socket is closed, spawning one Connection per accepted socket (spec
// §4.7, §5 Cancellation).
func (l *Listener) Serve(ctx context.Context) error {
	stopCh := make(chan struct{})
	defer close(stopCh)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.ln.Close()
		case <-stopCh:
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			l.serveOne(ctx, conn)
		}()
	}
}

func (l *Listener) serveOne(ctx context.Context, conn net.Conn) {
	id := idgen.New()
	c := httpconn.New(id, conn, l, l.connOpts)

	l.unregMu.Lock()
	l.unregistered[c] = struct{}{}
	l.unregMu.Unlock()

	defer func() {
		l.unregMu.Lock()
		delete(l.unregistered, c)
		l.unregMu.Unlock()
	}()

	if err := c.Serve(ctx); err != nil {
		l.log.WithError(err).WithField("conn", id).Debug("connection closed")
	}
}

// Close stops accepting new connections and force-closes every
// connection still tracked as unregistered (spec §4.7).
func (l *Listener) Close() error {
	var result *multierror.Error
	if err := l.ln.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	l.unregMu.Lock()
	conns := make([]*httpconn.Connection, 0, len(l.unregistered))
	for c := range l.unregistered {
		conns = append(conns, c)
	}
	l.unregMu.Unlock()

	for _, c := range conns {
		if err := c.ForceClose(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
