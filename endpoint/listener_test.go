package endpoint_test

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planetsite/httplisten/endpoint"
	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/prefix"
)

type stubTarget struct{ name string }

func (t stubTarget) SelectAuthScheme(*httpconn.RequestPreamble) httpconn.AuthScheme {
	return httpconn.AuthNone
}
func (t stubTarget) Authenticator() httpconn.Authenticator { return nil }
func (t stubTarget) Enqueue(context.Context, *httpconn.RequestContext) error {
	return nil
}

func mustParse(t *testing.T, lit string) prefix.Spec {
	t.Helper()
	s, err := prefix.Parse(lit)
	require.NoError(t, err)
	return s
}

func newTestListener(t *testing.T) *endpoint.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return endpoint.New(ln, "http", 80, httpconn.Options{})
}

func TestRoute_SpecificLongestPrefixWins(t *testing.T) {
	l := newTestListener(t)
	root := stubTarget{"root"}
	api := stubTarget{"api"}

	l.AddPrefix(mustParse(t, "http://h:80/"), root)
	l.AddPrefix(mustParse(t, "http://h:80/api/"), api)

	target, ok := l.Route(httpconn.RequestURL{Host: "h", Port: 80, Path: "/api/v1/"})
	require.True(t, ok)
	require.Equal(t, api, target)
}

func TestRoute_StarMatchesAnyHostSamePort(t *testing.T) {
	l := newTestListener(t)
	star := stubTarget{"star"}
	l.AddPrefix(mustParse(t, "http://*:80/"), star)

	target, ok := l.Route(httpconn.RequestURL{Host: "anything", Port: 80, Path: "/x"})
	require.True(t, ok)
	require.Equal(t, star, target)
}

func TestRoute_AllIgnoresPort(t *testing.T) {
	l := newTestListener(t)
	all := stubTarget{"all"}
	l.AddPrefix(mustParse(t, "http://+:80/"), all)

	target, ok := l.Route(httpconn.RequestURL{Host: "h", Port: 9999, Path: "/x"})
	require.True(t, ok)
	require.Equal(t, all, target)
}

func TestRoute_NoMatchReturnsFalse(t *testing.T) {
	l := newTestListener(t)
	l.AddPrefix(mustParse(t, "http://h:80/api/"), stubTarget{"api"})

	_, ok := l.Route(httpconn.RequestURL{Host: "h", Port: 80, Path: "/nope"})
	require.False(t, ok)
}

func TestRemovePrefix_NoLongerMatches(t *testing.T) {
	l := newTestListener(t)
	spec := mustParse(t, "http://+:80/")
	l.AddPrefix(spec, stubTarget{"all"})
	l.RemovePrefix(spec)

	_, ok := l.Route(httpconn.RequestURL{Host: "h", Port: 80, Path: "/"})
	require.False(t, ok)
}

func TestPrefixCount(t *testing.T) {
	l := newTestListener(t)
	require.Equal(t, 0, l.PrefixCount())
	l.AddPrefix(mustParse(t, "http://h:80/"), stubTarget{"a"})
	l.AddPrefix(mustParse(t, "http://*:80/"), stubTarget{"b"})
	l.AddPrefix(mustParse(t, "http://+:80/"), stubTarget{"c"})
	require.Equal(t, 3, l.PrefixCount())
}
