package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planetsite/httplisten/httpconn"
	"github.com/planetsite/httplisten/prefix"
	"github.com/planetsite/httplisten/registry"
)

type stubTarget struct{}

func (stubTarget) SelectAuthScheme(*httpconn.RequestPreamble) httpconn.AuthScheme {
	return httpconn.AuthNone
}
func (stubTarget) Authenticator() httpconn.Authenticator { return nil }
func (stubTarget) Enqueue(context.Context, *httpconn.RequestContext) error {
	return nil
}

func TestAddPrefix_BindsEndpointAndAllowsSecondPrefixSamePort(t *testing.T) {
	r := registry.New(registry.Options{})
	ctx := context.Background()

	spec1, err := prefix.Parse("http://h1:28080/")
	require.NoError(t, err)
	spec2, err := prefix.Parse("http://h2:28080/api/")
	require.NoError(t, err)

	require.NoError(t, r.AddPrefix(ctx, spec1, stubTarget{}))
	require.NoError(t, r.AddPrefix(ctx, spec2, stubTarget{}))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
}

func TestAddPrefix_SchemeMismatchRejected(t *testing.T) {
	r := registry.New(registry.Options{})
	ctx := context.Background()

	httpSpec, err := prefix.Parse("http://h:28081/")
	require.NoError(t, err)
	httpsSpec, err := prefix.Parse("https://h:28081/")
	require.NoError(t, err)

	require.NoError(t, r.AddPrefix(ctx, httpSpec, stubTarget{}))
	err = r.AddPrefix(ctx, httpsSpec, stubTarget{})
	require.ErrorIs(t, err, registry.ErrSchemeMismatch)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
}

func TestRemovePrefix_ClosesEndpointWhenEmpty(t *testing.T) {
	r := registry.New(registry.Options{})
	ctx := context.Background()

	spec, err := prefix.Parse("http://h:28082/")
	require.NoError(t, err)
	require.NoError(t, r.AddPrefix(ctx, spec, stubTarget{}))
	require.NoError(t, r.RemovePrefix(spec))

	// Re-adding after full removal re-binds cleanly.
	require.NoError(t, r.AddPrefix(ctx, spec, stubTarget{}))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(shutdownCtx))
}

func TestShutdown_IsIdempotent(t *testing.T) {
	r := registry.New(registry.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	require.NoError(t, r.Shutdown(ctx))
}
