package headers_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planetsite/httplisten/headers"
)

func TestSet_AddRaw_SingleValuedReplaces(t *testing.T) {
	h := headers.New(true)
	h.AddRaw("Host", "first")
	h.AddRaw("Host", "second")

	require.Equal(t, []string{"second"}, h.Values("Host"))
}

func TestSet_AddRaw_MultiValuedAppends(t *testing.T) {
	h := headers.New(true)
	h.AddRaw("Cookie", "a=1")
	h.AddRaw("Cookie", "b=2")

	require.Equal(t, []string{"a=1", "b=2"}, h.Values("cookie"))
}

func TestSet_CaseInsensitiveLookup(t *testing.T) {
	h := headers.New(true)
	h.AddRaw("Content-Type", "text/html")

	require.Equal(t, "text/html", h.Get("CONTENT-TYPE"))
	require.True(t, h.Has("content-type"))
}

func TestSet_Add_RejectsRestrictedFromUserCode(t *testing.T) {
	h := headers.New(true)

	err := h.Add("Host", "evil.example")
	require.ErrorIs(t, err, headers.ErrRestrictedHeader)
}

func TestSet_IterPreservesInsertionOrder(t *testing.T) {
	h := headers.New(true)
	h.AddRaw("Zebra", "1")
	h.AddRaw("Apple", "2")
	h.AddRaw("Zebra", "3") // unlisted, so single-valued: replaces, keeps position

	var seen []string
	h.Iter(func(name string, values []string) bool {
		seen = append(seen, name)
		return true
	})

	require.Equal(t, []string{"Zebra", "Apple"}, seen)
}

func TestSet_RemoveDropsFromOrderAndValues(t *testing.T) {
	h := headers.New(true)
	h.AddRaw("X-Custom", "v")
	h.Remove("x-custom")

	require.False(t, h.Has("X-Custom"))
	require.Equal(t, 0, h.Len())
}

func TestSet_ResponseSideMultiValuedClassification(t *testing.T) {
	// Allow is classified multi-valued-in-requests only; on the response
	// side it should replace, not accumulate.
	h := headers.New(false)
	h.AddRaw("Allow", "GET")
	h.AddRaw("Allow", "POST")

	require.Equal(t, []string{"POST"}, h.Values("Allow"))
}
