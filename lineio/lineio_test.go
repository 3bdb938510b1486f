package lineio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/planetsite/httplisten/lineio"
)

func feedString(r *lineio.Reader, s string) [][]byte {
	var lines [][]byte
	for i := 0; i < len(s); i++ {
		if line, ok := r.Feed(s[i]); ok {
			got := make([]byte, len(line))
			copy(got, line)
			lines = append(lines, got)
		}
	}
	return lines
}

func TestFeed_CRLFTerminatedLine(t *testing.T) {
	r := lineio.New()
	lines := feedString(r, "GET / HTTP/1.1\r\n")
	require.Len(t, lines, 1)
	require.Equal(t, "GET / HTTP/1.1", string(lines[0]))
}

func TestFeed_BareLFTerminatedLine(t *testing.T) {
	r := lineio.New()
	lines := feedString(r, "Host: example.com\n")
	require.Len(t, lines, 1)
	require.Equal(t, "Host: example.com", string(lines[0]))
}

func TestFeed_LoneCRIsPutBackNotTreatedAsTerminator(t *testing.T) {
	r := lineio.New()
	// A CR not followed by LF is not a line terminator: it is restored
	// into the accumulator and the line only completes at the real LF.
	lines := feedString(r, "a\rb\r\n")
	require.Len(t, lines, 1)
	require.Equal(t, "a\rb", string(lines[0]))
}

func TestFeed_MultipleLinesAcrossCalls(t *testing.T) {
	r := lineio.New()
	var lines [][]byte
	emit := func(line []byte) {
		got := make([]byte, len(line))
		copy(got, line)
		lines = append(lines, got)
	}
	r.FeedAll([]byte("GET / HTTP/1.1\r\n"), emit)
	r.FeedAll([]byte("Host: h\r\n"), emit)
	r.FeedAll([]byte("\r\n"), emit)

	require.Len(t, lines, 3)
	require.Equal(t, "GET / HTTP/1.1", string(lines[0]))
	require.Equal(t, "Host: h", string(lines[1]))
	require.Equal(t, "", string(lines[2]))
}

func TestFeed_EmptyLineIsBlankLineTerminator(t *testing.T) {
	r := lineio.New()
	lines := feedString(r, "\r\n")
	require.Len(t, lines, 1)
	require.Equal(t, "", string(lines[0]))
}

func TestPending_TracksUnterminatedBytes(t *testing.T) {
	r := lineio.New()
	_, ok := r.Feed('a')
	require.False(t, ok)
	_, ok = r.Feed('b')
	require.False(t, ok)
	require.Equal(t, 2, r.Pending())

	_, ok = r.Feed('\n')
	require.True(t, ok)
	require.Equal(t, 0, r.Pending())
}

func TestReset_ClearsAccumulatedState(t *testing.T) {
	r := lineio.New()
	_, _ = r.Feed('a')
	require.Equal(t, 1, r.Pending())

	r.Reset()
	require.Equal(t, 0, r.Pending())

	lines := feedString(r, "clean\r\n")
	require.Len(t, lines, 1)
	require.Equal(t, "clean", string(lines[0]))
}

func TestFeed_SplitCRLFAcrossFeedCalls(t *testing.T) {
	r := lineio.New()
	_, ok := r.Feed('x')
	require.False(t, ok)
	_, ok = r.Feed('\r')
	require.False(t, ok)
	line, ok := r.Feed('\n')
	require.True(t, ok)
	require.Equal(t, "x", string(line))
}
