package header

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderAddGetValues(t *testing.T) {
	h := make(Header)
	h.Add("x-trace-id", "a")
	h.Add("X-Trace-Id", "b")

	assert.Equal(t, "a", h.Get("x-trace-id"))
	assert.Equal(t, []string{"a", "b"}, h.Values("X-TRACE-ID"))
}

func TestHeaderSetReplaces(t *testing.T) {
	h := make(Header)
	h.Add(ContentType, "text/plain")
	h.Set(ContentType, "application/json")
	assert.Equal(t, []string{"application/json"}, h.Values(ContentType))
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := New([2]string{Host, "example.com"})
	h2 := h.Clone()
	h2.Set(Host, "other.example.com")
	assert.Equal(t, "example.com", h.Get(Host))
	assert.Equal(t, "other.example.com", h2.Get(Host))
}

func TestHeaderWriteIsSortedAndTerminated(t *testing.T) {
	h := New([2]string{"Zebra", "z"}, [2]string{"Alpha", "a"})
	var sb strings.Builder
	require.NoError(t, h.Write(&sb))
	assert.Equal(t, "Alpha: a\r\nZebra: z\r\n", sb.String())
}

func TestHeaderWriteStripsNewlinesFromValues(t *testing.T) {
	h := New([2]string{"X-Injected", "a\r\nSet-Cookie: evil=1"})
	var sb strings.Builder
	require.NoError(t, h.Write(&sb))
	assert.NotContains(t, sb.String(), "\r\nSet-Cookie")
	assert.Equal(t, "X-Injected: a  Set-Cookie: evil=1\r\n", sb.String())
}

func TestCanonicalKey(t *testing.T) {
	cases := map[string]string{
		"content-type":    "Content-Type",
		"CONTENT-LENGTH":  "Content-Length",
		"x-request-id":    "X-Request-Id",
		"Already-Correct": "Already-Correct",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalKey(in), "input %q", in)
	}
}

func TestContainsToken(t *testing.T) {
	assert.True(t, ContainsToken([]string{"keep-alive, Upgrade"}, "upgrade"))
	assert.False(t, ContainsToken([]string{"keep-alive"}, "close"))
}

func TestShouldClose(t *testing.T) {
	h := New([2]string{Connection, "close"})
	assert.True(t, ShouldClose(1, 1, h, false))

	h2 := make(Header)
	assert.False(t, ShouldClose(1, 1, h2, false))
	assert.True(t, ShouldClose(1, 0, h2, false), "HTTP/1.0 without keep-alive closes by default")
}

func TestParseTime(t *testing.T) {
	tm, err := ParseTime("Mon, 02 Jan 2006 15:04:05 GMT")
	require.NoError(t, err)
	assert.Equal(t, 2006, tm.Year())
}
