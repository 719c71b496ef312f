package fetchttp

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamfetch/fetchttp/header"
)

func TestReadResponseHeadParsesStatusAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello"
	br := bufio.NewReader(strings.NewReader(raw))

	head, err := readResponseHead(br)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1", head.proto)
	assert.Equal(t, 200, head.statusCode)
	assert.Equal(t, "OK", head.statusText)
	assert.Equal(t, "text/plain", head.header.Get(header.ContentType))

	rest, err := br.Peek(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(rest))
}

func TestReadResponseHeadAcceptsBareLF(t *testing.T) {
	raw := "HTTP/1.1 204 No Content\nConnection: close\n\n"
	br := bufio.NewReader(strings.NewReader(raw))
	head, err := readResponseHead(br)
	require.NoError(t, err)
	assert.Equal(t, 204, head.statusCode)
	assert.Equal(t, "close", head.header.Get(header.Connection))
}

func TestReadResponseHeadReturnsConnectionClosedOnImmediateEOF(t *testing.T) {
	br := bufio.NewReader(strings.NewReader(""))
	_, err := readResponseHead(br)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadResponseHeadRejectsBadStatusLine(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("nonsense\r\n\r\n"))
	_, err := readResponseHead(br)
	var merr malformedResponseError
	require.ErrorAs(t, err, &merr)
}

func TestReadResponseHeadDuplicateHeadersPreserved(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nSet-Cookie: a=1\r\nSet-Cookie: b=2\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))
	head, err := readResponseHead(br)
	require.NoError(t, err)
	assert.Equal(t, []string{"a=1", "b=2"}, head.header.Values("Set-Cookie"))
}

func TestDecideBodyFramingHeadIsBodyless(t *testing.T) {
	h := header.New([2]string{header.ContentLength, "100"})
	framing, n := decideBodyFraming("HEAD", 200, h)
	assert.Equal(t, framingEmpty, framing)
	assert.Equal(t, int64(0), n)
	assert.Empty(t, h.Get(header.ContentLength))
}

func TestDecideBodyFraming204And304AreBodyless(t *testing.T) {
	for _, code := range []int{204, 304} {
		h := header.New([2]string{header.ContentLength, "10"})
		framing, _ := decideBodyFraming("GET", code, h)
		assert.Equal(t, framingEmpty, framing)
	}
}

func TestDecideBodyFramingChunkedTakesPriority(t *testing.T) {
	h := header.New(
		[2]string{header.TransferEncoding, "chunked"},
		[2]string{header.ContentLength, "10"},
	)
	framing, n := decideBodyFraming("GET", 200, h)
	assert.Equal(t, framingChunked, framing)
	assert.Equal(t, int64(-1), n)
}

func TestDecideBodyFramingContentLength(t *testing.T) {
	h := header.New([2]string{header.ContentLength, "42"})
	framing, n := decideBodyFraming("GET", 200, h)
	assert.Equal(t, framingContentLength, framing)
	assert.Equal(t, int64(42), n)
}

func TestDecideBodyFramingUntilCloseFallback(t *testing.T) {
	h := make(header.Header)
	framing, n := decideBodyFraming("GET", 200, h)
	assert.Equal(t, framingUntilClose, framing)
	assert.Equal(t, int64(-1), n)
}
