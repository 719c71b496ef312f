package fetchttp

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipeAgent(o origin) (*Agent, net.Conn) {
	client, server := net.Pipe()
	a := &Agent{
		origin: o,
		conn:   client,
		br:     bufio.NewReader(client),
	}
	return a, server
}

func testOrigin() origin {
	return origin{scheme: SchemeHTTP, hostname: "example.com", port: "80"}
}

// readServerRequestHead drains a request's headers off server, stopping at
// the blank line, without caring about the request line's exact content.
// Runs on a background goroutine, so it avoids testify's t.FailNow path and
// just stops silently on a read error.
func readServerRequestHead(t *testing.T, server net.Conn) *bufio.Reader {
	t.Helper()
	br := bufio.NewReader(server)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return br
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return br
}

func TestAgentSendContentLengthBody(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()

	go func() {
		readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello")
	}()

	req := mustRequest(t, "GET", "http://example.com/items", Body{})
	resp, err := a.send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	text, err := resp.Body.Text(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.Eventually(t, func() bool {
		return agentState(a.state.Load()) == agentIdle
	}, time.Second, time.Millisecond)
}

func TestAgentSendConnectionCloseTearsDownAgent(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()

	go func() {
		readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nhi")
	}()

	req := mustRequest(t, "GET", "http://example.com/", Body{})
	resp, err := a.send(context.Background(), req)
	require.NoError(t, err)

	_, err = resp.Body.Text(context.Background())
	require.NoError(t, err)

	assert.True(t, a.isClosed())
}

func TestAgentSendChunkedBodyWithTrailer(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()

	go func() {
		readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nTrailer: X-Checksum\r\n\r\n"+
			"4\r\nwiki\r\n0\r\nX-Checksum: abc123\r\n\r\n")
	}()

	req := mustRequest(t, "GET", "http://example.com/stream", Body{})
	resp, err := a.send(context.Background(), req)
	require.NoError(t, err)

	b, err := resp.Body.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wiki", string(b))
	require.NotNil(t, resp.Trailer)
	assert.Equal(t, "abc123", resp.Trailer.Get("X-Checksum"))

	require.Eventually(t, func() bool {
		return agentState(a.state.Load()) == agentIdle
	}, time.Second, time.Millisecond)
}

func TestAgentSendContextCancelTearsDownMidBody(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()

	headersWritten := make(chan struct{})
	go func() {
		readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n")
		close(headersWritten)
		// Deliberately never writes the promised 100 bytes; the body read
		// hangs until the agent is torn down from underneath it.
	}()

	ctx, cancel := context.WithCancel(context.Background())
	req := mustRequest(t, "GET", "http://example.com/slow", Body{})
	resp, err := a.send(ctx, req)
	require.NoError(t, err)
	<-headersWritten

	cancel()

	require.Eventually(t, func() bool {
		return a.isClosed()
	}, time.Second, time.Millisecond)
	_ = resp
}

func TestAgentSendWaitsForContinueBeforeWritingBody(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	a.expectContinueTimeout = time.Second
	defer server.Close()

	bodyReceived := make(chan string, 1)
	go func() {
		br := readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 100 Continue\r\n\r\n")
		buf := make([]byte, len("payload"))
		if _, err := io.ReadFull(br, buf); err != nil {
			return
		}
		bodyReceived <- string(buf)
		io.WriteString(server, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	}()

	req := mustRequest(t, "POST", "http://example.com/items", BytesBody([]byte("payload")))
	req.Header.Set("Expect", "100-continue")
	resp, err := a.send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	select {
	case body := <-bodyReceived:
		assert.Equal(t, "payload", body)
	case <-time.After(time.Second):
		t.Fatal("server never received the request body")
	}
}

func TestAgentSendSkipsBodyWhenServerRejectsContinue(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	a.expectContinueTimeout = time.Second
	defer server.Close()

	serverSawBody := make(chan bool, 1)
	go func() {
		br := readServerRequestHead(t, server)
		io.WriteString(server, "HTTP/1.1 417 Expectation Failed\r\nContent-Length: 0\r\n\r\n")
		buf := make([]byte, 1)
		_, err := br.Read(buf)
		serverSawBody <- err == nil
	}()

	req := mustRequest(t, "POST", "http://example.com/items", BytesBody([]byte("payload")))
	req.Header.Set("Expect", "100-continue")
	resp, err := a.send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 417, resp.StatusCode)

	_, err = resp.Body.Bytes(context.Background())
	require.NoError(t, err)
	assert.True(t, a.isClosed(), "an agent that skipped its body write must not be reused")
}

func TestAgentSendRejectsOriginMismatch(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()
	defer a.conn.Close()

	req := mustRequest(t, "GET", "http://other.example.com/", Body{})
	_, err := a.send(context.Background(), req)
	var merr originMismatchError
	require.ErrorAs(t, err, &merr)
}

func TestAgentSendRejectsWhenBusy(t *testing.T) {
	a, server := newPipeAgent(testOrigin())
	defer server.Close()
	defer a.conn.Close()

	a.state.Store(int32(agentBusy))
	req := mustRequest(t, "GET", "http://example.com/", Body{})
	_, err := a.send(context.Background(), req)
	assert.ErrorIs(t, err, ErrAgentBusy)
}
