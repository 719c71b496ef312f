/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"io"
)

// The four io.ReadCloser shapes a response body can take, one per
// bodyFraming outcome. Each knows, once fully drained, whether the
// agent's connection is still safe to hand back to the pool — Close
// enforces that by closing the agent itself whenever draining stopped
// short or the server/caller asked for the connection to close.

// closedReader backs a HEAD/1xx/204/304 response: there is no body to
// read, ever.
type closedReader struct {
	agent      *Agent
	closeAfter bool
}

func (r closedReader) Read(p []byte) (int, error) { return 0, io.EOF }

func (r closedReader) Close() error {
	if r.closeAfter {
		return r.agent.close()
	}
	r.agent.markIdle()
	return nil
}

// limitedConnReader reads exactly n bytes from the agent's buffered
// connection reader (Content-Length framing).
type limitedConnReader struct {
	br         *bufio.Reader
	n          int64
	agent      *Agent
	closeAfter bool
}

func (r *limitedConnReader) Read(p []byte) (int, error) {
	if r.n <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.n {
		p = p[:r.n]
	}
	n, err := r.br.Read(p)
	r.n -= int64(n)
	if err == nil && r.n == 0 {
		err = io.EOF
	} else if err == io.EOF && r.n > 0 {
		err = unexpectedEOFError{during: "reading content-length body"}
	}
	return n, err
}

func (r *limitedConnReader) Close() error {
	if r.n > 0 || r.closeAfter {
		return r.agent.close()
	}
	r.agent.markIdle()
	return nil
}

// untilCloseReader reads until the peer closes the connection — the
// fallback framing for HTTP/1.0-style responses with neither
// Content-Length nor chunked Transfer-Encoding. The connection can never
// be reused afterward.
type untilCloseReader struct {
	br    *bufio.Reader
	agent *Agent
}

func (r *untilCloseReader) Read(p []byte) (int, error) { return r.br.Read(p) }

func (r *untilCloseReader) Close() error { return r.agent.close() }

// chunkedBody adapts a chunkedReader into an io.ReadCloser, reusing the
// agent's connection only once the decoder has reached its DONE state.
type chunkedBody struct {
	cr         *chunkedReader
	agent      *Agent
	closeAfter bool
}

func (b *chunkedBody) Read(p []byte) (int, error) { return b.cr.Read(p) }

func (b *chunkedBody) Close() error {
	if b.cr.state != chunkDone || b.closeAfter {
		return b.agent.close()
	}
	b.agent.markIdle()
	return nil
}

// newChunkedBody wraps a.br in a chunked decoder that records any trailer
// fields onto resp.Trailer once the terminating chunk is parsed.
func (a *Agent) newChunkedBody(resp *Response, closeAfter bool) *chunkedBody {
	b := &chunkedBody{agent: a, closeAfter: closeAfter}
	b.cr = newChunkedReader(a.br, func() {
		resp.Trailer = b.cr.trailer
	})
	return b
}
