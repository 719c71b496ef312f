/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/streamfetch/fetchttp/header"
)

// statusLine is the parsed "protocol status text" line.
type statusLine struct {
	proto      string
	statusCode int
	statusText string
}

// readLine reads one line from br, accepting both CRLF and bare LF endings
// (a concession the spec requires to tolerate misbehaving peers).
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			// Keep reading until we hit the newline; neither the line
			// length nor the total header size is bounded.
			var buf bytes.Buffer
			buf.Write(line)
			for err == bufio.ErrBufferFull {
				line, err = br.ReadSlice('\n')
				buf.Write(line)
			}
			if err != nil {
				return nil, err
			}
			line = buf.Bytes()
		} else {
			return nil, err
		}
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return line, nil
}

func parseStatusLine(line []byte) (statusLine, error) {
	s := string(line)
	parts := strings.SplitN(s, " ", 3)
	if len(parts) < 2 {
		return statusLine{}, malformedResponseError{reason: "short status line: " + s}
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return statusLine{}, malformedResponseError{reason: "bad status code: " + parts[1]}
	}
	text := ""
	if len(parts) == 3 {
		text = parts[2]
	}
	return statusLine{proto: parts[0], statusCode: code, statusText: text}, nil
}

type malformedResponseError struct{ reason string }

func (e malformedResponseError) Error() string { return "fetchttp: malformed response: " + e.reason }

// readHeaderBlock parses header lines until a blank line terminates the
// block. Names are trimmed and stored in canonical form (e.g.
// "Content-Type"), not lower-cased; header.Header lookups are
// case-insensitive. Duplicate names are preserved in append order. Obsolete line-folding continuations are not supported.
func readHeaderBlock(br *bufio.Reader) (header.Header, error) {
	h := make(header.Header)
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, unexpectedEOFError{during: "reading headers"}
		}
		if len(line) == 0 {
			return h, nil
		}
		i := bytes.IndexByte(line, ':')
		if i < 0 {
			return nil, malformedResponseError{reason: "header line missing colon: " + string(line)}
		}
		name := header.CanonicalKey(strings.ToLower(strings.TrimSpace(string(line[:i]))))
		value := strings.TrimSpace(string(line[i+1:]))
		h.Add(name, value)
	}
}

// headResponse carries the parsed head of a response before its body
// stream has been wired up.
type headResponse struct {
	proto      string
	statusCode int
	statusText string
	header     header.Header
}

// readResponseHead reads the status line and header block. It returns
// ErrConnectionClosed verbatim when EOF arrives before any byte of the
// status line, distinguishing a graceful idle-connection close from a
// mid-response failure.
func readResponseHead(br *bufio.Reader) (*headResponse, error) {
	if _, err := br.Peek(1); err != nil {
		if err == io.EOF {
			return nil, ErrConnectionClosed
		}
		return nil, err
	}
	line, err := readLine(br)
	if err != nil {
		return nil, unexpectedEOFError{during: "reading status line"}
	}
	sl, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	h, err := readHeaderBlock(br)
	if err != nil {
		return nil, err
	}
	return &headResponse{proto: sl.proto, statusCode: sl.statusCode, statusText: sl.statusText, header: h}, nil
}

// bodyFraming is the decision in §4.1's body-framing decision tree.
type bodyFraming int

const (
	framingEmpty bodyFraming = iota
	framingChunked
	framingContentLength
	framingUntilClose
)

// decideBodyFraming drops headers that don't belong on a bodyless response
// and reports which framing to use for the rest.
func decideBodyFraming(method string, statusCode int, h header.Header) (bodyFraming, int64) {
	if method == "HEAD" || statusCode/100 == 1 || statusCode == 204 || statusCode == 304 {
		h.Del(header.ContentLength)
		h.Del(header.TransferEncoding)
		h.Del(header.ContentEncoding)
		return framingEmpty, 0
	}
	if header.ContainsToken(h.Values(header.TransferEncoding), header.Chunked) {
		return framingChunked, -1
	}
	if cl := h.Get(header.ContentLength); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err == nil && n >= 0 {
			return framingContentLength, n
		}
	}
	return framingUntilClose, -1
}
