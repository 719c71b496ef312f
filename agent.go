/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/streamfetch/fetchttp/body"
	"github.com/streamfetch/fetchttp/header"
	"github.com/streamfetch/fetchttp/trace"
)

type agentState int32

const (
	agentIdle agentState = iota
	agentBusy
	agentClosed
)

// Agent owns a single TCP (or TLS) connection to one origin and allows
// exactly one in-flight request at a time — deliberately simpler than the
// teacher's pipelined persistConn, which splits reading and writing across
// two goroutines to allow several requests in flight on one connection.
type Agent struct {
	origin origin
	conn   net.Conn
	br     *bufio.Reader

	state atomic.Int32

	dialedAt time.Time
	lastUsed time.Time

	// pool is the Pool this agent was acquired from, if any; send uses it
	// to release the agent back once the response body has drained.
	// Agents used directly (outside a Pool), e.g. in tests, leave it nil.
	pool *Pool

	log *zap.Logger

	// expectContinueTimeout bounds how long send waits for "100 Continue"
	// on a request that set Expect: 100-continue. Zero means send doesn't
	// wait at all and writes the body immediately, matching a directly
	// constructed Agent (e.g. in tests) that wasn't dialed through a Pool.
	expectContinueTimeout time.Duration
}

// dialFunc dials a network address, honoring ctx for cancellation. It's the
// seam a Pool uses to plug in a custom dialer (e.g. a SOCKS5 or HTTP
// CONNECT proxy front-end).
type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func defaultDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// dialAgent dials a fresh connection for o, performing a TLS handshake when
// the origin scheme requires it.
func dialAgent(ctx context.Context, o origin, dial dialFunc, tlsConfig *tls.Config, log *zap.Logger, expectContinueTimeout time.Duration) (*Agent, error) {
	if dial == nil {
		dial = defaultDialer
	}
	conn, err := dial(ctx, "tcp", o.addr())
	if err != nil {
		return nil, err
	}
	if o.scheme == SchemeHTTPS {
		cfg := tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = o.hostname
		}
		tc := tls.Client(conn, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tc
	}
	now := time.Now()
	return &Agent{
		origin:                o,
		conn:                  conn,
		br:                    bufio.NewReader(conn),
		dialedAt:              now,
		lastUsed:              now,
		log:                   log,
		expectContinueTimeout: expectContinueTimeout,
	}, nil
}

// Origin returns the (scheme, host, port) this agent is bound to.
func (a *Agent) Origin() string { return a.origin.String() }

func (a *Agent) markBusy() bool {
	return a.state.CompareAndSwap(int32(agentIdle), int32(agentBusy))
}

func (a *Agent) markIdle() {
	if a.state.CompareAndSwap(int32(agentBusy), int32(agentIdle)) {
		a.lastUsed = time.Now()
	}
}

func (a *Agent) isClosed() bool {
	return agentState(a.state.Load()) == agentClosed
}

// idleFor reports how long this agent has been sitting idle, for the
// pool's eviction sweep. Only meaningful when the agent is actually idle.
func (a *Agent) idleFor() time.Duration { return time.Since(a.lastUsed) }

// close tears down the underlying connection. Safe to call more than once.
func (a *Agent) close() error {
	a.state.Store(int32(agentClosed))
	return a.conn.Close()
}

// send dispatches req over this agent's connection and returns its
// response. It fails with ErrAgentBusy if a previous send's body has not
// yet been drained or closed, and with an originMismatchError if req
// targets a different origin than the one this agent was dialed for.
//
// The response Body's Close (invoked directly by the caller, or
// indirectly once a materializer finishes draining it) decides whether
// this agent goes back to idle or gets torn down — see body_readers.go.
func (a *Agent) send(ctx context.Context, req *Request) (*Response, error) {
	reqOrigin, err := req.origin()
	if err != nil {
		return nil, err
	}
	if reqOrigin != a.origin {
		return nil, originMismatchError{agent: a.origin, request: reqOrigin}
	}
	if !a.markBusy() {
		return nil, ErrAgentBusy
	}

	tracer := trace.ContextClientTrace(ctx)

	// watchDone stays open for the whole lifetime of the response body,
	// not just until headers are parsed: a caller that cancels ctx while
	// streaming the body must still tear down the connection. It's
	// closed exactly once, either by an early-return below or by the
	// body's onDone once the body is drained/closed.
	watchDone := make(chan struct{})
	var watchDoneOnce sync.Once
	closeWatch := func() { watchDoneOnce.Do(func() { close(watchDone) }) }
	go func() {
		select {
		case <-ctx.Done():
			a.close()
		case <-watchDone:
		}
	}()
	// Only an early return before the body exists closes the watch here;
	// once resp.Body is constructed, its onDone takes over that job.
	bodyStarted := false
	defer func() {
		if !bodyStarted {
			closeWatch()
		}
	}()

	extra := make(header.Header)
	requestedGzip := false
	if req.Header.Get(header.AcceptEncoding) == "" && req.Header.Get(header.Range) == "" && req.Method != "HEAD" {
		extra.Set(header.AcceptEncoding, "gzip")
		requestedGzip = true
	}

	bw := bufio.NewWriter(a.conn)
	h, bodyBytes, bodyStream, err := writeRequestHead(bw, req, extra)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		a.close()
		return nil, err
	}

	expectContinue := !req.Body.isEmpty() && header.ContainsToken(req.Header.Values(header.Expect), "100-continue")
	var preReadHead *headResponse
	sendBody := true
	if expectContinue && a.expectContinueTimeout > 0 {
		sendBody, preReadHead, err = a.awaitContinue()
		if err != nil {
			a.close()
			return nil, err
		}
	}
	if sendBody {
		if err := writeRequestBody(bw, h, bodyBytes, bodyStream); err != nil {
			a.close()
			return nil, err
		}
		if err := bw.Flush(); err != nil {
			a.close()
			return nil, err
		}
	}
	if tracer != nil && tracer.WroteRequest != nil {
		tracer.WroteRequest(nil)
	}

	head := preReadHead
	if head == nil {
		head, err = readResponseHead(a.br)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	if tracer != nil && tracer.GotFirstResponseByte != nil {
		tracer.GotFirstResponseByte()
	}
	closeAfterSkippedBody := !sendBody

	resp := &Response{
		Proto:      head.proto,
		StatusCode: head.statusCode,
		StatusText: head.statusText,
		Header:     head.header,
		URL:        req.URL.String(),
	}

	framing, length := decideBodyFraming(req.Method, head.statusCode, head.header)
	major, minor := protoVersion(head.proto)
	closeAfter := header.ShouldClose(major, minor, head.header, true) || framing == framingUntilClose || closeAfterSkippedBody

	var raw io.ReadCloser
	switch framing {
	case framingChunked:
		raw = a.newChunkedBody(resp, closeAfter)
	case framingContentLength:
		raw = &limitedConnReader{br: a.br, n: length, agent: a, closeAfter: closeAfter}
	case framingUntilClose:
		raw = &untilCloseReader{br: a.br, agent: a}
	default: // framingEmpty
		raw = closedReader{agent: a, closeAfter: closeAfter}
	}

	contentType := head.header.Get(header.ContentType)
	stream := raw
	if enc := head.header.Get(header.ContentEncoding); requestedGzip && enc != "" {
		stream = newDecompressingReader(raw, enc)
		head.header.Del(header.ContentEncoding)
		head.header.Del(header.ContentLength)
	}

	onDone := func(err error) {
		if a.log != nil {
			a.log.Debug("response body drained", zap.String("origin", a.origin.String()), zap.Error(err))
		}
		closeWatch()
		if tracer != nil && tracer.PutIdleConn != nil {
			tracer.PutIdleConn(err)
		}
		if a.pool != nil {
			a.pool.release(a)
		}
	}
	resp.Body = body.New(stream, contentType, onDone)
	bodyStarted = true

	return resp, nil
}

// awaitContinue blocks for up to a.expectContinueTimeout after the request
// headers have been flushed, waiting for the server's "100 Continue"
// intermediate response before the body gets written. Unlike the teacher's
// pipelined persistConn, which signals this over a continueCh from a
// separate read loop, an Agent only ever has one request in flight, so it
// can read the response synchronously off the same buffered reader it will
// use for the real response.
//
// It returns whether the body should still be sent — true on "100
// Continue" or on timeout, matching RFC 7230 §5.6's "MAY proceed to send
// the request body" — and, if the server responded with something other
// than 100 before any timeout, the already-parsed final response head, so
// the caller doesn't read past it looking for one that isn't coming.
func (a *Agent) awaitContinue() (sendBody bool, preReadHead *headResponse, err error) {
	if err := a.conn.SetReadDeadline(time.Now().Add(a.expectContinueTimeout)); err != nil {
		return true, nil, nil
	}
	defer a.conn.SetReadDeadline(time.Time{})

	head, err := readResponseHead(a.br)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true, nil, nil
		}
		return false, nil, err
	}
	if head.statusCode == 100 {
		return true, nil, nil
	}
	return false, head, nil
}

func protoVersion(proto string) (major, minor int) {
	// "HTTP/1.1" -> 1, 1. Anything unparseable is treated as 1.0 so
	// ShouldClose defaults to the conservative "close after" behavior.
	if len(proto) < len("HTTP/x.y") {
		return 1, 0
	}
	m, err1 := strconv.Atoi(proto[5:6])
	n, err2 := strconv.Atoi(proto[7:8])
	if err1 != nil || err2 != nil {
		return 1, 0
	}
	return m, n
}
