/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"context"
	"crypto/tls"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamfetch/fetchttp/metrics"
	"github.com/streamfetch/fetchttp/trace"
)

const (
	// DefaultMaxPerHost bounds how many agents (i.e. concurrent in-flight
	// requests) a Pool will hold open to a single origin at once.
	DefaultMaxPerHost = 6

	// DefaultMaxIdlePerHost bounds how many of those agents may sit idle,
	// ready for reuse, rather than being closed as soon as they free up.
	DefaultMaxIdlePerHost = 2

	// DefaultIdleTimeout is how long an idle agent survives before the
	// evictor closes it.
	DefaultIdleTimeout = 90 * time.Second

	// maxEvictInterval caps how infrequently the evictor sweeps, per the
	// engine's bound of min(idleTimeout, 10s).
	maxEvictInterval = 10 * time.Second

	// DefaultExpectContinueTimeout is how long send waits for a "100
	// Continue" intermediate response before writing the request body
	// anyway, matching the teacher's Transport default.
	DefaultExpectContinueTimeout = 1 * time.Second
)

// PoolOptions configures a Pool's concurrency and idle-connection bounds.
type PoolOptions struct {
	MaxPerHost     int
	MaxIdlePerHost int
	IdleTimeout    time.Duration
	Dial           dialFunc
	TLSConfig      *tls.Config
	Logger         *zap.Logger
	Metrics        *metrics.Pool

	// ExpectContinueTimeout bounds how long Agent.send waits for a "100
	// Continue" response after writing headers on a request that set
	// Expect: 100-continue itself, before sending the body unprompted.
	ExpectContinueTimeout time.Duration

	// ProxyURL, if set, routes every dial through a proxy instead of
	// connecting to the origin directly: CONNECT tunneling for http/https
	// schemes, SOCKS5 for socks5/socks5h.
	ProxyURL *url.URL
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.MaxPerHost <= 0 {
		o.MaxPerHost = DefaultMaxPerHost
	}
	if o.MaxIdlePerHost <= 0 {
		o.MaxIdlePerHost = DefaultMaxIdlePerHost
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.ExpectContinueTimeout <= 0 {
		o.ExpectContinueTimeout = DefaultExpectContinueTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ProxyURL != nil {
		o.Dial = proxyDial(o.ProxyURL, o.Dial)
	}
	return o
}

// Pool hands out Agents bound to one origin, bounding how many may exist
// concurrently and keeping a small idle set around for reuse. Unlike the
// teacher's Transport, which keys a single idle-conn map by connectMethod
// across every origin it has ever seen, a Pool here is scoped to exactly
// one origin — Client (client.go) owns the origin → Pool map.
type Pool struct {
	origin origin
	opts   PoolOptions

	mu     sync.Mutex
	idle   []*Agent
	inUse  int
	closed bool

	sem chan struct{}

	evictStop chan struct{}
	evictDone chan struct{}
}

// newPool constructs a Pool for o and starts its idle evictor.
func newPool(o origin, opts PoolOptions) *Pool {
	opts = opts.withDefaults()
	p := &Pool{
		origin:    o,
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxPerHost),
		evictStop: make(chan struct{}),
		evictDone: make(chan struct{}),
	}
	go p.evictLoop()
	return p
}

// acquire blocks until a concurrency permit is free (respecting ctx),
// then returns an idle agent if one exists or dials a fresh one.
func (p *Pool) acquire(ctx context.Context) (*Agent, error) {
	tracer := trace.ContextClientTrace(ctx)
	if tracer != nil && tracer.GetConn != nil {
		tracer.GetConn(p.origin.String())
	}

	waitStart := time.Now()
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.opts.Metrics.AcquireWaitObserve(p.origin.String(), time.Since(waitStart).Seconds())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolClosed
	}
	for len(p.idle) > 0 {
		a := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if a.isClosed() {
			continue // evicted or broken between being pooled and now
		}
		p.inUse++
		p.mu.Unlock()
		idleFor := a.idleFor()
		a.pool = p
		p.opts.Metrics.Reused(p.origin.String())
		p.opts.Metrics.InFlightInc(p.origin.String())
		if tracer != nil && tracer.GotConn != nil {
			tracer.GotConn(trace.GotConnInfo{Reused: true, WasIdle: true, IdleFor: idleFor.Seconds()})
		}
		return a, nil
	}
	p.inUse++
	p.mu.Unlock()

	a, err := dialAgent(ctx, p.origin, p.opts.Dial, p.opts.TLSConfig, p.opts.Logger, p.opts.ExpectContinueTimeout)
	if err != nil {
		p.mu.Lock()
		p.inUse--
		p.mu.Unlock()
		<-p.sem
		return nil, err
	}
	a.pool = p
	p.opts.Metrics.Created(p.origin.String())
	p.opts.Metrics.InFlightInc(p.origin.String())
	if tracer != nil && tracer.GotConn != nil {
		tracer.GotConn(trace.GotConnInfo{Reused: false})
	}
	return a, nil
}

// release returns an agent after a request completes. If a still has
// capacity to be pooled (not closed, within MaxIdlePerHost) it's kept for
// reuse; otherwise it's closed and discarded.
func (p *Pool) release(a *Agent) {
	p.mu.Lock()
	p.inUse--
	p.opts.Metrics.InFlightDec(p.origin.String())

	switch {
	case p.closed, a.isClosed():
		p.mu.Unlock()
		a.close()
	case len(p.idle) >= p.opts.MaxIdlePerHost:
		p.mu.Unlock()
		a.close()
	default:
		p.idle = append(p.idle, a)
		p.mu.Unlock()
	}
	<-p.sem
}

// evictLoop periodically closes idle agents that have exceeded
// IdleTimeout, sweeping at most every maxEvictInterval (and at least as
// often as IdleTimeout itself, for short timeouts).
func (p *Pool) evictLoop() {
	defer close(p.evictDone)
	interval := p.opts.IdleTimeout
	if interval > maxEvictInterval {
		interval = maxEvictInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			p.evictIdle()
		case <-p.evictStop:
			return
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	kept := p.idle[:0]
	var stale []*Agent
	for _, a := range p.idle {
		if a.idleFor() >= p.opts.IdleTimeout {
			stale = append(stale, a)
		} else {
			kept = append(kept, a)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, a := range stale {
		a.close()
		p.opts.Metrics.Evicted(p.origin.String())
	}
}

// close shuts the pool down: no further acquire succeeds, and every idle
// agent is closed immediately. In-flight agents close themselves as they
// are released.
func (p *Pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	close(p.evictStop)
	<-p.evictDone

	for _, a := range idle {
		a.close()
	}
}
