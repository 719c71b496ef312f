/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"context"
	"sync"
)

// Client dispatches requests through a per-origin Pool, dialing and
// pooling connections as needed. The zero value is not usable; construct
// one with NewClient.
type Client struct {
	opts PoolOptions

	mu     sync.Mutex
	pools  map[origin]*Pool
	closed bool
}

// NewClient builds a Client. A zero PoolOptions uses DefaultMaxPerHost,
// DefaultMaxIdlePerHost and DefaultIdleTimeout.
func NewClient(opts PoolOptions) *Client {
	return &Client{
		opts:  opts.withDefaults(),
		pools: make(map[origin]*Pool),
	}
}

func (c *Client) poolFor(o origin) (*Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrPoolClosed
	}
	p, ok := c.pools[o]
	if !ok {
		p = newPool(o, c.opts)
		c.pools[o] = p
	}
	return p, nil
}

// Fetch sends req and returns its response. Redirect (3xx) responses are
// returned as-is — the caller decides whether and how to follow Location.
// The returned Response's Body is lazy: call one of its materializers, or
// Close it, to release the underlying connection back to the pool.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	o, err := req.origin()
	if err != nil {
		return nil, err
	}
	pool, err := c.poolFor(o)
	if err != nil {
		return nil, err
	}

	agent, err := pool.acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := agent.send(ctx, req)
	if err != nil {
		pool.release(agent)
		return nil, err
	}
	return resp, nil
}

// Get is a convenience wrapper around Fetch for a bodyless GET.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := NewRequest("GET", rawURL, Body{})
	if err != nil {
		return nil, err
	}
	return c.Fetch(ctx, req.WithContext(ctx))
}

// Close shuts down every per-origin pool. In-flight requests are not
// interrupted; subsequent Fetch calls fail with ErrPoolClosed. Close is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pools := c.pools
	c.pools = nil
	c.mu.Unlock()

	for _, p := range pools {
		p.close()
	}
	return nil
}
