/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"context"
	"io"
	"net/url"

	"github.com/streamfetch/fetchttp/header"
)

// Body is the union of body shapes a Request may carry: utf-8 text, a raw
// byte buffer, a lazy byte stream, or url-encoded form values. Exactly one
// constructor below should be used to build it.
type Body struct {
	text   string
	bytes  []byte
	stream io.Reader
	form   url.Values

	kind bodyKind
}

type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyText
	bodyBytes
	bodyStream
	bodyForm
)

// TextBody wraps a UTF-8 string body.
func TextBody(s string) Body { return Body{kind: bodyText, text: s} }

// BytesBody wraps a raw byte buffer body.
func BytesBody(b []byte) Body { return Body{kind: bodyBytes, bytes: b} }

// StreamBody wraps a lazy byte stream body; the caller produces bytes on
// demand and the codec chooses content-length or chunked framing.
func StreamBody(r io.Reader) Body { return Body{kind: bodyStream, stream: r} }

// FormBody wraps application/x-www-form-urlencoded values.
func FormBody(v url.Values) Body { return Body{kind: bodyForm, form: v} }

func (b Body) isEmpty() bool { return b.kind == bodyNone }

// Request is an immutable-intent descriptor for one HTTP/1.1 request. Its
// origin (scheme, hostname, port derived from URL) must match the Agent it
// is dispatched to.
type Request struct {
	URL    *url.URL
	Method string
	Header header.Header
	Body   Body

	ctx context.Context
}

// NewRequest builds a Request for an absolute URL. method is upper-cased;
// an empty method defaults to GET.
func NewRequest(method, rawURL string, body Body) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, errMissingHost
	}
	if method == "" {
		method = "GET"
	}
	return &Request{
		URL:    u,
		Method: upperToken(method),
		Header: make(header.Header),
		Body:   body,
		ctx:    context.Background(),
	}, nil
}

// Context returns the request's cancellation context, defaulting to
// context.Background.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r bound to ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx == nil {
		panic("fetchttp: nil context")
	}
	r2 := new(Request)
	*r2 = *r
	r2.ctx = ctx
	return r2
}

func (r *Request) origin() (origin, error) { return originOf(r.URL) }

func upperToken(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
