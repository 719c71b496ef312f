// Package trace provides optional observability hooks for a round trip,
// mirroring the shape of the teacher's per-request client trace but
// trimmed to the events this engine actually emits.
package trace

import "context"

// GotConnInfo describes the connection handed to a request.
type GotConnInfo struct {
	Reused  bool
	WasIdle bool
	IdleFor float64 // seconds
}

// ClientTrace is a set of hooks run at various stages of a round trip. Any
// field may be nil. Hooks may be called concurrently and some may be
// called after Fetch has already returned, e.g. PutIdleConn, which
// fires once the response body has drained.
type ClientTrace struct {
	// GetConn is called before an agent is acquired from the pool, with
	// the origin being requested.
	GetConn func(origin string)

	// GotConn is called once an agent has been acquired, whether newly
	// dialed or reused from the idle pool.
	GotConn func(GotConnInfo)

	// WroteRequest is called after the request has been written to the
	// connection: headers and body, or the headers alone when the server
	// answered Expect: 100-continue with a final status and the body was
	// skipped.
	WroteRequest func(err error)

	// GotFirstResponseByte is called when the first byte of the response
	// is available to be read.
	GotFirstResponseByte func()

	// PutIdleConn is called once the response body has been fully drained
	// or closed, as the agent is handed back to its pool. A non-nil err
	// means the body did not drain cleanly, and the agent is closed
	// instead of pooled. A nil err does not by itself mean the agent is
	// kept: a Connection: close response or a full idle set still closes it.
	PutIdleConn func(err error)
}

type traceKey struct{}

// WithClientTrace returns a context derived from ctx carrying the given
// trace. Existing trace hooks on ctx, if any, are left untouched — the
// new trace entirely replaces them.
func WithClientTrace(ctx context.Context, t *ClientTrace) context.Context {
	if t == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, t)
}

// ContextClientTrace returns the ClientTrace associated with ctx, or nil.
func ContextClientTrace(ctx context.Context) *ClientTrace {
	t, _ := ctx.Value(traceKey{}).(*ClientTrace)
	return t
}
