package fetchttp

import (
	"github.com/streamfetch/fetchttp/body"
	"github.com/streamfetch/fetchttp/header"
)

// Response is the result of a round trip. Its Body is lazy: nothing past
// the status line and headers has been read off the wire until a
// materializer on Body is called.
type Response struct {
	Proto      string
	StatusCode int
	StatusText string
	Header     header.Header
	URL        string

	// Trailer holds any trailer fields sent after a chunked body. It is
	// only populated once Body has been fully drained.
	Trailer header.Header

	Body *body.Stream
}

// Ok reports whether StatusCode is in the 2xx range.
func (r *Response) Ok() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BodyUsed reports whether a materializer has already claimed Body.
func (r *Response) BodyUsed() bool {
	return r.Body.Used()
}
