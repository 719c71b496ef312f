/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"compress/flate"
	"compress/gzip"
	"io"
)

// decompressingReader lazily wraps body in the decoder named by encoding on
// the first Read, so a response whose body is never read never pays for
// constructing a gzip/flate reader.
type decompressingReader struct {
	body     io.ReadCloser
	encoding string
	zr       io.ReadCloser
	zerr     error
}

func newDecompressingReader(body io.ReadCloser, encoding string) io.ReadCloser {
	return &decompressingReader{body: body, encoding: encoding}
}

func (d *decompressingReader) Read(p []byte) (int, error) {
	if d.zr == nil && d.zerr == nil {
		switch d.encoding {
		case "gzip":
			d.zr, d.zerr = gzip.NewReader(d.body)
		case "deflate":
			d.zr = flate.NewReader(d.body)
		default:
			d.zr = d.body
		}
	}
	if d.zerr != nil {
		return 0, d.zerr
	}
	return d.zr.Read(p)
}

func (d *decompressingReader) Close() error {
	if d.zr != nil && d.zr != io.ReadCloser(d.body) {
		d.zr.Close()
	}
	return d.body.Close()
}
