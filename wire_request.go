/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/streamfetch/fetchttp/header"
)

// writeRequest serializes req in HTTP/1.1 wire format to w: request line,
// headers (Host/Date defaulted if absent), then the body framed per the
// rules in §4.1 of the engine's spec. extraHeaders, if non-nil, are merged
// in without mutating req.Header (the transport adds Accept-Encoding this
// way).
func writeRequest(w io.Writer, req *Request, extraHeaders header.Header) (err error) {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
		w = bw
	}
	h, bodyBytes, bodyStream, err := writeRequestHead(bw, req, extraHeaders)
	if err != nil {
		return err
	}
	if err = writeRequestBody(bw, h, bodyBytes, bodyStream); err != nil {
		return err
	}
	return bw.Flush()
}

// writeRequestHead writes the request line and headers (through the blank
// line that ends them) to w, returning the framed body pieces the caller
// still needs to write. It does not flush w: callers that need to observe
// the peer's reaction before committing to a body (Expect: 100-continue)
// flush here themselves and write the body in a second step via
// writeRequestBody.
func writeRequestHead(w io.Writer, req *Request, extraHeaders header.Header) (h header.Header, bodyBytes []byte, bodyStream io.Reader, err error) {
	u := req.URL
	requestURI := u.RequestURI()

	if _, err = fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", valueOrDefault(req.Method, "GET"), requestURI); err != nil {
		return nil, nil, nil, err
	}

	h = req.Header.Clone()
	if h == nil {
		h = make(header.Header)
	}
	for k, vv := range extraHeaders {
		for _, v := range vv {
			h.Add(k, v)
		}
	}

	if h.Get(header.Host) == "" {
		h.Set(header.Host, u.Host)
	}
	if h.Get(header.Date) == "" {
		h.Set(header.Date, time.Now().UTC().Format(header.TimeFormat))
	}

	bodyBytes, bodyStream, err = frameRequestBody(h, req.Body)
	if err != nil {
		return nil, nil, nil, err
	}

	if enc := h.Get(header.ContentEncoding); enc != "" {
		switch {
		case bodyBytes != nil:
			bodyBytes, err = compressBytes(enc, bodyBytes)
			if err != nil {
				return nil, nil, nil, err
			}
			h.Set(header.ContentLength, strconv.Itoa(len(bodyBytes)))
		case bodyStream != nil:
			bodyStream = compressStream(enc, bodyStream)
		}
	}

	if err = h.Write(w); err != nil {
		return nil, nil, nil, err
	}
	if _, err = io.WriteString(w, "\r\n"); err != nil {
		return nil, nil, nil, err
	}
	return h, bodyBytes, bodyStream, nil
}

// writeRequestBody writes the body framed by writeRequestHead (bodyBytes xor
// bodyStream, matching h's Transfer-Encoding/Content-Length) to w. Either
// argument may be nil for a bodyless request.
func writeRequestBody(w io.Writer, h header.Header, bodyBytes []byte, bodyStream io.Reader) (err error) {
	switch {
	case bodyBytes != nil:
		_, err = w.Write(bodyBytes)
	case bodyStream != nil:
		if h.Get(header.TransferEncoding) == header.Chunked {
			err = encodeChunked(w, bodyStream)
		} else {
			_, err = io.Copy(w, bodyStream)
		}
	}
	return err
}

// frameRequestBody applies the body-framing decision tree from §4.1,
// mutating h in place (Content-Type/Content-Length/Transfer-Encoding), and
// returns either a fully materialized byte buffer or a lazy stream to copy
// from — never both.
func frameRequestBody(h header.Header, b Body) (bodyBytes []byte, bodyStream io.Reader, err error) {
	switch b.kind {
	case bodyNone:
		return nil, nil, nil

	case bodyText:
		if h.Get(header.ContentType) == "" {
			h.Set(header.ContentType, "text/plain; charset=UTF-8")
		}
		buf := []byte(b.text)
		if h.Get(header.ContentLength) == "" {
			h.Set(header.ContentLength, strconv.Itoa(len(buf)))
		}
		return buf, nil, nil

	case bodyBytes:
		if h.Get(header.ContentLength) == "" {
			h.Set(header.ContentLength, strconv.Itoa(len(b.bytes)))
		}
		if h.Get(header.ContentType) == "" {
			h.Set(header.ContentType, "application/octet-stream")
		}
		return b.bytes, nil, nil

	case bodyForm:
		encoded := []byte(b.form.Encode())
		if h.Get(header.ContentType) == "" {
			h.Set(header.ContentType, "application/x-www-form-urlencoded")
		}
		if h.Get(header.ContentLength) == "" {
			h.Set(header.ContentLength, strconv.Itoa(len(encoded)))
		}
		return encoded, nil, nil

	case bodyStream:
		hasLength := h.Get(header.ContentLength) != ""
		hasChunked := header.ContainsToken(h.Values(header.TransferEncoding), header.Chunked)
		if hasLength && hasChunked {
			return nil, nil, ambiguousFramingError{}
		}
		if !hasLength && !hasChunked {
			h.Set(header.TransferEncoding, header.Chunked)
		}
		return nil, b.stream, nil

	default:
		return nil, nil, nil
	}
}

func valueOrDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// compressStream pipes src through a gzip/deflate writer on the fly, so a
// lazy stream body can be compressed without buffering it whole.
func compressStream(encoding string, src io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		var wc io.WriteCloser
		switch encoding {
		case "gzip":
			wc = gzip.NewWriter(pw)
		case "deflate":
			fw, err := flate.NewWriter(pw, flate.DefaultCompression)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			wc = fw
		default:
			io.Copy(pw, src)
			pw.Close()
			return
		}
		_, err := io.Copy(wc, src)
		if err == nil {
			err = wc.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr
}

func compressBytes(encoding string, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	var wc io.WriteCloser
	switch encoding {
	case "gzip":
		wc = gzip.NewWriter(&buf)
	case "deflate":
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		wc = fw
	default:
		return in, nil
	}
	if _, err := wc.Write(in); err != nil {
		return nil, err
	}
	if err := wc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
