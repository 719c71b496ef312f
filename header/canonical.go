/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package header

// CanonicalKey returns the canonical form of a header name: the first
// letter and any letter following a hyphen are upper-cased, the rest are
// lower-cased. Mirrors net/textproto.CanonicalMIMEHeaderKey's algorithm so
// wire output matches what every HTTP/1.1 server expects.
func CanonicalKey(s string) string {
	if s == "" {
		return s
	}
	upper := true
	needsConversion := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !validByte(c) {
			return s
		}
		if upper && 'a' <= c && c <= 'z' {
			needsConversion = true
			break
		}
		if !upper && 'A' <= c && c <= 'Z' {
			needsConversion = true
			break
		}
		upper = c == '-'
	}
	if !needsConversion {
		return s
	}

	buf := []byte(s)
	upper = true
	for i, c := range buf {
		if upper && 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		buf[i] = c
		upper = c == '-'
	}
	return string(buf)
}

func validByte(c byte) bool {
	return c != ' ' && c < 0x80
}

// Common header field names, spelled out in canonical form so call sites
// read like the wire value instead of a string literal.
const (
	Accept           = "Accept"
	AcceptEncoding   = "Accept-Encoding"
	Authorization    = "Authorization"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	Location         = "Location"
	ProxyAuth        = "Proxy-Authorization"
	Range            = "Range"
	Trailer          = "Trailer"
	TransferEncoding = "Transfer-Encoding"
	UserAgent        = "User-Agent"
)

const (
	KeepAlive = "keep-alive"
	Close     = "close"
	Chunked   = "chunked"
	Identity  = "identity"
)
