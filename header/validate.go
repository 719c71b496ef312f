/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package header

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ValidFieldName reports whether v is a valid HTTP header field name token.
func ValidFieldName(v string) bool {
	return httpguts.ValidHeaderFieldName(v)
}

// ValidFieldValue reports whether v is a valid HTTP header field value.
func ValidFieldValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}

// ContainsToken reports whether any entry of values contains token,
// comma-split and case-insensitively, per RFC 7230 list syntax.
func ContainsToken(values []string, token string) bool {
	for _, v := range values {
		if containsToken(v, token) {
			return true
		}
	}
	return false
}

func containsToken(v, token string) bool {
	v = strings.TrimSpace(v)
	for v != "" {
		var part string
		if i := strings.IndexByte(v, ','); i != -1 {
			part, v = v[:i], v[i+1:]
		} else {
			part, v = v, ""
		}
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// ShouldClose reports whether the connection should not be reused, based on
// the HTTP version and any Connection header tokens.
func ShouldClose(major, minor int, h Header, stripCloseToken bool) bool {
	if major < 1 {
		return true
	}
	conn := h.Values(Connection)
	hasClose := ContainsToken(conn, Close)
	if major == 1 && minor == 0 {
		return hasClose || !ContainsToken(conn, KeepAlive)
	}
	if hasClose && stripCloseToken {
		h.Del(Connection)
	}
	return hasClose
}
