/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"fmt"
	"net/url"
)

// Scheme constants for the two protocols this engine speaks.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// origin is the (scheme, hostname, port) triple that a single agent and
// every request dispatched to it must share.
type origin struct {
	scheme   string
	hostname string
	port     string
}

func (o origin) String() string {
	return fmt.Sprintf("%s://%s:%s", o.scheme, o.hostname, o.port)
}

func (o origin) addr() string {
	return o.hostname + ":" + o.port
}

func defaultPort(scheme string) string {
	if scheme == SchemeHTTPS {
		return "443"
	}
	return "80"
}

// originOf extracts the origin triple from an absolute URL, rejecting any
// scheme other than http/https.
func originOf(u *url.URL) (origin, error) {
	switch u.Scheme {
	case SchemeHTTP, SchemeHTTPS:
	default:
		return origin{}, unsupportedProtocolError{scheme: u.Scheme}
	}
	host := u.Hostname()
	if host == "" {
		return origin{}, errMissingHost
	}
	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	return origin{scheme: u.Scheme, hostname: host, port: port}, nil
}
