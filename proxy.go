/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// oneConnDialer wraps a single, already-established net.Conn as a
// proxy.Dialer so golang.org/x/net/proxy's SOCKS5 implementation can
// negotiate over it instead of opening a connection of its own.
type oneConnDialer struct {
	conn net.Conn
	used bool
}

func newOneConnDialer(c net.Conn) *oneConnDialer { return &oneConnDialer{conn: c} }

func (d *oneConnDialer) Dial(network, addr string) (net.Conn, error) {
	if d.used {
		return nil, errors.New("fetchttp: oneConnDialer used more than once")
	}
	d.used = true
	return d.conn, nil
}

// proxyDial builds a dialFunc that routes every dial for an origin through
// the proxy at proxyURL instead of connecting to it directly: an "http" or
// "https" scheme tunnels via CONNECT (connectProxyDial), anything else
// (socks5, socks5h) negotiates via golang.org/x/net/proxy's SOCKS5 client,
// ported from the teacher's connectMethod proxy switch in transport.go.
func proxyDial(proxyURL *url.URL, base dialFunc) dialFunc {
	if base == nil {
		base = defaultDialer
	}
	switch proxyURL.Scheme {
	case "http", "https":
		return connectProxyDial(proxyURL, base)
	default:
		return socks5ProxyDial(proxyURL, base)
	}
}

func socks5ProxyDial(proxyURL *url.URL, base dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := base(ctx, "tcp", proxyURL.Host)
		if err != nil {
			return nil, err
		}
		var auth *proxy.Auth
		if u := proxyURL.User; u != nil {
			auth = &proxy.Auth{User: u.Username()}
			auth.Password, _ = u.Password()
		}
		d, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, newOneConnDialer(conn))
		if err != nil {
			conn.Close()
			return nil, err
		}
		target, err := d.Dial(network, addr)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return target, nil
	}
}

// connectProxyDial tunnels to addr through an HTTP forward proxy with
// CONNECT, the handshake the teacher's transport.go issues for HTTPS
// targets (a literal CONNECT request, then checking for a 200 status
// before handing the raw conn back for the TLS handshake). This engine
// always writes origin-form request lines (wire_request.go has no
// absolute-form path for plain HTTP through a proxy), so CONNECT is used
// uniformly here regardless of the target's scheme: the tunnel is opaque
// to the proxy either way, it just stops being cache/rewrite-visible for
// plain-http traffic the way absolute-form proxying would be.
func connectProxyDial(proxyURL *url.URL, base dialFunc) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := base(ctx, "tcp", proxyURL.Host)
		if err != nil {
			return nil, err
		}
		if proxyURL.Scheme == "https" {
			tc := tls.Client(conn, &tls.Config{ServerName: proxyURL.Hostname()})
			if err := tc.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			conn = tc
		}
		if err := sendConnect(conn, proxyURL, addr); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// sendConnect writes a CONNECT request for addr and checks for a 200
// response. Discarding the bufio.Reader afterward is safe, matching the
// teacher's own comment at the equivalent call site: the origin on the far
// side of the tunnel won't speak until this client does, so the proxy
// can't have pipelined anything past the blank line ending its response.
func sendConnect(conn net.Conn, proxyURL *url.URL, addr string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if u := proxyURL.User; u != nil {
		cred := u.Username() + ":"
		if pw, ok := u.Password(); ok {
			cred += pw
		}
		fmt.Fprintf(&sb, "Proxy-Authorization: Basic %s\r\n", base64.StdEncoding.EncodeToString([]byte(cred)))
	}
	sb.WriteString("\r\n")
	if _, err := io.WriteString(conn, sb.String()); err != nil {
		return err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return err
	}
	parts := strings.SplitN(strings.TrimSpace(status), " ", 3)
	if len(parts) < 2 || parts[1] != "200" {
		return fmt.Errorf("fetchttp: proxy CONNECT to %s failed: %s", addr, strings.TrimSpace(status))
	}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		if line == "\r\n" || line == "\n" {
			return nil
		}
	}
}
