/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package fetchttp is a fetch-compatible HTTP/1.1 client engine.
//
// Unlike net/http's Client, redirect responses are returned verbatim to the
// caller instead of being followed automatically, and response bodies are
// never buffered eagerly: the caller streams the body or asks for one of
// its materialized views. A per-origin Pool of single-connection Agents
// reuses idle TCP/TLS connections within configurable concurrency and
// idle-timeout bounds.
package fetchttp
