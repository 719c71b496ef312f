/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package header implements the case-insensitive, append-ordered header
// list used by requests and responses.
package header

import (
	"io"
	"sort"
	"strings"
	"time"
)

// TimeFormat is the time format used in the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

var timeFormats = []string{TimeFormat, time.RFC850, time.ANSIC}

// Header is an ordered multi-map of header fields. Names are stored in
// canonical form; a single Header value may carry several entries for the
// same name, preserved in append order.
type Header map[string][]string

// New builds a Header from name/value pairs in the order given.
func New(pairs ...[2]string) Header {
	h := make(Header, len(pairs))
	for _, p := range pairs {
		h.Add(p[0], p[1])
	}
	return h
}

// Add appends value to any existing values for key.
func (h Header) Add(key, value string) {
	key = CanonicalKey(key)
	h[key] = append(h[key], value)
}

// Set replaces any existing values for key with value.
func (h Header) Set(key, value string) {
	h[CanonicalKey(key)] = []string{value}
}

// Get returns the first value for key, or "".
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	v := h[CanonicalKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Values returns all values for key, in append order.
func (h Header) Values(key string) []string {
	return h[CanonicalKey(key)]
}

// Has reports whether key has at least one value.
func (h Header) Has(key string) bool {
	_, ok := h[CanonicalKey(key)]
	return ok
}

// Del removes all values for key.
func (h Header) Del(key string) {
	delete(h, CanonicalKey(key))
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	h2 := make(Header, len(h))
	for k, vv := range h {
		vv2 := make([]string, len(vv))
		copy(vv2, vv)
		h2[k] = vv2
	}
	return h2
}

// Merge copies every value of src into *dst, without replacing existing keys.
func Merge(dst *Header, src Header) {
	if *dst == nil {
		*dst = make(Header, len(src))
	}
	for k, vv := range src {
		key := CanonicalKey(k)
		(*dst)[key] = append((*dst)[key], vv...)
	}
}

type keyValues struct {
	key    string
	values []string
}

type byKey []keyValues

func (s byKey) Len() int           { return len(s) }
func (s byKey) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byKey) Less(i, j int) bool { return s[i].key < s[j].key }

// Write serializes h in wire format (sorted by key, CRLF terminated lines).
// It does not write the blank line that terminates the header block.
func (h Header) Write(w io.Writer) error {
	kvs := make([]keyValues, 0, len(h))
	for k, vv := range h {
		kvs = append(kvs, keyValues{k, vv})
	}
	sort.Sort(byKey(kvs))

	var sb strings.Builder
	for _, kv := range kvs {
		for _, v := range kv.values {
			v = strings.NewReplacer("\n", " ", "\r", " ").Replace(v)
			v = strings.TrimSpace(v)
			sb.WriteString(kv.key)
			sb.WriteString(": ")
			sb.WriteString(v)
			sb.WriteString("\r\n")
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// ParseTime parses a Date-style header value against TimeFormat, RFC850 and
// ANSIC, the three forms HTTP/1.1 permits.
func ParseTime(text string) (time.Time, error) {
	var t time.Time
	var err error
	for _, layout := range timeFormats {
		t, err = time.Parse(layout, text)
		if err == nil {
			return t, nil
		}
	}
	return t, err
}
