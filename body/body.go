/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package body wraps a lazy byte stream and a content-type into an
// at-most-once-consumable set of materializers (text, JSON, bytes, blob,
// form entries), while still allowing raw stream access for callers who
// want to do their own consumption.
package body

import (
	"context"
	"errors"
	"io"
	"net/url"
	"runtime"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
)

// ErrAlreadyRead is returned by a second materialization call, regardless
// of which materializer was used first.
var ErrAlreadyRead = errors.New("fetchttp: body stream already read")

// ErrUnsupportedContent is returned when FormEntries is called on a body
// whose content-type isn't application/x-www-form-urlencoded, or when a
// multipart/form-data body is encountered (unsupported by this engine).
var ErrUnsupportedContent = errors.New("fetchttp: unsupported content for this materializer")

// Blob is an opaque typed view of a fully-read body: its bytes plus the
// content-type the server declared.
type Blob struct {
	ContentType string
	Data        []byte
}

// DoneFunc is invoked exactly once when the stream reaches its natural end,
// is cancelled, or is closed early — whichever happens first. A non-nil err
// indicates the stream did not drain cleanly (cancelled or closed early).
type DoneFunc func(err error)

// Stream is the lazy, at-most-once body of a Request or Response.
type Stream struct {
	r           io.ReadCloser
	contentType string
	onDone      DoneFunc

	used   int32 // atomic; 1 once a materializer has claimed the body
	doneMu doneState
}

type doneState struct {
	fired int32 // atomic
}

// New wraps r (the raw, still-framed byte stream) with contentType. onDone,
// if non-nil, fires exactly once: when Read returns io.EOF, when Close is
// called before EOF, or when the Stream itself is garbage-collected while
// still unconsumed — a runtime finalizer backstops callers who drop a
// Response on the floor without reading or closing its Body, so the
// connection underneath it doesn't leak until process exit.
func New(r io.ReadCloser, contentType string, onDone DoneFunc) *Stream {
	s := &Stream{r: r, contentType: contentType, onDone: onDone}
	runtime.SetFinalizer(s, (*Stream).finalize)
	return s
}

// finalize runs if s becomes unreachable without ever going through Read-to-
// EOF or Close. It's a backstop, not the normal path: fireDone clears the
// finalizer as soon as the stream is disposed of properly, so this only
// fires for genuinely abandoned bodies.
func (s *Stream) finalize() {
	s.Close()
}

// ContentType returns the content-type the body was constructed with.
func (s *Stream) ContentType() string { return s.contentType }

// Used reports whether a materializer has already consumed the body.
func (s *Stream) Used() bool { return atomic.LoadInt32(&s.used) != 0 }

// Read gives raw access to the framed byte stream, bypassing the
// used-flag: a caller reading directly takes responsibility for at-most-once
// semantics itself.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err == io.EOF {
		s.fireDone(nil)
	}
	return n, err
}

// Close releases the underlying stream. If the stream had not yet reached
// EOF, onDone fires with a non-nil error so the owner can tear down rather
// than reuse whatever transport the stream was backed by.
func (s *Stream) Close() error {
	err := s.r.Close()
	s.fireDone(errClosedEarly(err))
	return err
}

func errClosedEarly(closeErr error) error {
	if closeErr != nil {
		return closeErr
	}
	return io.ErrClosedPipe
}

func (s *Stream) fireDone(err error) {
	if !atomic.CompareAndSwapInt32(&s.doneMu.fired, 0, 1) {
		return
	}
	runtime.SetFinalizer(s, nil)
	if s.onDone != nil {
		s.onDone(err)
	}
}

// claim marks the body as used, returning ErrAlreadyRead if a materializer
// already claimed it.
func (s *Stream) claim() error {
	if !atomic.CompareAndSwapInt32(&s.used, 0, 1) {
		return ErrAlreadyRead
	}
	return nil
}

func (s *Stream) readAll(ctx context.Context) ([]byte, error) {
	if err := s.claim(); err != nil {
		return nil, err
	}
	defer s.r.Close()

	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(s.r)
		done <- result{b, err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			s.fireDone(nil)
		} else {
			s.fireDone(res.err)
		}
		return res.b, res.err
	case <-ctx.Done():
		s.fireDone(ctx.Err())
		return nil, ctx.Err()
	}
}

// Text materializes the body as a UTF-8 string.
func (s *Stream) Text(ctx context.Context) (string, error) {
	b, err := s.readAll(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Bytes materializes the body as a raw byte slice.
func (s *Stream) Bytes(ctx context.Context) ([]byte, error) {
	return s.readAll(ctx)
}

// JSON materializes the body and unmarshals it into v using goccy/go-json.
func (s *Stream) JSON(ctx context.Context, v interface{}) error {
	b, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Blob materializes the body as an opaque typed buffer, preserving the
// content-type the server sent.
func (s *Stream) Blob(ctx context.Context) (*Blob, error) {
	b, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return &Blob{ContentType: s.contentType, Data: b}, nil
}

// FormEntries materializes the body as application/x-www-form-urlencoded
// values. It fails with ErrUnsupportedContent for any other content-type,
// including multipart/form-data, which this engine does not parse.
func (s *Stream) FormEntries(ctx context.Context) (url.Values, error) {
	mediaType := s.contentType
	if i := strings.IndexByte(mediaType, ';'); i != -1 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(mediaType)
	if !strings.EqualFold(mediaType, "application/x-www-form-urlencoded") {
		// Must still claim the body: a failed materialization attempt is
		// still an attempt, and the caller already told us what they
		// expected. Mirrors BodyAlreadyRead semantics: this is not that
		// error, but claiming keeps "at most one materialization call
		// total" true even on failure paths.
		if err := s.claim(); err != nil {
			return nil, err
		}
		s.r.Close()
		s.fireDone(ErrUnsupportedContent)
		return nil, ErrUnsupportedContent
	}
	b, err := s.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return url.ParseQuery(string(b))
}
