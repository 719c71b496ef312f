/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package fetchttp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/streamfetch/fetchttp/header"
)

// encodeChunked writes src to w using HTTP/1.1 chunked transfer coding:
// "size_hex\r\nchunk\r\n" per non-empty read, then "0\r\n\r\n" on EOF. Empty
// reads are skipped so they never encode as a premature zero-sized chunk.
func encodeChunked(w io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := fmt.Fprintf(w, "%x\r\n", n); err != nil {
				return err
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "\r\n"); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			_, err := io.WriteString(w, "0\r\n\r\n")
			return err
		}
		if rerr != nil {
			return rerr
		}
	}
}

type chunkedState int

const (
	chunkSize chunkedState = iota
	chunkData
	chunkAfter
	chunkTrailer
	chunkDone
)

// chunkedReader decodes an HTTP/1.1 chunked body as a state machine over
// {SIZE, DATA, AFTER_CHUNK, TRAILER, DONE}, per RFC 7230. Line endings are
// accepted on bare LF as well as CRLF. On reaching DONE it returns io.EOF
// and calls onEOF once; the agent uses onEOF to record trailer fields on the
// response, while the end of the body reaches it through the io.EOF.
type chunkedReader struct {
	br      *bufio.Reader
	state   chunkedState
	n       uint64 // bytes remaining in the current chunk
	err     error
	trailer header.Header
	onEOF   func()
	firedEOF bool
}

func newChunkedReader(br *bufio.Reader, onEOF func()) *chunkedReader {
	return &chunkedReader{br: br, onEOF: onEOF}
}

func (c *chunkedReader) Read(p []byte) (n int, err error) {
	for {
		if c.err != nil {
			return 0, c.err
		}
		switch c.state {
		case chunkSize:
			if err := c.beginChunk(); err != nil {
				c.err = err
				return 0, err
			}
		case chunkData:
			if len(p) == 0 {
				return 0, nil
			}
			toRead := c.n
			if uint64(len(p)) < toRead {
				toRead = uint64(len(p))
			}
			rn, rerr := c.br.Read(p[:toRead])
			c.n -= uint64(rn)
			if c.n == 0 && rerr == nil {
				c.state = chunkAfter
			}
			if rerr != nil && rerr != io.EOF {
				c.err = rerr
			} else if rerr == io.EOF {
				c.err = malformedChunkError{reason: "EOF mid-chunk"}
			}
			return rn, c.err2(rn)
		case chunkAfter:
			if err := c.consumeCRLF(); err != nil {
				c.err = err
				return 0, err
			}
			c.state = chunkSize
		case chunkTrailer:
			if err := c.readTrailer(); err != nil {
				c.err = err
				return 0, err
			}
			c.state = chunkDone
		case chunkDone:
			c.err = io.EOF
			c.fireEOF()
			return 0, io.EOF
		}
	}
}

// err2 suppresses a non-nil c.err when rn>0, matching io.Reader's
// allowance of a final (n, err) pair.
func (c *chunkedReader) err2(rn int) error {
	if rn > 0 {
		return nil
	}
	return c.err
}

func (c *chunkedReader) beginChunk() error {
	line, err := readChunkLine(c.br)
	if err != nil {
		return malformedChunkError{reason: "reading chunk size: " + err.Error()}
	}
	size, ok := parseHexSize(line)
	if !ok {
		return malformedChunkError{reason: "invalid chunk size line"}
	}
	c.n = size
	if size == 0 {
		c.state = chunkTrailer
	} else {
		c.state = chunkData
	}
	return nil
}

func (c *chunkedReader) consumeCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return malformedChunkError{reason: "missing chunk terminator"}
	}
	if b1 == '\n' {
		return nil
	}
	if b1 != '\r' {
		return malformedChunkError{reason: "missing chunk terminator"}
	}
	b2, err := c.br.ReadByte()
	if err != nil || b2 != '\n' {
		return malformedChunkError{reason: "missing chunk terminator"}
	}
	return nil
}

func (c *chunkedReader) readTrailer() error {
	trailer := make(header.Header)
	for {
		line, err := readChunkLine(c.br)
		if err != nil {
			return malformedChunkError{reason: "reading trailer: " + err.Error()}
		}
		if len(line) == 0 {
			break
		}
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			name := header.CanonicalKey(string(bytes.TrimSpace(line[:i])))
			value := string(bytes.TrimSpace(line[i+1:]))
			trailer.Add(name, value)
		}
	}
	c.trailer = trailer
	return nil
}

func (c *chunkedReader) fireEOF() {
	if c.firedEOF {
		return
	}
	c.firedEOF = true
	if c.onEOF != nil {
		c.onEOF()
	}
}

// readChunkLine reads one line (terminated by LF, optionally preceded by
// CR) and trims the line ending.
func readChunkLine(b *bufio.Reader) ([]byte, error) {
	line, err := b.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	// Strip a chunk-extension (";token=value") if present.
	if i := bytes.IndexByte(line, ';'); i != -1 {
		line = line[:i]
	}
	return bytes.TrimSpace(line), nil
}

func parseHexSize(line []byte) (uint64, bool) {
	if len(line) == 0 {
		return 0, false
	}
	var n uint64
	for _, b := range line {
		var v uint64
		switch {
		case '0' <= b && b <= '9':
			v = uint64(b - '0')
		case 'a' <= b && b <= 'f':
			v = uint64(b-'a') + 10
		case 'A' <= b && b <= 'F':
			v = uint64(b-'A') + 10
		default:
			return 0, false
		}
		n = n<<4 | v
	}
	return n, true
}
