// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package httpconn

import (
	"bytes"
	"errors"
	"strconv"

	"github.com/lesismal/vrequest"
	"github.com/lesismal/vrequest/chunkqueue"
)

const maxChunkLine = 4096

var (
	// ErrChunkedTruncated .
	ErrChunkedTruncated = errors.New("chunked body truncated")
	// ErrChunkedInvalid .
	ErrChunkedInvalid = errors.New("invalid chunked body")
)

// chunkEncoder frames its input with the chunked transfer coding.
func chunkEncoder(vr *vrequest.VRequest, f *vrequest.Filter) vrequest.FilterResult {
	if n := f.In.Length(); n > 0 {
		f.Out.AppendString(strconv.FormatInt(n, 16) + "\r\n")
		f.Out.StealAll(f.In)
		f.Out.AppendString("\r\n")
	}
	if f.In.IsClosed() {
		f.Out.AppendString("0\r\n\r\n")
		return vrequest.FilterFinished
	}
	return vrequest.FilterGoOn
}

// discardBody drops the response body of HEAD and bodiless status codes.
func discardBody(vr *vrequest.VRequest, f *vrequest.Filter) vrequest.FilterResult {
	f.In.SkipAll()
	if f.In.IsClosed() {
		return vrequest.FilterFinished
	}
	return vrequest.FilterGoOn
}

const (
	decSize = iota
	decData
	decDataEnd
	decTrailer
	decDone
)

// chunkDecoder removes the chunked transfer coding from a request body.
type chunkDecoder struct {
	state int
	left  int64
	err   error
	line  [maxChunkLine]byte
}

// readLine consumes one CRLF terminated line from q. ok is false when the
// line is not complete yet.
func (d *chunkDecoder) readLine(q *chunkqueue.Queue) (line []byte, ok bool, err error) {
	n, err := q.Peek(d.line[:])
	if err != nil {
		return nil, false, err
	}
	i := bytes.IndexByte(d.line[:n], '\n')
	if i < 0 {
		if n == len(d.line) {
			return nil, false, ErrChunkedInvalid
		}
		return nil, false, nil
	}
	q.Skip(int64(i + 1))
	return bytes.TrimRight(d.line[:i], "\r"), true, nil
}

// HandleData implements vrequest.FilterHandler.
func (d *chunkDecoder) HandleData(vr *vrequest.VRequest, f *vrequest.Filter) vrequest.FilterResult {
	for {
		switch d.state {
		case decSize, decDataEnd, decTrailer:
			line, ok, err := d.readLine(f.In)
			if err != nil {
				return d.fail(vr, err)
			}
			if !ok {
				return d.needMore(vr, f)
			}
			switch d.state {
			case decSize:
				if i := bytes.IndexByte(line, ';'); i >= 0 {
					line = line[:i]
				}
				size, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
				if err != nil || size < 0 {
					return d.fail(vr, ErrChunkedInvalid)
				}
				d.left = size
				d.state = decData
				if size == 0 {
					d.state = decTrailer
				}
			case decDataEnd:
				if len(line) != 0 {
					return d.fail(vr, ErrChunkedInvalid)
				}
				d.state = decSize
			case decTrailer:
				if len(line) == 0 {
					d.state = decDone
				}
			}

		case decData:
			n := f.Out.StealLen(f.In, d.left)
			d.left -= n
			if d.left > 0 {
				return d.needMore(vr, f)
			}
			d.state = decDataEnd

		case decDone:
			f.In.SkipAll()
			return vrequest.FilterFinished
		}
	}
}

func (d *chunkDecoder) needMore(vr *vrequest.VRequest, f *vrequest.Filter) vrequest.FilterResult {
	if f.In.IsClosed() {
		return d.fail(vr, ErrChunkedTruncated)
	}
	return vrequest.FilterGoOn
}

func (d *chunkDecoder) fail(vr *vrequest.VRequest, err error) vrequest.FilterResult {
	d.err = err
	vr.Logger().Warn("request body: %v", err)
	return vrequest.FilterError
}

// Free implements vrequest.FilterHandler.
func (d *chunkDecoder) Free(vr *vrequest.VRequest, f *vrequest.Filter) {}
