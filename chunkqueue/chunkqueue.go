// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package chunkqueue implements the buffered byte stream used between a
// connection, the filter chains and the backend of a request.
//
// A Queue holds memory chunks and file regions in append order. BytesIn counts
// everything ever appended, BytesOut everything consumed; Length is what is
// still queued. Queues are not safe for concurrent use: they belong to the
// worker that owns the request.
package chunkqueue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/lesismal/vrequest/mempool"
)

var (
	// ErrClosed is returned when appending to a closed queue.
	ErrClosed = errors.New("chunkqueue closed")

	// ErrShortFile is returned when a file region ends before its declared length.
	ErrShortFile = errors.New("file region shorter than expected")
)

type chunkType int8

const (
	memChunk chunkType = iota
	fileChunk
)

// File is a reference counted open file shared by file chunks.
type File struct {
	refcount int32
	fd       *os.File
	path     string
}

// OpenFile opens path for reading. The returned File holds one reference.
func OpenFile(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{refcount: 1, fd: fd, path: path}, nil
}

// NewFile wraps an already opened file. The returned File holds one reference.
func NewFile(fd *os.File) *File {
	return &File{refcount: 1, fd: fd, path: fd.Name()}
}

// Path returns the path the file was opened with.
func (f *File) Path() string {
	return f.path
}

// Acquire adds a reference.
func (f *File) Acquire() *File {
	atomic.AddInt32(&f.refcount, 1)
	return f
}

// Release drops a reference and closes the file with the last one.
func (f *File) Release() {
	if atomic.AddInt32(&f.refcount, -1) == 0 {
		f.fd.Close()
	}
}

type chunk struct {
	typ chunkType

	// memChunk: buf[offset:] is unread
	buf []byte

	// fileChunk: [start+offset, start+length) is unread
	file   *File
	start  int64
	length int64

	offset int64
}

func (c *chunk) remaining() int64 {
	if c.typ == memChunk {
		return int64(len(c.buf)) - c.offset
	}
	return c.length - c.offset
}

// Queue .
type Queue struct {
	chunks []*chunk

	length   int64
	bytesIn  int64
	bytesOut int64
	memUsage int64

	closed bool

	limit     *Limit
	allocator mempool.Allocator
}

// New creates an empty Queue backed by the default memory pool.
func New() *Queue {
	return &Queue{allocator: mempool.DefaultMemPool}
}

// NewWithAllocator creates an empty Queue that allocates memory chunks from a.
func NewWithAllocator(a mempool.Allocator) *Queue {
	if a == nil {
		a = mempool.DefaultMemPool
	}
	return &Queue{allocator: a}
}

// Length returns the number of queued bytes.
func (q *Queue) Length() int64 {
	return q.length
}

// BytesIn returns the number of bytes ever appended.
func (q *Queue) BytesIn() int64 {
	return q.bytesIn
}

// BytesOut returns the number of bytes ever consumed.
func (q *Queue) BytesOut() int64 {
	return q.bytesOut
}

// MemUsage returns the bytes held in memory chunks.
func (q *Queue) MemUsage() int64 {
	return q.memUsage
}

// IsClosed reports whether no more data will be appended.
func (q *Queue) IsClosed() bool {
	return q.closed
}

// Close marks the end of the stream.
func (q *Queue) Close() {
	q.closed = true
}

// SetClosed sets the closed flag, used when forwarding the end of stream.
func (q *Queue) SetClosed(closed bool) {
	q.closed = closed
}

// Empty reports whether no bytes are queued.
func (q *Queue) Empty() bool {
	return q.length == 0
}

// Finished reports whether the queue is closed and drained.
func (q *Queue) Finished() bool {
	return q.closed && q.length == 0
}

// UseLimit attaches the queue's memory accounting to l.
func (q *Queue) UseLimit(l *Limit) {
	if q.limit == l {
		return
	}
	q.limit.Update(-q.memUsage)
	q.limit = l
	q.limit.Update(q.memUsage)
}

// Limit returns the attached limit, nil if none.
func (q *Queue) Limit() *Limit {
	return q.limit
}

func (q *Queue) updateMem(delta int64) {
	q.memUsage += delta
	q.limit.Update(delta)
}

// moveMem hands n bytes of memory accounting from src to dst. Queues
// sharing a Limit leave it untouched.
func moveMem(src, dst *Queue, n int64) {
	if src.limit == dst.limit {
		src.memUsage -= n
		dst.memUsage += n
		return
	}
	src.updateMem(-n)
	dst.updateMem(n)
}

func (q *Queue) push(c *chunk) {
	n := c.remaining()
	q.chunks = append(q.chunks, c)
	q.length += n
	q.bytesIn += n
	if c.typ == memChunk {
		q.updateMem(n)
	}
}

// AppendMem copies data into a new memory chunk.
func (q *Queue) AppendMem(data []byte) error {
	if q.closed {
		return ErrClosed
	}
	if len(data) == 0 {
		return nil
	}
	buf := q.allocator.Malloc(len(data))
	copy(buf, data)
	q.push(&chunk{typ: memChunk, buf: buf})
	return nil
}

// AppendString copies s into a new memory chunk.
func (q *Queue) AppendString(s string) error {
	if q.closed {
		return ErrClosed
	}
	if len(s) == 0 {
		return nil
	}
	buf := q.allocator.Malloc(len(s))
	copy(buf, s)
	q.push(&chunk{typ: memChunk, buf: buf})
	return nil
}

// AppendFile queues length bytes of f starting at start. The queue takes
// its own reference on f.
func (q *Queue) AppendFile(f *File, start, length int64) error {
	if q.closed {
		return ErrClosed
	}
	if length <= 0 {
		return nil
	}
	q.push(&chunk{typ: fileChunk, file: f.Acquire(), start: start, length: length})
	return nil
}

func (q *Queue) popFront() *chunk {
	c := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	if len(q.chunks) == 0 {
		q.chunks = nil
	}
	return c
}

func (q *Queue) freeChunk(c *chunk) {
	if c.typ == memChunk {
		q.allocator.Free(c.buf)
		c.buf = nil
	} else if c.file != nil {
		c.file.Release()
		c.file = nil
	}
}

// StealAll moves every queued chunk of src to the tail of q without copying.
func (q *Queue) StealAll(src *Queue) int64 {
	var moved int64
	for len(src.chunks) > 0 {
		c := src.popFront()
		n := c.remaining()
		moved += n
		if c.typ == memChunk {
			moveMem(src, q, n)
		}
		q.chunks = append(q.chunks, c)
	}
	src.length -= moved
	src.bytesOut += moved
	q.length += moved
	q.bytesIn += moved
	return moved
}

// StealLen moves up to n bytes of src to q, splitting the last chunk if needed.
func (q *Queue) StealLen(src *Queue, n int64) int64 {
	var moved int64
	for n > 0 && len(src.chunks) > 0 {
		c := src.chunks[0]
		rem := c.remaining()
		if rem <= n {
			src.popFront()
			if c.typ == memChunk {
				moveMem(src, q, rem)
			}
			q.chunks = append(q.chunks, c)
			moved += rem
			n -= rem
			continue
		}
		var nc *chunk
		if c.typ == memChunk {
			buf := q.allocator.Malloc(int(n))
			copy(buf, c.buf[c.offset:c.offset+n])
			nc = &chunk{typ: memChunk, buf: buf}
			// the split chunk keeps its buffer, only the unread part shrinks
			moveMem(src, q, n)
		} else {
			nc = &chunk{typ: fileChunk, file: c.file.Acquire(), start: c.start + c.offset, length: n}
		}
		c.offset += n
		q.chunks = append(q.chunks, nc)
		moved += n
		n = 0
	}
	src.length -= moved
	src.bytesOut += moved
	q.length += moved
	q.bytesIn += moved
	return moved
}

// Skip drops up to n bytes from the head of the queue.
func (q *Queue) Skip(n int64) int64 {
	var skipped int64
	for n > 0 && len(q.chunks) > 0 {
		c := q.chunks[0]
		rem := c.remaining()
		if rem <= n {
			q.popFront()
			if c.typ == memChunk {
				q.updateMem(-rem)
			}
			q.freeChunk(c)
			skipped += rem
			n -= rem
			continue
		}
		c.offset += n
		if c.typ == memChunk {
			q.updateMem(-n)
		}
		skipped += n
		n = 0
	}
	q.length -= skipped
	q.bytesOut += skipped
	return skipped
}

// SkipAll drops everything queued.
func (q *Queue) SkipAll() int64 {
	return q.Skip(q.length)
}

// Read implements io.Reader and consumes what it returns. It returns io.EOF
// only when the queue is empty and closed.
func (q *Queue) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if q.length == 0 {
		if q.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, err := q.peek(p)
	q.Skip(int64(n))
	return n, err
}

// Peek copies up to len(p) queued bytes into p without consuming them.
func (q *Queue) Peek(p []byte) (int, error) {
	return q.peek(p)
}

func (q *Queue) peek(p []byte) (int, error) {
	total := 0
	for _, c := range q.chunks {
		if total == len(p) {
			break
		}
		want := int64(len(p) - total)
		rem := c.remaining()
		if rem < want {
			want = rem
		}
		if c.typ == memChunk {
			total += copy(p[total:], c.buf[c.offset:c.offset+want])
			continue
		}
		n, err := c.file.fd.ReadAt(p[total:total+int(want)], c.start+c.offset)
		total += n
		if err != nil && !(errors.Is(err, io.EOF) && int64(n) == want) {
			if errors.Is(err, io.EOF) {
				err = ErrShortFile
			}
			return total, fmt.Errorf("read %s: %w", c.file.path, err)
		}
	}
	return total, nil
}

// Bytes returns a copy of everything queued, file regions included.
func (q *Queue) Bytes() ([]byte, error) {
	buf := make([]byte, q.length)
	n, err := q.peek(buf)
	return buf[:n], err
}

// WriteTo implements io.WriterTo, consuming everything written to w.
func (q *Queue) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for len(q.chunks) > 0 {
		c := q.chunks[0]
		var n int64
		var err error
		if c.typ == memChunk {
			var m int
			m, err = w.Write(c.buf[c.offset:])
			n = int64(m)
		} else {
			sr := io.NewSectionReader(c.file.fd, c.start+c.offset, c.remaining())
			n, err = io.Copy(w, sr)
			if err == nil && n < c.remaining() {
				err = fmt.Errorf("read %s: %w", c.file.path, ErrShortFile)
			}
		}
		written += q.Skip(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Reset frees every chunk and clears counters, flags and the limit.
func (q *Queue) Reset() {
	for _, c := range q.chunks {
		q.freeChunk(c)
	}
	q.chunks = nil
	q.limit.Update(-q.memUsage)
	q.limit = nil
	q.memUsage = 0
	q.length = 0
	q.bytesIn = 0
	q.bytesOut = 0
	q.closed = false
}
