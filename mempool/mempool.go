// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"sync"
	"sync/atomic"
)

// Allocator hands out byte buffers for memory chunks.
type Allocator interface {
	Malloc(size int) []byte
	Realloc(buf []byte, size int) []byte
	Append(buf []byte, more ...byte) []byte
	AppendString(buf []byte, more string) []byte
	Free(buf []byte)
}

// DefaultMemPool .
var DefaultMemPool = New(1024, 1024*1024)

// MemPool .
type MemPool struct {
	bufSize  int
	freeSize int
	pool     *sync.Pool

	mallocCount int64
	freeCount   int64
}

// New .
func New(bufSize, freeSize int) *MemPool {
	if bufSize <= 0 {
		bufSize = 64
	}
	if freeSize <= 0 {
		freeSize = 64 * 1024
	}
	if freeSize < bufSize {
		freeSize = bufSize
	}

	mp := &MemPool{
		bufSize:  bufSize,
		freeSize: freeSize,
		pool:     &sync.Pool{},
	}
	mp.pool.New = func() interface{} {
		buf := make([]byte, bufSize)
		return &buf
	}

	return mp
}

// Malloc .
func (mp *MemPool) Malloc(size int) []byte {
	atomic.AddInt64(&mp.mallocCount, 1)
	if size > mp.freeSize {
		return make([]byte, size)
	}
	pbuf := mp.pool.Get().(*[]byte)
	n := cap(*pbuf)
	if n < size {
		*pbuf = append((*pbuf)[:n], make([]byte, size-n)...)
	}
	return (*pbuf)[:size]
}

// Realloc .
func (mp *MemPool) Realloc(buf []byte, size int) []byte {
	if size <= cap(buf) {
		return buf[:size]
	}

	if cap(buf) < mp.freeSize {
		newBuf := mp.Malloc(size)
		copy(newBuf, buf)
		mp.Free(buf)
		return newBuf
	}
	return append(buf[:cap(buf)], make([]byte, size-cap(buf))...)[:size]
}

// Append .
func (mp *MemPool) Append(buf []byte, more ...byte) []byte {
	if buf == nil {
		buf = mp.Malloc(0)
	}
	if len(buf)+len(more) > cap(buf) {
		l := len(buf)
		buf = mp.Realloc(buf, l+len(more))
		copy(buf[l:], more)
		return buf
	}
	return append(buf, more...)
}

// AppendString .
func (mp *MemPool) AppendString(buf []byte, more string) []byte {
	if buf == nil {
		buf = mp.Malloc(0)
	}
	if len(buf)+len(more) > cap(buf) {
		l := len(buf)
		buf = mp.Realloc(buf, l+len(more))
		copy(buf[l:], more)
		return buf
	}
	return append(buf, more...)
}

// Free .
func (mp *MemPool) Free(buf []byte) {
	if buf == nil {
		return
	}
	atomic.AddInt64(&mp.freeCount, 1)
	if cap(buf) > mp.freeSize || cap(buf) < mp.bufSize {
		return
	}
	buf = buf[:0]
	mp.pool.Put(&buf)
}

// Outstanding returns the number of buffers handed out and not yet freed.
func (mp *MemPool) Outstanding() int64 {
	return atomic.LoadInt64(&mp.mallocCount) - atomic.LoadInt64(&mp.freeCount)
}

// stdAllocator .
type stdAllocator struct{}

// Malloc .
func (a *stdAllocator) Malloc(size int) []byte {
	return make([]byte, size)
}

// Realloc .
func (a *stdAllocator) Realloc(buf []byte, size int) []byte {
	if size <= cap(buf) {
		return buf[:size]
	}
	newBuf := make([]byte, size)
	copy(newBuf, buf)
	return newBuf
}

// Free .
func (a *stdAllocator) Free(buf []byte) {
}

func (a *stdAllocator) Append(buf []byte, more ...byte) []byte {
	return append(buf, more...)
}

func (a *stdAllocator) AppendString(buf []byte, more string) []byte {
	return append(buf, more...)
}

// NewSTD returns an Allocator that never pools.
func NewSTD() Allocator {
	return &stdAllocator{}
}

// Malloc exports default package method.
func Malloc(size int) []byte {
	return DefaultMemPool.Malloc(size)
}

// Realloc exports default package method.
func Realloc(buf []byte, size int) []byte {
	return DefaultMemPool.Realloc(buf, size)
}

// Append exports default package method.
func Append(buf []byte, more ...byte) []byte {
	return DefaultMemPool.Append(buf, more...)
}

// AppendString exports default package method.
func AppendString(buf []byte, more string) []byte {
	return DefaultMemPool.AppendString(buf, more)
}

// Free exports default package method.
func Free(buf []byte) {
	DefaultMemPool.Free(buf)
}

// Init replaces the default pool.
func Init(bufSize, freeSize int) {
	DefaultMemPool = New(bufSize, freeSize)
}
