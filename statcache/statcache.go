// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package statcache caches stat results and runs the stat syscalls on a task
// pool so the workers owning requests never block on the disk.
package statcache

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lesismal/vrequest/logging"
	"github.com/lesismal/vrequest/taskpool"
)

// DefaultTTL is how long a finished entry is served before it is refreshed.
const DefaultTTL = 10 * time.Second

// ErrNotReady is returned by Entry.Info while the stat is still running.
var ErrNotReady = errors.New("stat cache entry not ready")

const (
	stateWaiting int32 = iota
	stateFinished
)

// Entry is one cached stat result. Holders obtained it from Get and must give
// it back with Release.
type Entry struct {
	path  string
	state int32

	// written once by the stat task before state becomes stateFinished
	info os.FileInfo
	err  error
	ts   time.Time

	// guarded by Cache.mux
	refcount int
	waiters  []func()
}

// Path .
func (e *Entry) Path() string {
	return e.path
}

// Ready reports whether the stat finished.
func (e *Entry) Ready() bool {
	return atomic.LoadInt32(&e.state) == stateFinished
}

// Info returns the stat result, ErrNotReady while still waiting.
func (e *Entry) Info() (os.FileInfo, error) {
	if !e.Ready() {
		return nil, ErrNotReady
	}
	return e.info, e.err
}

// Cache .
type Cache struct {
	mux     sync.Mutex
	entries map[string]*Entry

	ttl  time.Duration
	pool *taskpool.TaskPool

	stat func(path string) (os.FileInfo, error)
	now  func() time.Time
}

// New creates a Cache running stats on pool.
func New(pool *taskpool.TaskPool, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: map[string]*Entry{},
		ttl:     ttl,
		pool:    pool,
		stat:    os.Stat,
		now:     time.Now,
	}
}

// Get returns the entry for path with a reference held for the caller and
// whether it is ready. When it is not, wake is called once from the stat
// goroutine after the result is in.
func (c *Cache) Get(path string, wake func()) (*Entry, bool) {
	c.mux.Lock()
	e := c.entries[path]
	if e != nil && e.Ready() && c.now().Sub(e.ts) > c.ttl {
		// holders keep the old result, new lookups get a fresh stat
		delete(c.entries, path)
		e = nil
	}
	if e == nil {
		e = &Entry{path: path}
		c.entries[path] = e
		c.mux.Unlock()
		c.schedule(e)
		c.mux.Lock()
	}
	e.refcount++
	if e.Ready() {
		c.mux.Unlock()
		return e, true
	}
	if wake != nil {
		e.waiters = append(e.waiters, wake)
	}
	c.mux.Unlock()
	return e, false
}

func (c *Cache) schedule(e *Entry) {
	run := func() {
		info, err := c.stat(e.path)
		c.finish(e, info, err)
	}
	if c.pool == nil {
		run()
		return
	}
	if err := c.pool.Go(run); err != nil {
		logging.Warn("statcache: %s not scheduled: %v", e.path, err)
		c.finish(e, nil, err)
	}
}

func (c *Cache) finish(e *Entry, info os.FileInfo, err error) {
	c.mux.Lock()
	e.info = info
	e.err = err
	e.ts = c.now()
	atomic.StoreInt32(&e.state, stateFinished)
	waiters := e.waiters
	e.waiters = nil
	c.mux.Unlock()

	for _, wake := range waiters {
		wake()
	}
}

// Release gives back a reference obtained from Get.
func (c *Cache) Release(e *Entry) {
	c.mux.Lock()
	if e.refcount > 0 {
		e.refcount--
	}
	c.mux.Unlock()
}

// Refcount returns the number of outstanding references on e.
func (c *Cache) Refcount(e *Entry) int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return e.refcount
}

// Invalidate drops the cached entry for path; the next Get stats again.
func (c *Cache) Invalidate(path string) {
	c.mux.Lock()
	delete(c.entries, path)
	c.mux.Unlock()
}

// Purge drops expired entries nobody holds and returns how many were dropped.
func (c *Cache) Purge() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	n := 0
	now := c.now()
	for path, e := range c.entries {
		if e.Ready() && e.refcount == 0 && now.Sub(e.ts) > c.ttl {
			delete(c.entries, path)
			n++
		}
	}
	return n
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.entries)
}
