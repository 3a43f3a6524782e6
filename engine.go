// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/lesismal/vrequest/logging"
	"github.com/lesismal/vrequest/metrics"
	"github.com/lesismal/vrequest/statcache"
	"github.com/lesismal/vrequest/taskpool"
)

const (
	// DefaultMemoryLimit is the per request ceiling for in-memory buffering.
	DefaultMemoryLimit = 512 * 1024

	// DefaultStatWorkers .
	DefaultStatWorkers = 16
)

// Config Of Engine.
type Config struct {
	// Name describes the engine in logs, it's set to "VR" by default.
	Name string

	// NumWorkers is the number of worker goroutines, runtime.NumCPU() by default.
	NumWorkers int

	// AsyncQueueSize bounds pending cross goroutine wake-ups and calls per worker.
	AsyncQueueSize int

	// MemoryLimit is the per request in-memory buffering ceiling in bytes,
	// DefaultMemoryLimit by default, negative disables it.
	MemoryLimit int64

	// StatCacheTTL is how long stat results are reused, statcache.DefaultTTL by default.
	StatCacheTTL time.Duration

	// StatWorkers is the number of goroutines running stat syscalls.
	StatWorkers int

	// DebugRequestHandling logs every state transition at debug level.
	DebugRequestHandling bool

	// DefaultOptions are copied into each request's options on creation and reset.
	DefaultOptions map[string]interface{}

	// Plugins is the plugin registry, a new empty one by default.
	Plugins *Plugins

	// Metrics receives counters, nil disables them.
	Metrics *metrics.Collector
}

// Engine owns the workers and the resources shared by all requests.
type Engine struct {
	Name string

	conf    Config
	workers []*Worker

	plugins   *Plugins
	metrics   *metrics.Collector
	statPool  *taskpool.TaskPool
	statCache *statcache.Cache

	wg      sync.WaitGroup
	mux     sync.Mutex
	started bool
	stopped bool
}

// NewEngine creates an Engine; call Start before using its workers.
func NewEngine(conf Config) *Engine {
	if conf.Name == "" {
		conf.Name = "VR"
	}
	if conf.NumWorkers <= 0 {
		conf.NumWorkers = runtime.NumCPU()
	}
	if conf.AsyncQueueSize <= 0 {
		conf.AsyncQueueSize = DefaultAsyncQueueSize
	}
	if conf.MemoryLimit == 0 {
		conf.MemoryLimit = DefaultMemoryLimit
	}
	if conf.StatCacheTTL <= 0 {
		conf.StatCacheTTL = statcache.DefaultTTL
	}
	if conf.StatWorkers <= 0 {
		conf.StatWorkers = DefaultStatWorkers
	}
	if conf.Plugins == nil {
		conf.Plugins = NewPlugins()
	}

	e := &Engine{
		Name:    conf.Name,
		conf:    conf,
		plugins: conf.Plugins,
		metrics: conf.Metrics,
	}
	e.statPool = taskpool.New(conf.StatWorkers, conf.AsyncQueueSize)
	e.statCache = statcache.New(e.statPool, conf.StatCacheTTL)
	e.workers = make([]*Worker, conf.NumWorkers)
	for i := range e.workers {
		e.workers[i] = newWorker(e, i, conf.AsyncQueueSize)
	}
	return e
}

// Start runs the workers.
func (e *Engine) Start() {
	e.mux.Lock()
	defer e.mux.Unlock()
	if e.started {
		return
	}
	e.started = true
	for _, w := range e.workers {
		e.wg.Add(1)
		go func(w *Worker) {
			defer e.wg.Done()
			w.start()
		}(w)
	}
	logging.Info("%v start with %v workers", e.Name, len(e.workers))
}

// Stop stops the workers and the stat pool. Requests still queued are dropped.
func (e *Engine) Stop() {
	e.mux.Lock()
	if e.stopped {
		e.mux.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	e.mux.Unlock()

	if started {
		for _, w := range e.workers {
			w.stop()
		}
		e.wg.Wait()
	}
	e.statPool.Stop()
	logging.Info("%v stop", e.Name)
}

// Shutdown stops Engine gracefully with context.
func (e *Engine) Shutdown(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		e.Stop()
		close(ch)
	}()

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Worker returns worker i modulo the number of workers, so a connection
// hash picks its owner.
func (e *Engine) Worker(i int) *Worker {
	return e.workers[uint(i)%uint(len(e.workers))]
}

// NumWorkers .
func (e *Engine) NumWorkers() int {
	return len(e.workers)
}

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *Plugins {
	return e.plugins
}

// StatCache returns the shared stat cache.
func (e *Engine) StatCache() *statcache.Cache {
	return e.statCache
}

// Metrics returns the collector, nil when disabled.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

func (e *Engine) requestOptions() Options {
	return Options{
		Plugins:              e.plugins,
		StatCache:            e.statCache,
		MemoryLimit:          e.conf.MemoryLimit,
		DefaultOptions:       e.conf.DefaultOptions,
		DebugRequestHandling: e.conf.DebugRequestHandling,
		Metrics:              e.metrics,
	}
}
