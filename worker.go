// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"errors"
	"runtime"
	"sync"

	"github.com/lesismal/vrequest/logging"
)

// ErrWorkerStopped is returned by Call after Stop.
var ErrWorkerStopped = errors.New("worker stopped")

// Worker is a goroutine owning a set of requests and their job queue. All
// state of those requests is touched from this goroutine only.
type Worker struct {
	idx    int
	engine *Engine

	jobs *JobQueue

	mux     sync.RWMutex
	stopped bool
	chCall  chan func()
	chStop  chan struct{}
	done    chan struct{}
}

func newWorker(e *Engine, idx int, asyncSize int) *Worker {
	return &Worker{
		idx:    idx,
		engine: e,
		jobs:   NewJobQueue(asyncSize, e.metrics),
		chCall: make(chan func(), asyncSize),
		chStop: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Index returns the worker's position in the engine.
func (w *Worker) Index() int {
	return w.idx
}

// Append implements Scheduler. Owning worker only.
func (w *Worker) Append(vr *VRequest) {
	w.jobs.Append(vr)
}

// AppendAsync implements Scheduler. Safe from any goroutine, including
// the worker itself; it never blocks.
func (w *Worker) AppendAsync(ref *Ref) {
	w.mux.RLock()
	defer w.mux.RUnlock()
	if w.stopped {
		ref.Release()
		return
	}
	w.jobs.AppendAsync(ref)
}

// Call runs f on the worker goroutine. Connections deliver their events
// through it.
func (w *Worker) Call(f func()) error {
	w.mux.RLock()
	defer w.mux.RUnlock()
	if w.stopped {
		return ErrWorkerStopped
	}
	select {
	case w.chCall <- f:
		return nil
	case <-w.chStop:
		return ErrWorkerStopped
	}
}

// NewVRequest creates a request scheduled on this worker with the
// engine's plugins, stat cache, limits and metrics.
func (w *Worker) NewVRequest(h Handler) *VRequest {
	return New(w, h, w.engine.requestOptions())
}

func (w *Worker) start() {
	defer close(w.done)

	logging.Debug("%v worker[%v] start", w.engine.Name, w.idx)
	defer logging.Debug("%v worker[%v] stopped", w.engine.Name, w.idx)

	for {
		select {
		case f := <-w.chCall:
			w.safeCall(f)
		case ref := <-w.jobs.chAsync:
			w.jobs.resolve(ref)
		case <-w.jobs.chWake:
		case <-w.chStop:
			return
		}
		if w.jobs.pending() {
			w.safeCall(func() { w.jobs.Run() })
		}
	}
}

func (w *Worker) safeCall(f func()) {
	defer func() {
		if err := recover(); err != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			logging.Error("%v worker[%v] call failed: %v\n%s\n", w.engine.Name, w.idx, err, buf)
		}
	}()
	f()
}

func (w *Worker) stop() {
	w.mux.Lock()
	if w.stopped {
		w.mux.Unlock()
		return
	}
	w.stopped = true
	close(w.chStop)
	w.mux.Unlock()
	<-w.done
}
