// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package taskpool

import (
	"errors"
	"sync"
	"sync/atomic"
)

const (
	runningFlag = iota
	closedFlag
)

// ErrStopped is returned when a task is pushed to a stopped pool.
var ErrStopped = errors.New("taskpool stopped")

// TaskPool runs blocking work on at most maxConcurrent goroutines,
// extra tasks wait in a bounded queue.
type TaskPool struct {
	wg            sync.WaitGroup
	concurrent    int64
	maxConcurrent int64
	closed        int64
	chQueue       chan func()
	chClose       chan struct{}
}

// Go runs f asynchronously. It blocks while the queue is full.
func (tp *TaskPool) Go(f func()) error {
	if f == nil {
		return nil
	}
	if tp.isClosed() {
		return ErrStopped
	}

	if atomic.AddInt64(&tp.concurrent, 1) <= tp.maxConcurrent {
		tp.wg.Add(1)
		go func() {
			defer tp.wg.Done()
			defer atomic.AddInt64(&tp.concurrent, -1)
			call(f)
			for {
				select {
				case f = <-tp.chQueue:
					call(f)
				default:
					return
				}
			}
		}()
		return nil
	}

	atomic.AddInt64(&tp.concurrent, -1)
	select {
	case tp.chQueue <- f:
		return nil
	case <-tp.chClose:
		return ErrStopped
	}
}

// Concurrent returns the number of goroutines currently running tasks.
func (tp *TaskPool) Concurrent() int {
	return int(atomic.LoadInt64(&tp.concurrent))
}

func (tp *TaskPool) isClosed() bool {
	return atomic.LoadInt64(&tp.closed) == closedFlag
}

func (tp *TaskPool) setClosed() bool {
	return atomic.CompareAndSwapInt64(&tp.closed, runningFlag, closedFlag)
}

// Stop rejects new tasks, runs what is still queued and waits for running tasks.
func (tp *TaskPool) Stop() {
	if !tp.setClosed() {
		return
	}

	close(tp.chClose)
	tp.wg.Wait()
	for {
		select {
		case f := <-tp.chQueue:
			call(f)
		default:
			return
		}
	}
}

// New .
func New(maxConcurrent int, queueSize int) *TaskPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	tp := &TaskPool{
		maxConcurrent: int64(maxConcurrent),
		chQueue:       make(chan func(), queueSize),
		chClose:       make(chan struct{}),
	}
	tp.wg.Add(1)
	go func() {
		defer tp.wg.Done()
		for {
			select {
			case f := <-tp.chQueue:
				call(f)
			case <-tp.chClose:
				return
			}
		}
	}()
	return tp
}
