// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"sync"

	"github.com/lesismal/vrequest/metrics"
)

// DefaultAsyncQueueSize .
const DefaultAsyncQueueSize = 1024

// Scheduler re-enters suspended requests on their owning worker.
type Scheduler interface {
	// Append queues vr to run its state machine at the next opportunity.
	// Called on the owning worker only.
	Append(vr *VRequest)
	// AppendAsync takes over one hold on ref and wakes the owning worker,
	// which releases it and appends the request if still attached.
	// Safe from any goroutine.
	AppendAsync(ref *Ref)
}

// JobQueue is the deferred work queue of one worker: a FIFO of requests
// plus a channel for wake-ups coming from other goroutines.
type JobQueue struct {
	jobs    []*VRequest
	running []*VRequest

	chAsync chan *Ref
	chWake  chan struct{}

	// wake-ups that found chAsync full
	mux      sync.Mutex
	overflow []*Ref

	metrics *metrics.Collector
}

// NewJobQueue creates a JobQueue; asyncSize bounds pending async wake-ups.
func NewJobQueue(asyncSize int, m *metrics.Collector) *JobQueue {
	if asyncSize <= 0 {
		asyncSize = DefaultAsyncQueueSize
	}
	return &JobQueue{
		chAsync: make(chan *Ref, asyncSize),
		chWake:  make(chan struct{}, 1),
		metrics: m,
	}
}

// Append implements Scheduler. Appends before the request ran collapse
// into one entry.
func (q *JobQueue) Append(vr *VRequest) {
	if vr.queued > 0 {
		q.metrics.JobCollapsed()
		return
	}
	vr.queued++
	q.jobs = append(q.jobs, vr)
	select {
	case q.chWake <- struct{}{}:
	default:
	}
}

// AppendAsync implements Scheduler. It never blocks: the owning worker may
// wake its own requests, and only it drains chAsync.
func (q *JobQueue) AppendAsync(ref *Ref) {
	select {
	case q.chAsync <- ref:
		return
	default:
	}
	q.mux.Lock()
	q.overflow = append(q.overflow, ref)
	q.mux.Unlock()
	select {
	case q.chWake <- struct{}{}:
	default:
	}
}

// pending reports whether Run has anything to do.
func (q *JobQueue) pending() bool {
	if len(q.jobs) > 0 || len(q.chAsync) > 0 {
		return true
	}
	q.mux.Lock()
	n := len(q.overflow)
	q.mux.Unlock()
	return n > 0
}

// Len returns the number of queued requests.
func (q *JobQueue) Len() int {
	return len(q.jobs)
}

// Contains reports whether vr is queued.
func (q *JobQueue) Contains(vr *VRequest) bool {
	for _, j := range q.jobs {
		if j == vr {
			return true
		}
	}
	return false
}

// resolve releases a hold handed over by AppendAsync and queues the
// request if it is still attached. Owning worker only.
func (q *JobQueue) resolve(ref *Ref) {
	vr := ref.Release()
	q.metrics.AsyncWakeup(vr != nil)
	if vr != nil {
		q.Append(vr)
	}
}

// Run drains pending async wake-ups, then runs the state machine of every
// request queued at that point. Requests appended while running wait for
// the next Run. It returns the number of state machine runs.
func (q *JobQueue) Run() int {
	for {
		select {
		case ref := <-q.chAsync:
			q.resolve(ref)
			continue
		default:
		}
		break
	}
	q.mux.Lock()
	overflow := q.overflow
	q.overflow = nil
	q.mux.Unlock()
	for _, ref := range overflow {
		q.resolve(ref)
	}

	q.running, q.jobs = q.jobs, q.running[:0]
	n := 0
	for i, vr := range q.running {
		q.running[i] = nil
		vr.queued = 0
		q.metrics.JobRun()
		vr.StateMachine()
		n++
	}
	q.running = q.running[:0]
	return n
}
