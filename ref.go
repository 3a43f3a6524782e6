// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"sync/atomic"
)

// Ref is a weak reference to a VRequest. It outlives the request: when the
// request is reset or closed the target is detached and every holder sees
// it as gone from then on. A reset request gets a fresh Ref on demand.
//
// Only the worker owning the request may use the resolved pointer. Other
// goroutines may only test Alive and hand the Ref back to the owner with
// Wakeup.
type Ref struct {
	refcount int32
	target   atomic.Pointer[VRequest]
	sched    Scheduler
}

func newRef(vr *VRequest) *Ref {
	r := &Ref{refcount: 1, sched: vr.sched}
	r.target.Store(vr)
	return r
}

// Alive reports whether the request is still attached. Safe from any goroutine.
func (r *Ref) Alive() bool {
	return r.target.Load() != nil
}

// Get returns the request, nil once it was reset or closed. Owning worker only.
func (r *Ref) Get() *VRequest {
	return r.target.Load()
}

// Refcount returns the number of outstanding holders.
func (r *Ref) Refcount() int32 {
	return atomic.LoadInt32(&r.refcount)
}

// Destroyed reports whether the last holder released the cell.
func (r *Ref) Destroyed() bool {
	return atomic.LoadInt32(&r.refcount) <= 0
}

// Release gives up one hold. It returns the request if still attached,
// nil otherwise; nil means the request is gone, not an error.
func (r *Ref) Release() *VRequest {
	vr := r.target.Load()
	if atomic.AddInt32(&r.refcount, -1) == 0 {
		r.target.Store(nil)
	}
	return vr
}

// Wakeup passes this hold to the owning worker, which releases it and
// re-enters the request if it is still attached. Safe from any goroutine.
func (r *Ref) Wakeup() {
	if r.sched == nil {
		r.Release()
		return
	}
	r.sched.AppendAsync(r)
}

func (r *Ref) acquire() *Ref {
	atomic.AddInt32(&r.refcount, 1)
	return r
}

func (r *Ref) detach() {
	r.target.Store(nil)
}
