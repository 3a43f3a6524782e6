// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import "fmt"

// BackendError is the kind of fault a backend reports.
type BackendError int8

const (
	// BackendOverload: the backend refuses more work for now.
	BackendOverload BackendError = iota + 1
	// BackendDead: the backend is unreachable.
	BackendDead
)

// String .
func (e BackendError) String() string {
	switch e {
	case BackendOverload:
		return "overloaded"
	case BackendDead:
		return "dead"
	default:
		return fmt.Sprintf("backend_error(%d)", int8(e))
	}
}

// BackendOverloaded reports that the claiming backend is overloaded.
func (vr *VRequest) BackendOverloaded() {
	vr.BackendError(BackendOverload)
}

// BackendDead reports that the claiming backend is unreachable.
func (vr *VRequest) BackendDead() {
	vr.BackendError(BackendDead)
}

// BackendError hands a backend fault to the action stack, which may retry
// with another backend. Once the response head is underway, or without an
// action stack, the request fails instead.
func (vr *VRequest) BackendError(kind BackendError) {
	if vr.released {
		return
	}
	vr.conf.Metrics.BackendFault(kind.String())
	vr.log.Warn("backend %v: %v", vr.backend, kind)

	if vr.actions == nil || vr.state >= StateHandleResponseHeaders {
		vr.Error(fmt.Errorf("%w: %v", ErrBackendFailed, kind))
		return
	}

	vr.actions.BackendFailed(vr, kind)
	if vr.state == StateReadContent {
		vr.backend = nil
		vr.reclaim = true
	}
	vr.waitingForResponse = false
	vr.JoblistAppend()
}
