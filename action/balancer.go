// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package action

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/lesismal/vrequest"
)

// ErrNoBackendLeft is the cause recorded when every backend of a Balancer failed.
var ErrNoBackendLeft = errors.New("all backends failed")

// Balancer hands the request to one of its backends, round robin. When
// the chosen backend reports a fault the next one is tried, each backend at
// most once per request.
type Balancer struct {
	Backends []Action

	next uint32
	// OnFault is called for every backend fault, mostly for logging.
	OnFault func(vr *vrequest.VRequest, backend int, kind vrequest.BackendError)
}

type balancerState struct {
	start   int
	tried   int
	current int
	active  bool
}

// NewBalancer .
func NewBalancer(backends ...Action) *Balancer {
	return &Balancer{Backends: backends}
}

// Execute implements Action.
func (b *Balancer) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if len(b.Backends) == 0 {
		return vrequest.Fail(ErrNoBackendLeft)
	}
	st, ok := f.Data.(*balancerState)
	if !ok {
		st = &balancerState{start: int(atomic.AddUint32(&b.next, 1)-1) % len(b.Backends)}
		f.Data = st
	}
	if st.active {
		// the backend is done with the request headers
		return vrequest.GoOn
	}
	if st.tried >= len(b.Backends) {
		return vrequest.Fail(fmt.Errorf("%w: tried %d", ErrNoBackendLeft, st.tried))
	}
	st.current = (st.start + st.tried) % len(b.Backends)
	st.tried++
	st.active = true
	f.stack.registerFallback(f)
	f.Enter(b.Backends[st.current])
	return vrequest.GoOn
}

func (b *Balancer) fallback(vr *vrequest.VRequest, f *Frame, kind vrequest.BackendError) {
	st := f.Data.(*balancerState)
	st.active = false
	if b.OnFault != nil {
		b.OnFault(vr, st.current, kind)
	}
}
