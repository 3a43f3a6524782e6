// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

// Handler is supplied by whoever owns the request, usually the connection.
// The state machine calls it in order: request headers, response headers,
// response body; HandleResponseError replaces the rest once the request failed.
type Handler interface {
	HandleRequestHeaders(vr *VRequest) Result
	HandleResponseHeaders(vr *VRequest) Result
	HandleResponseBody(vr *VRequest) Result
	HandleResponseError(vr *VRequest) Result
}

// HandlerFuncs adapts functions to Handler; nil fields return GoOn, except
// OnRequestHeaders which defaults to running the action stack.
type HandlerFuncs struct {
	OnRequestHeaders  func(vr *VRequest) Result
	OnResponseHeaders func(vr *VRequest) Result
	OnResponseBody    func(vr *VRequest) Result
	OnResponseError   func(vr *VRequest) Result
}

// HandleRequestHeaders .
func (h *HandlerFuncs) HandleRequestHeaders(vr *VRequest) Result {
	if h.OnRequestHeaders == nil {
		return vr.HandleActions()
	}
	return h.OnRequestHeaders(vr)
}

// HandleResponseHeaders .
func (h *HandlerFuncs) HandleResponseHeaders(vr *VRequest) Result {
	if h.OnResponseHeaders == nil {
		return GoOn
	}
	return h.OnResponseHeaders(vr)
}

// HandleResponseBody .
func (h *HandlerFuncs) HandleResponseBody(vr *VRequest) Result {
	if h.OnResponseBody == nil {
		return GoOn
	}
	return h.OnResponseBody(vr)
}

// HandleResponseError .
func (h *HandlerFuncs) HandleResponseError(vr *VRequest) Result {
	if h.OnResponseError == nil {
		return GoOn
	}
	return h.OnResponseError(vr)
}

// ActionStack is the plugin/action execution pipeline deciding who handles a
// request. The state machine only asks it to run one more step.
type ActionStack interface {
	// Execute runs actions until one suspends, fails, or the stack is empty.
	Execute(vr *VRequest) Result
	// BackendFailed records a backend fault; the next Execute decides
	// whether to retry with another backend or fail.
	BackendFailed(vr *VRequest, err BackendError)
	// Reset drops all state for the next request.
	Reset(vr *VRequest)
}
