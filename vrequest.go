// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package vrequest implements the lifecycle of one in-flight HTTP request:
// a state machine that moves a request from "headers received" to "response
// written" through input and output filter chains, a pluggable backend and a
// per-worker deferred job queue.
//
// Content flows
//
//	InRaw -> FiltersIn -> In -> backend -> Out -> FiltersOut -> OutRaw
//
// A VRequest belongs to exactly one worker goroutine. Other goroutines hold
// it only through a Ref and hand control back with Ref.Wakeup.
package vrequest

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/lesismal/vrequest/chunkqueue"
	"github.com/lesismal/vrequest/logging"
	"github.com/lesismal/vrequest/metrics"
	"github.com/lesismal/vrequest/statcache"
)

// Options configures a VRequest. Zero values disable the feature.
type Options struct {
	Plugins   *Plugins
	StatCache *statcache.Cache
	Actions   ActionStack

	// MemoryLimit is the in-memory buffering ceiling shared by all queues of
	// the request; <= 0 means unlimited.
	MemoryLimit int64

	DefaultOptions       map[string]interface{}
	DebugRequestHandling bool

	Metrics *metrics.Collector
	Logger  logging.Logger
}

// VRequest is one request exchange. It is reused across keep-alive requests
// of a connection through Reset.
type VRequest struct {
	id      string
	state   State
	handler Handler
	sched   Scheduler
	backend *Plugin

	// handled through HandleDirect: request content is discarded
	direct bool
	// backend claim dropped by a fault, the next backend may claim in ReadContent
	reclaim bool

	Request  Request
	Response Response
	Physical Physical
	Env      Environment
	options  map[string]interface{}

	filtersIn, filtersOut  Filters
	inRaw, in, out, outRaw *chunkqueue.Queue
	limit                  *chunkqueue.Limit
	memoryLimitHit         bool

	actions            ActionStack
	waitingForResponse bool

	// >0 while sitting in the job queue
	queued  int
	running bool

	ref         *Ref
	pluginCtx   []interface{}
	statEntries []*statcache.Entry

	err          error
	errorHandled bool
	released     bool

	conf Options
	log  *logging.Prefixed
}

// New creates a request in StateClean, scheduled on sched and driven by h.
func New(sched Scheduler, h Handler, opts Options) *VRequest {
	vr := &VRequest{
		handler: h,
		sched:   sched,
		actions: opts.Actions,
		conf:    opts,
		inRaw:   chunkqueue.New(),
		in:      chunkqueue.New(),
		out:     chunkqueue.New(),
		outRaw:  chunkqueue.New(),
	}
	vr.Request.reset()
	vr.Response.reset()
	vr.limit = chunkqueue.NewLimit(opts.MemoryLimit, vr.onMemoryLimit)
	vr.useLimit()
	vr.filtersIn = newFilters(vr.inRaw, vr.in)
	vr.filtersOut = newFilters(vr.out, vr.outRaw)
	vr.resetOptions()
	vr.newID()
	return vr
}

func (vr *VRequest) newID() {
	vr.id = uuid.NewString()
	vr.log = &logging.Prefixed{Logger: vr.conf.Logger, Prefix: "[vr " + vr.id[:8] + "] "}
}

func (vr *VRequest) useLimit() {
	vr.inRaw.UseLimit(vr.limit)
	vr.in.UseLimit(vr.limit)
	vr.out.UseLimit(vr.limit)
	vr.outRaw.UseLimit(vr.limit)
}

func (vr *VRequest) resetOptions() {
	vr.options = make(map[string]interface{}, len(vr.conf.DefaultOptions))
	for k, v := range vr.conf.DefaultOptions {
		vr.options[k] = v
	}
}

// ID identifies the current exchange; it changes on Reset.
func (vr *VRequest) ID() string {
	return vr.id
}

// State .
func (vr *VRequest) State() State {
	return vr.state
}

// Backend returns the plugin that claimed the request, nil if none.
func (vr *VRequest) Backend() *Plugin {
	return vr.backend
}

// Direct reports whether the request was claimed by HandleDirect; its
// body is complete in Out once the response headers are handled.
func (vr *VRequest) Direct() bool {
	return vr.direct
}

// Err returns the cause recorded when the request entered StateError.
func (vr *VRequest) Err() error {
	return vr.err
}

// Logger returns the request's logger.
func (vr *VRequest) Logger() logging.Logger {
	return vr.log
}

// InRaw is the unfiltered request content appended by the connection.
func (vr *VRequest) InRaw() *chunkqueue.Queue { return vr.inRaw }

// In is the filtered request content read by the backend.
func (vr *VRequest) In() *chunkqueue.Queue { return vr.in }

// Out is the response content written by the backend.
func (vr *VRequest) Out() *chunkqueue.Queue { return vr.out }

// OutRaw is the filtered response content drained by the connection.
func (vr *VRequest) OutRaw() *chunkqueue.Queue { return vr.outRaw }

// FiltersIn .
func (vr *VRequest) FiltersIn() *Filters { return &vr.filtersIn }

// FiltersOut .
func (vr *VRequest) FiltersOut() *Filters { return &vr.filtersOut }

// MemoryLimitHit reports whether the request's queues hold more memory than
// allowed; the connection should stop reading until it clears.
func (vr *VRequest) MemoryLimitHit() bool {
	return vr.memoryLimitHit
}

// Limit returns the memory limit shared by the request's queues, so a
// backend can attach its own buffers to it.
func (vr *VRequest) Limit() *chunkqueue.Limit {
	return vr.limit
}

func (vr *VRequest) onMemoryLimit(locked bool) {
	vr.memoryLimitHit = locked
	if locked {
		vr.conf.Metrics.MemoryLimitHit()
		vr.debug("memory limit hit: %d bytes buffered", vr.limit.Current())
	}
}

// Actions returns the action stack, nil if none.
func (vr *VRequest) Actions() ActionStack {
	return vr.actions
}

// SetActions replaces the action stack.
func (vr *VRequest) SetActions(a ActionStack) {
	vr.actions = a
}

// Option returns a per-request option.
func (vr *VRequest) Option(name string) (interface{}, bool) {
	v, ok := vr.options[name]
	return v, ok
}

// SetOption sets a per-request option until the next Reset.
func (vr *VRequest) SetOption(name string, value interface{}) {
	vr.options[name] = value
}

// PluginContext returns what p stored in this request.
func (vr *VRequest) PluginContext(p *Plugin) interface{} {
	if p == nil || p.ID >= len(vr.pluginCtx) {
		return nil
	}
	return vr.pluginCtx[p.ID]
}

// SetPluginContext stores private state for p until the next Reset.
func (vr *VRequest) SetPluginContext(p *Plugin, ctx interface{}) {
	for len(vr.pluginCtx) <= p.ID {
		vr.pluginCtx = append(vr.pluginCtx, nil)
	}
	vr.pluginCtx[p.ID] = ctx
}

// Queued reports whether the request waits in the job queue.
func (vr *VRequest) Queued() bool {
	return vr.queued > 0
}

// IsHandled reports whether a backend or a direct handler took the request.
func (vr *VRequest) IsHandled() bool {
	return vr.state >= StateReadContent
}

func (vr *VRequest) debug(format string, v ...interface{}) {
	if vr.conf.DebugRequestHandling {
		vr.log.Debug(format, v...)
	}
}

func (vr *VRequest) setState(s State) {
	if s == vr.state {
		return
	}
	vr.debug("%v -> %v", vr.state, s)
	vr.conf.Metrics.Transition(vr.state.String(), s.String())
	vr.state = s
}

// JoblistAppend schedules the state machine on the owning worker.
func (vr *VRequest) JoblistAppend() {
	if vr.released {
		return
	}
	vr.sched.Append(vr)
}

// JoblistAppendAsync schedules the state machine through the async path;
// the owning worker resolves a weak reference before running it.
func (vr *VRequest) JoblistAppendAsync() {
	if vr.released {
		return
	}
	vr.AcquireRef().Wakeup()
}

// AcquireRef returns a new hold on the request's weak reference, creating
// the reference on first use. Owning worker only.
func (vr *VRequest) AcquireRef() *Ref {
	if vr.ref == nil {
		vr.ref = newRef(vr)
	}
	return vr.ref.acquire()
}

// HandleRequestHeaders is called by the connection once the request head
// is complete.
func (vr *VRequest) HandleRequestHeaders() {
	if vr.state == StateClean {
		vr.setState(StateHandleRequestHeaders)
	}
	vr.JoblistAppend()
}

// HandleRequestBody is called by the connection when request content was
// appended to InRaw or InRaw was closed.
func (vr *VRequest) HandleRequestBody() {
	if vr.state >= StateReadContent && vr.state != StateError {
		vr.JoblistAppend()
	}
}

// HandleResponseHeaders is called by an indirect backend once the response
// status and headers are set.
func (vr *VRequest) HandleResponseHeaders() {
	switch vr.state {
	case StateHandleRequestHeaders:
		vr.log.Error("%v", ErrNoBackend)
		vr.Error(ErrNoBackend)
	case StateReadContent:
		vr.setState(StateHandleResponseHeaders)
		vr.JoblistAppend()
	}
}

// HandleResponseBody is called by a backend after appending to Out.
func (vr *VRequest) HandleResponseBody() {
	if vr.state == StateWriteContent {
		vr.JoblistAppend()
	}
}

// HandleDirect claims the request for a handler producing the whole
// response now; request content is discarded. The body must be in Out
// before the response headers are handled, Out is closed then. Only valid
// in StateHandleRequestHeaders.
func (vr *VRequest) HandleDirect() bool {
	if vr.state != StateHandleRequestHeaders {
		return false
	}
	vr.direct = true
	vr.backend = nil
	vr.setState(StateHandleResponseHeaders)
	return true
}

// HandleIndirect claims the request for backend p which reads the request
// content and produces the response over time. Valid in
// StateHandleRequestHeaders, or in StateReadContent after a backend fault
// dropped the previous claim.
func (vr *VRequest) HandleIndirect(p *Plugin) bool {
	switch {
	case vr.state == StateHandleRequestHeaders:
		vr.setState(StateReadContent)
	case vr.state == StateReadContent && vr.backend == nil && vr.reclaim:
		vr.reclaim = false
	default:
		return false
	}
	vr.backend = p
	return true
}

// WaitForResponseHeaders is for actions that need the response head. It
// fails when nothing claimed the request, and suspends until
// StateHandleResponseHeaders otherwise.
func (vr *VRequest) WaitForResponseHeaders() Result {
	switch {
	case vr.state == StateHandleRequestHeaders:
		vr.log.Error("%v - fix your config", ErrNoBackend)
		return Fail(ErrNoBackend)
	case vr.state < StateHandleResponseHeaders:
		return WaitForEvent
	default:
		return GoOn
	}
}

// Error marks the request failed. The error handler runs in the next
// state machine step, never inline. Calling it again is a no-op apart from
// rescheduling.
func (vr *VRequest) Error(err error) {
	if vr.released {
		return
	}
	if vr.state != StateError {
		if err == nil {
			err = ErrHandler
		}
		vr.err = err
		vr.log.Error("request failed in %v: %v", vr.state, err)
		vr.conf.Metrics.Error()
		vr.setState(StateError)
	}
	vr.JoblistAppend()
}

// HandleActions runs the action stack. A request nothing claimed is
// answered directly: 200 with Allow for OPTIONS, 404 otherwise.
func (vr *VRequest) HandleActions() Result {
	res := GoOn
	if vr.actions != nil {
		res = vr.actions.Execute(vr)
	}
	switch res.Code {
	case CodeGoOn:
		if vr.state == StateHandleRequestHeaders {
			vr.HandleDirect()
			if vr.Request.Method == http.MethodOptions {
				vr.Response.Status = http.StatusOK
				vr.Response.Header.Set("Allow", strings.Join([]string{
					http.MethodOptions, http.MethodGet, http.MethodHead, http.MethodPost,
				}, ", "))
			} else {
				vr.Response.Status = http.StatusNotFound
			}
		}
		vr.waitingForResponse = false
	case CodeWaitForEvent:
		if vr.state >= StateReadContent && vr.state < StateHandleResponseHeaders {
			vr.waitingForResponse = true
		}
	case CodeError:
	}
	return res
}

// Redirect answers the request directly with a 301 to uri.
func (vr *VRequest) Redirect(uri string) bool {
	if !vr.HandleDirect() {
		return false
	}
	vr.Response.Status = http.StatusMovedPermanently
	vr.Response.Header.Set("Location", uri)
	return true
}

// Stat fills Physical's stat result for Physical.Path through the stat
// cache. It returns WaitForEvent while the stat runs; the request is
// re-entered when it finishes.
func (vr *VRequest) Stat() Result {
	p := &vr.Physical
	if p.haveStat || p.statErr != nil {
		return GoOn
	}
	if vr.conf.StatCache == nil {
		p.info, p.statErr = os.Stat(p.Path)
		p.haveStat = p.statErr == nil
		return GoOn
	}
	e, res := vr.StatCacheGet(p.Path)
	if res.Code != CodeGoOn {
		return res
	}
	p.info, p.statErr = e.Info()
	p.haveStat = p.statErr == nil
	return GoOn
}

// StatCacheGet looks path up in the stat cache. The entry stays owned by the
// request until Reset. WaitForEvent means the request will be woken.
func (vr *VRequest) StatCacheGet(path string) (*statcache.Entry, Result) {
	sc := vr.conf.StatCache
	if sc == nil {
		return nil, Fail(fmt.Errorf("stat %s: no stat cache", path))
	}
	ref := vr.AcquireRef()
	e, ready := sc.Get(path, ref.Wakeup)
	vr.statEntries = append(vr.statEntries, e)
	if ready {
		ref.Release()
		return e, GoOn
	}
	return e, WaitForEvent
}

// AddFilterIn appends a request content filter. It fails once filtered
// request content was emitted.
func (vr *VRequest) AddFilterIn(h FilterHandler, param interface{}) (*Filter, error) {
	if vr.released {
		return nil, ErrReleased
	}
	if vr.state >= StateHandleResponseHeaders || vr.in.BytesIn() > 0 {
		return nil, ErrFilterTooLate
	}
	return vr.filtersIn.add(h, param), nil
}

// AddFilterOut appends a response content filter. It fails once filtered
// response content was emitted.
func (vr *VRequest) AddFilterOut(h FilterHandler, param interface{}) (*Filter, error) {
	if vr.released {
		return nil, ErrReleased
	}
	if vr.state > StateHandleResponseHeaders || vr.outRaw.BytesIn() > 0 {
		return nil, ErrFilterTooLate
	}
	return vr.filtersOut.add(h, param), nil
}

// StateMachine advances the request as far as it can without waiting. The
// job queue calls it; everything else schedules it.
func (vr *VRequest) StateMachine() {
	if vr.released {
		return
	}
	if vr.running {
		vr.JoblistAppend()
		return
	}
	vr.running = true
	defer func() { vr.running = false }()

	for done := false; !done; {
		entry := vr.state
		switch vr.state {
		case StateClean:
			done = true

		case StateHandleRequestHeaders:
			vr.debug("handle request headers")
			res := vr.handler.HandleRequestHeaders(vr)
			switch res.Code {
			case CodeGoOn:
				if vr.state == StateHandleRequestHeaders {
					vr.setState(StateReadContent)
				}
			case CodeWaitForEvent:
				done = vr.state == StateHandleRequestHeaders
			case CodeError:
				vr.Error(res.Err)
				done = true
			}

		case StateReadContent:
			done = !vr.handleRead() || vr.state == StateReadContent

		case StateHandleResponseHeaders:
			if vr.waitingForResponse {
				vr.waitingForResponse = false
				if vr.actions != nil {
					res := vr.actions.Execute(vr)
					switch res.Code {
					case CodeGoOn:
					case CodeWaitForEvent:
						vr.waitingForResponse = true
						done = true
						continue
					case CodeError:
						vr.Error(res.Err)
						done = true
						continue
					}
				}
			}
			vr.debug("handle response headers")
			res := vr.handler.HandleResponseHeaders(vr)
			switch res.Code {
			case CodeGoOn:
				if vr.direct {
					vr.out.Close()
				}
				vr.setState(StateWriteContent)
			case CodeWaitForEvent:
				done = true
			case CodeError:
				vr.Error(res.Err)
				done = true
			}

		case StateWriteContent:
			// a backend waiting for request content still streams its response
			vr.handleRead()
			if vr.state != StateWriteContent || vr.released {
				done = true
				break
			}
			if !vr.handleWrite() {
				done = true
				break
			}
			res := vr.handler.HandleResponseBody(vr)
			switch res.Code {
			case CodeGoOn, CodeWaitForEvent:
			case CodeError:
				vr.Error(res.Err)
			}
			done = true

		case StateError:
			if !vr.errorHandled {
				vr.errorHandled = true
				res := vr.handler.HandleResponseError(vr)
				if res.Code == CodeError {
					vr.log.Error("error handler failed: %v", res.Err)
				}
			}
			done = true

		default:
			done = true
		}

		// the error handler runs from the next job, never inline
		if entry != StateError && vr.state == StateError {
			done = true
		}
	}
}

// handleRead moves request content through the input filters to the
// backend; false stops the state machine.
func (vr *VRequest) handleRead() bool {
	if vr.direct {
		vr.inRaw.SkipAll()
		return true
	}
	if err := vr.filtersIn.run(vr); err != nil {
		vr.conf.Metrics.FilterError("in")
		vr.Error(err)
		return false
	}

	if vr.backend == nil && vr.reclaim && vr.actions != nil {
		res := vr.HandleActions()
		if res.Code == CodeError {
			vr.Error(res.Err)
			return false
		}
		if vr.backend == nil {
			if res.Code == CodeWaitForEvent {
				return false
			}
			vr.Error(ErrBackendFailed)
			return false
		}
	}

	if vr.backend == nil {
		return true
	}
	h := vr.backend.Handler
	if h == nil {
		vr.in.SkipAll()
		return true
	}
	res := h.HandleRequestBody(vr, vr.backend)
	switch res.Code {
	case CodeGoOn:
		return true
	case CodeWaitForEvent:
		return false
	default:
		vr.Error(res.Err)
		return false
	}
}

func (vr *VRequest) handleWrite() bool {
	if err := vr.filtersOut.run(vr); err != nil {
		vr.conf.Metrics.FilterError("out")
		vr.Error(err)
		return false
	}
	return true
}

// Reset returns the request to StateClean for the next exchange on the same
// connection. Weak references held elsewhere see the request as gone.
func (vr *VRequest) Reset() {
	if vr.actions != nil {
		vr.actions.Reset(vr)
	}
	for id, ctx := range vr.pluginCtx {
		if ctx == nil {
			continue
		}
		if p := vr.conf.Plugins.at(id); p != nil && p.Handler != nil {
			p.Handler.HandleVRClose(vr, p)
		}
		vr.pluginCtx[id] = nil
	}

	vr.state = StateClean
	vr.backend = nil
	vr.direct = false
	vr.reclaim = false
	vr.waitingForResponse = false
	vr.err = nil
	vr.errorHandled = false

	vr.filtersIn.free(vr)
	vr.filtersOut.free(vr)
	vr.inRaw.Reset()
	vr.in.Reset()
	vr.out.Reset()
	vr.outRaw.Reset()
	vr.useLimit()
	vr.memoryLimitHit = false

	vr.Request.reset()
	vr.Response.reset()
	vr.Physical.reset()
	vr.Env.reset()
	vr.resetOptions()

	if vr.ref != nil {
		vr.ref.detach()
		vr.ref.Release()
		vr.ref = nil
	}

	if sc := vr.conf.StatCache; sc != nil {
		for _, e := range vr.statEntries {
			sc.Release(e)
		}
	}
	vr.statEntries = vr.statEntries[:0]

	vr.conf.Metrics.Reset()
	vr.newID()
}

// Close resets the request and makes it unusable; used when the connection
// goes away. A queued run becomes a no-op.
func (vr *VRequest) Close() {
	if vr.released {
		return
	}
	vr.Reset()
	vr.released = true
}
