// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package backends

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/lesismal/vrequest"
	"github.com/lesismal/vrequest/action"
)

// EchoName is the plugin name Echo registers under.
const EchoName = "echo"

// Echo claims the request and streams its body back as the response body
// while it arrives. With MaxActive set it reports itself overloaded beyond
// that many concurrent requests.
type Echo struct {
	MaxActive int32

	plugin *vrequest.Plugin
	active int32
}

type echoState struct {
	replied bool
}

// NewEcho registers an Echo backend.
func NewEcho(plugins *vrequest.Plugins, name string) (*Echo, error) {
	if name == "" {
		name = EchoName
	}
	e := &Echo{}
	p, err := plugins.Register(name, e)
	if err != nil {
		return nil, err
	}
	e.plugin = p
	return e, nil
}

// Plugin returns the registered plugin.
func (e *Echo) Plugin() *vrequest.Plugin {
	return e.plugin
}

// Active returns the number of requests currently claimed.
func (e *Echo) Active() int32 {
	return atomic.LoadInt32(&e.active)
}

// Execute implements action.Action.
func (e *Echo) Execute(vr *vrequest.VRequest, f *action.Frame) vrequest.Result {
	vr.HandleIndirect(e.plugin)
	return vrequest.GoOn
}

// HandleRequestBody implements vrequest.PluginHandler.
func (e *Echo) HandleRequestBody(vr *vrequest.VRequest, p *vrequest.Plugin) vrequest.Result {
	st, _ := vr.PluginContext(p).(*echoState)
	if st == nil {
		if e.MaxActive > 0 && atomic.LoadInt32(&e.active) >= e.MaxActive {
			vr.BackendOverloaded()
			return vrequest.WaitForEvent
		}
		atomic.AddInt32(&e.active, 1)
		st = &echoState{}
		vr.SetPluginContext(p, st)
	}

	if !st.replied {
		st.replied = true
		vr.Response.Status = http.StatusOK
		ctype := vr.Request.Header.Get("Content-Type")
		if ctype == "" {
			ctype = "application/octet-stream"
		}
		vr.Response.Header.Set("Content-Type", ctype)
		if vr.Request.ContentLength >= 0 {
			vr.Response.Header.Set("Content-Length", strconv.FormatInt(vr.Request.ContentLength, 10))
		}
		vr.HandleResponseHeaders()
	}

	vr.Out().StealAll(vr.In())
	if vr.In().IsClosed() && !vr.Out().IsClosed() {
		vr.Out().Close()
	}
	return vrequest.GoOn
}

// HandleVRClose implements vrequest.PluginHandler.
func (e *Echo) HandleVRClose(vr *vrequest.VRequest, p *vrequest.Plugin) {
	if _, ok := vr.PluginContext(p).(*echoState); ok {
		atomic.AddInt32(&e.active, -1)
	}
}
