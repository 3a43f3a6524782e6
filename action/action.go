// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package action

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/lesismal/vrequest"
)

// Func adapts a function to Action. It runs again after WaitForEvent.
type Func func(vr *vrequest.VRequest) vrequest.Result

// Execute implements Action.
func (fn Func) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	return fn(vr)
}

// List runs actions in order.
type List []Action

// Execute implements Action.
func (l List) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if f.Pos >= len(l) {
		return vrequest.GoOn
	}
	f.Pos++
	f.Enter(l[f.Pos-1])
	return vrequest.GoOn
}

// Cond runs Then when Check holds, Else otherwise. Either may be nil.
type Cond struct {
	Check      func(vr *vrequest.VRequest) bool
	Then, Else Action
}

// Execute implements Action.
func (c *Cond) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if f.Pos > 0 {
		return vrequest.GoOn
	}
	f.Pos = 1
	next := c.Else
	if c.Check(vr) {
		next = c.Then
	}
	if next != nil {
		f.Enter(next)
	}
	return vrequest.GoOn
}

// Setting sets a request option.
type Setting struct {
	Name  string
	Value interface{}
}

// Execute implements Action.
func (s Setting) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	vr.SetOption(s.Name, s.Value)
	return vrequest.GoOn
}

// DocRoot maps the request path below Dir and fills vr.Physical.
type DocRoot string

// Execute implements Action.
func (d DocRoot) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	rel := path.Clean("/" + vr.Request.Path)
	if strings.HasSuffix(vr.Request.Path, "/") && rel != "/" {
		rel += "/"
	}
	vr.Physical.DocRoot = string(d)
	vr.Physical.RelPath = rel
	vr.Physical.Path = filepath.Join(string(d), filepath.FromSlash(rel))
	if strings.HasSuffix(rel, "/") {
		vr.Physical.Path += string(filepath.Separator)
	}
	return vrequest.GoOn
}

// Header adds a response header once the response head exists.
type Header struct {
	Name, Value string
}

// Execute implements Action.
func (h Header) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if res := vr.WaitForResponseHeaders(); res.Code != vrequest.CodeGoOn {
		return res
	}
	vr.Response.Header.Add(h.Name, h.Value)
	return vrequest.GoOn
}

// Redirect answers with a 301 to the URL, unless something else handled
// the request already.
type Redirect string

// Execute implements Action.
func (r Redirect) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if vr.State() == vrequest.StateHandleRequestHeaders {
		vr.Redirect(string(r))
	}
	return vrequest.GoOn
}

// Status answers directly with code and an empty body.
type Status int

// Execute implements Action.
func (s Status) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if !vr.HandleDirect() {
		return vrequest.GoOn
	}
	vr.Response.Status = int(s)
	vr.Response.Header.Set("Content-Length", "0")
	if vr.Request.Method != http.MethodHead {
		vr.Response.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	return vrequest.GoOn
}
