// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package action

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/lesismal/vrequest"
)

// RouteParamPrefix prefixes route parameters stored in the request environment.
const RouteParamPrefix = "route."

// Router picks an action by method and path. Named parameters of the
// matched route are stored in vr.Env as RouteParamPrefix + name.
type Router struct {
	router *httprouter.Router

	// NotFound runs when nothing matches, nil falls through.
	NotFound Action
	// RedirectTrailingSlash answers a path that only differs in its trailing
	// slash from a route with a redirect.
	RedirectTrailingSlash bool
}

// routeMatch receives the httprouter callback for a looked up route.
type routeMatch struct {
	http.ResponseWriter
	action Action
}

// NewRouter .
func NewRouter() *Router {
	return &Router{
		router:                httprouter.New(),
		RedirectTrailingSlash: true,
	}
}

// Handle registers a for method and path, httprouter syntax.
func (r *Router) Handle(method, path string, a Action) {
	r.router.Handle(method, path, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		if m, ok := w.(*routeMatch); ok {
			m.action = a
		}
	})
}

// GET .
func (r *Router) GET(path string, a Action) {
	r.Handle(http.MethodGet, path, a)
	r.Handle(http.MethodHead, path, a)
}

// POST .
func (r *Router) POST(path string, a Action) {
	r.Handle(http.MethodPost, path, a)
}

// Execute implements Action.
func (r *Router) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	if f.Pos > 0 {
		return vrequest.GoOn
	}
	f.Pos = 1

	handle, params, tsr := r.router.Lookup(vr.Request.Method, vr.Request.Path)
	if handle == nil {
		if tsr && r.RedirectTrailingSlash && vr.Request.Method != http.MethodConnect {
			p := vr.Request.Path
			if strings.HasSuffix(p, "/") {
				p = p[:len(p)-1]
			} else {
				p += "/"
			}
			if vr.Request.RawQuery != "" {
				p += "?" + vr.Request.RawQuery
			}
			vr.Redirect(p)
			return vrequest.GoOn
		}
		if r.NotFound != nil {
			f.Enter(r.NotFound)
		}
		return vrequest.GoOn
	}

	m := &routeMatch{}
	handle(m, nil, params)
	for _, p := range params {
		vr.Env.Set(RouteParamPrefix+p.Key, p.Value)
	}
	if m.action != nil {
		f.Enter(m.action)
	}
	return vrequest.GoOn
}
