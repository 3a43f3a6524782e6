// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"fmt"
	"sync"
)

// PluginHandler is implemented by modules that claim requests or keep
// per-request state. Both methods run on the worker owning the request.
type PluginHandler interface {
	// HandleRequestBody is called while the plugin is the request's backend
	// and request content may have arrived in vr.In().
	HandleRequestBody(vr *VRequest, p *Plugin) Result

	// HandleVRClose is called on reset for every plugin that stored a
	// context in the request.
	HandleVRClose(vr *VRequest, p *Plugin)
}

// Plugin identifies a module. ID indexes the per-request context slots.
type Plugin struct {
	ID      int
	Name    string
	Handler PluginHandler
}

// String .
func (p *Plugin) String() string {
	if p == nil {
		return "<nil>"
	}
	return p.Name
}

// Plugins is a registry assigning ids. Register during setup, before
// requests are created.
type Plugins struct {
	mux    sync.Mutex
	list   []*Plugin
	byName map[string]*Plugin
}

// NewPlugins .
func NewPlugins() *Plugins {
	return &Plugins{byName: map[string]*Plugin{}}
}

// Register adds a plugin; names must be unique.
func (ps *Plugins) Register(name string, h PluginHandler) (*Plugin, error) {
	ps.mux.Lock()
	defer ps.mux.Unlock()
	if _, ok := ps.byName[name]; ok {
		return nil, fmt.Errorf("plugin %q already registered", name)
	}
	p := &Plugin{ID: len(ps.list), Name: name, Handler: h}
	ps.list = append(ps.list, p)
	ps.byName[name] = p
	return p, nil
}

// Get looks a plugin up by name.
func (ps *Plugins) Get(name string) *Plugin {
	ps.mux.Lock()
	defer ps.mux.Unlock()
	return ps.byName[name]
}

// Len .
func (ps *Plugins) Len() int {
	if ps == nil {
		return 0
	}
	ps.mux.Lock()
	defer ps.mux.Unlock()
	return len(ps.list)
}

func (ps *Plugins) at(id int) *Plugin {
	if ps == nil {
		return nil
	}
	ps.mux.Lock()
	defer ps.mux.Unlock()
	if id < 0 || id >= len(ps.list) {
		return nil
	}
	return ps.list[id]
}
