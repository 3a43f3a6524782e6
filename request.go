// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"net/http"
	"os"
	"sort"
)

// Request is the parsed request head, filled in by the connection.
type Request struct {
	Method     string
	RequestURI string
	Path       string
	RawQuery   string
	Host       string
	Proto      string
	ProtoMajor int
	ProtoMinor int

	Header http.Header

	// ContentLength is -1 when unknown.
	ContentLength int64

	RemoteAddr string
}

func (r *Request) reset() {
	*r = Request{Header: r.Header, ContentLength: -1}
	for k := range r.Header {
		delete(r.Header, k)
	}
	if r.Header == nil {
		r.Header = http.Header{}
	}
}

// Response is the response head a backend produces.
type Response struct {
	// Status is 0 until someone sets it.
	Status int
	Header http.Header
}

func (r *Response) reset() {
	r.Status = 0
	if r.Header == nil {
		r.Header = http.Header{}
	}
	for k := range r.Header {
		delete(r.Header, k)
	}
}

// Physical maps the request onto the filesystem.
type Physical struct {
	DocRoot string
	Path    string
	RelPath string

	haveStat bool
	info     os.FileInfo
	statErr  error
}

// Info returns the result of the last Stat.
func (p *Physical) Info() (os.FileInfo, error) {
	return p.info, p.statErr
}

func (p *Physical) reset() {
	*p = Physical{}
}

// Environment holds key/value pairs passed to backends.
type Environment struct {
	m map[string]string
}

// Set .
func (e *Environment) Set(key, value string) {
	if e.m == nil {
		e.m = map[string]string{}
	}
	e.m[key] = value
}

// Get .
func (e *Environment) Get(key string) (string, bool) {
	v, ok := e.m[key]
	return v, ok
}

// Remove .
func (e *Environment) Remove(key string) {
	delete(e.m, key)
}

// Len .
func (e *Environment) Len() int {
	return len(e.m)
}

// Keys returns the keys in sorted order.
func (e *Environment) Keys() []string {
	keys := make([]string, 0, len(e.m))
	for k := range e.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Environment) reset() {
	for k := range e.m {
		delete(e.m, k)
	}
}
