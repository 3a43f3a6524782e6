// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package httpconn connects an HTTP/1.x byte stream to VRequests. A Conn
// parses request heads, feeds request bodies into the request, serializes
// the response head and drains the response to a writer. Keep-alive
// connections reuse one VRequest through Reset.
//
// A Conn belongs to the worker owning its VRequest: call Feed and
// CloseRead from that worker only, e.g. through Worker.Call.
package httpconn

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/lesismal/vrequest"
)

// DefaultMaxHeaderSize .
const DefaultMaxHeaderSize = 16 * 1024

// ErrClosed is returned when feeding a closed Conn.
var ErrClosed = errors.New("httpconn: connection closed")

var headEnd = []byte("\r\n\r\n")

// Factory creates the VRequest of a connection; *vrequest.Worker is one.
type Factory interface {
	NewVRequest(h vrequest.Handler) *vrequest.VRequest
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(h vrequest.Handler) *vrequest.VRequest

// NewVRequest .
func (fn FactoryFunc) NewVRequest(h vrequest.Handler) *vrequest.VRequest {
	return fn(h)
}

type phase int8

const (
	phaseHead phase = iota
	phaseBody
	phaseWait
)

// Conn .
type Conn struct {
	MaxHeaderSize int

	// OnClose is called once when the connection is done, err is nil for
	// an orderly close.
	OnClose func(c *Conn, err error)

	vr  *vrequest.VRequest
	out io.Writer

	buf       []byte
	phase     phase
	remaining int64
	http11    bool
	keepAlive bool
	headSent  bool
	paused    bool
	eof       bool
	closed    bool
	requests  int

	head fasthttp.RequestHeader
	resp fasthttp.ResponseHeader
}

// New creates a Conn writing responses to out. actions is the action
// stack deciding who handles each request, nil answers everything 404.
func New(f Factory, out io.Writer, actions vrequest.ActionStack) *Conn {
	c := &Conn{
		MaxHeaderSize: DefaultMaxHeaderSize,
		out:           out,
	}
	c.vr = f.NewVRequest(c)
	c.vr.SetActions(actions)
	return c
}

// VRequest returns the request currently served.
func (c *Conn) VRequest() *vrequest.VRequest {
	return c.vr
}

// Requests returns the number of completed responses.
func (c *Conn) Requests() int {
	return c.requests
}

// Closed .
func (c *Conn) Closed() bool {
	return c.closed
}

// Paused reports whether reading is paused by the request's memory limit.
func (c *Conn) Paused() bool {
	return c.paused
}

// Feed hands bytes read from the peer to the connection.
func (c *Conn) Feed(data []byte) error {
	if c.closed {
		return ErrClosed
	}
	c.buf = append(c.buf, data...)
	c.process()
	return nil
}

// CloseRead tells the connection the peer will send nothing more.
func (c *Conn) CloseRead() {
	if c.closed || c.eof {
		return
	}
	c.eof = true
	switch c.phase {
	case phaseHead:
		if c.vr.State() == vrequest.StateClean {
			c.process()
		}
	case phaseBody:
		c.process()
		if c.phase == phaseBody {
			c.vr.InRaw().Close()
			c.vr.HandleRequestBody()
		}
	}
}

// Close releases the request and reports the end of the connection.
func (c *Conn) Close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.buf = nil
	c.vr.Close()
	if c.OnClose != nil {
		c.OnClose(c, err)
	}
}

func (c *Conn) process() {
	for !c.closed {
		switch c.phase {
		case phaseHead:
			if c.vr.State() != vrequest.StateClean {
				return
			}
			end := bytes.Index(c.buf, headEnd)
			if end < 0 {
				switch {
				case len(c.buf) > c.MaxHeaderSize:
					c.reject(http.StatusRequestHeaderFieldsTooLarge)
				case c.eof:
					c.Close(nil)
				}
				return
			}
			if err := c.parseHead(c.buf[:end+len(headEnd)]); err != nil {
				c.vr.Logger().Warn("bad request head: %v", err)
				c.reject(http.StatusBadRequest)
				return
			}
			c.buf = c.buf[end+len(headEnd):]
			c.phase = phaseBody
			c.vr.HandleRequestHeaders()
			if c.remaining == 0 {
				c.vr.InRaw().Close()
				c.phase = phaseWait
			}

		case phaseBody:
			if c.vr.MemoryLimitHit() {
				c.paused = true
				return
			}
			c.paused = false
			if len(c.buf) == 0 {
				return
			}
			n := int64(len(c.buf))
			if c.remaining >= 0 && n > c.remaining {
				n = c.remaining
			}
			c.vr.InRaw().AppendMem(c.buf[:n])
			c.buf = c.buf[n:]
			if c.remaining > 0 {
				c.remaining -= n
				if c.remaining == 0 {
					c.vr.InRaw().Close()
					c.phase = phaseWait
				}
			}
			c.vr.HandleRequestBody()

		case phaseWait:
			return
		}
	}
}

func (c *Conn) parseHead(b []byte) error {
	c.head.Reset()
	if err := c.head.Read(bufio.NewReader(bytes.NewReader(b))); err != nil {
		return err
	}

	r := &c.vr.Request
	r.Method = string(c.head.Method())
	r.RequestURI = string(c.head.RequestURI())
	r.Path, r.RawQuery = r.RequestURI, ""
	if i := strings.IndexByte(r.RequestURI, '?'); i >= 0 {
		r.Path, r.RawQuery = r.RequestURI[:i], r.RequestURI[i+1:]
	}
	r.Host = string(c.head.Host())
	c.http11 = c.head.IsHTTP11()
	if c.http11 {
		r.Proto, r.ProtoMajor, r.ProtoMinor = "HTTP/1.1", 1, 1
	} else {
		r.Proto, r.ProtoMajor, r.ProtoMinor = "HTTP/1.0", 1, 0
	}
	c.head.VisitAll(func(k, v []byte) {
		r.Header.Add(string(k), string(v))
	})

	c.keepAlive = !c.head.ConnectionClose() &&
		(c.http11 || strings.EqualFold(r.Header.Get("Connection"), "keep-alive"))

	switch cl := c.head.ContentLength(); {
	case cl == -1:
		// chunked: the body end is only known to the decoder, no pipelining
		c.remaining = -1
		c.keepAlive = false
		r.ContentLength = -1
		if _, err := c.vr.AddFilterIn(&chunkDecoder{}, nil); err != nil {
			return err
		}
	case cl < 0:
		c.remaining = 0
		r.ContentLength = 0
	default:
		c.remaining = int64(cl)
		r.ContentLength = int64(cl)
	}
	return nil
}

// reject answers a request the connection could not parse and closes.
func (c *Conn) reject(status int) {
	c.resp.Reset()
	c.resp.SetStatusCode(status)
	c.resp.SetContentLength(0)
	c.resp.SetConnectionClose()
	_, err := c.out.Write(c.resp.Header())
	c.Close(err)
}

func bodyless(method string, status int) bool {
	return method == http.MethodHead || status < 200 || status == http.StatusNoContent || status == http.StatusNotModified
}

// HandleRequestHeaders implements vrequest.Handler.
func (c *Conn) HandleRequestHeaders(vr *vrequest.VRequest) vrequest.Result {
	return vr.HandleActions()
}

// HandleResponseHeaders implements vrequest.Handler.
func (c *Conn) HandleResponseHeaders(vr *vrequest.VRequest) vrequest.Result {
	status := vr.Response.Status
	if status == 0 {
		status = http.StatusOK
		vr.Response.Status = status
	}

	rh := &c.resp
	rh.Reset()
	rh.SetStatusCode(status)
	cl := int64(-3)
	for k, vs := range vr.Response.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Length":
			if n, err := strconv.ParseInt(vs[0], 10, 64); err == nil && n >= 0 {
				cl = n
			}
			continue
		case "Connection", "Transfer-Encoding":
			continue
		}
		if len(vs) == 0 {
			continue
		}
		// Set knows the headers fasthttp keeps apart, e.g. Content-Type
		rh.Set(k, vs[0])
		for _, v := range vs[1:] {
			rh.Add(k, v)
		}
	}

	var err error
	switch {
	case bodyless(vr.Request.Method, status):
		_, err = vr.AddFilterOut(vrequest.FilterFunc(discardBody), nil)
		if cl < 0 {
			cl = 0
		}
	case cl >= 0:
	case vr.Direct() || vr.Out().IsClosed():
		cl = vr.Out().Length()
	case c.http11:
		cl = -1
		_, err = vr.AddFilterOut(vrequest.FilterFunc(chunkEncoder), nil)
	default:
		// HTTP/1.0 without length: the close delimits the body
		cl = -2
		c.keepAlive = false
	}
	if err != nil {
		return vrequest.Fail(err)
	}

	rh.SetContentLength(int(cl))
	if !c.keepAlive {
		rh.SetConnectionClose()
	}
	if err := vr.OutRaw().AppendMem(rh.Header()); err != nil {
		return vrequest.Fail(err)
	}
	c.headSent = true
	c.drain()
	return vrequest.GoOn
}

// HandleResponseBody implements vrequest.Handler.
func (c *Conn) HandleResponseBody(vr *vrequest.VRequest) vrequest.Result {
	c.drain()
	return vrequest.GoOn
}

// HandleResponseError implements vrequest.Handler. Before the response head
// went out the peer gets a 500; afterwards the connection is aborted.
func (c *Conn) HandleResponseError(vr *vrequest.VRequest) vrequest.Result {
	c.keepAlive = false
	if c.headSent || c.closed {
		c.Close(vr.Err())
		return vrequest.GoOn
	}
	rh := &c.resp
	rh.Reset()
	rh.SetStatusCode(http.StatusInternalServerError)
	rh.SetContentLength(0)
	rh.SetConnectionClose()
	vr.OutRaw().SkipAll()
	if err := vr.OutRaw().AppendMem(rh.Header()); err != nil {
		c.Close(err)
		return vrequest.GoOn
	}
	vr.OutRaw().Close()
	c.headSent = true
	c.drain()
	return vrequest.GoOn
}

// drain writes what the response produced so far and finishes the
// exchange once everything went out.
func (c *Conn) drain() {
	if c.closed {
		return
	}
	raw := c.vr.OutRaw()
	if _, err := raw.WriteTo(c.out); err != nil {
		c.Close(err)
		return
	}
	if c.headSent && raw.Finished() {
		c.finish()
		return
	}
	if c.paused && !c.vr.MemoryLimitHit() {
		c.process()
	}
}

func (c *Conn) finish() {
	c.requests++
	if !c.keepAlive || c.phase != phaseWait || c.vr.State() == vrequest.StateError {
		c.Close(nil)
		return
	}
	c.vr.Reset()
	c.headSent = false
	c.phase = phaseHead
	c.process()
}
