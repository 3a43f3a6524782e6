// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package backends provides request handlers for both handling modes: Static
// answers directly from the filesystem, Echo claims the request and streams
// its body back.
package backends

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lesismal/vrequest"
	"github.com/lesismal/vrequest/action"
	"github.com/lesismal/vrequest/chunkqueue"
)

// Static serves the file at vr.Physical.Path. Missing files fall through
// to the next action.
type Static struct {
	// DisableETag turns off ETag and If-None-Match handling.
	DisableETag bool
}

// Execute implements action.Action.
func (s *Static) Execute(vr *vrequest.VRequest, f *action.Frame) vrequest.Result {
	if vr.State() != vrequest.StateHandleRequestHeaders || vr.Physical.Path == "" {
		return vrequest.GoOn
	}

	switch vr.Request.Method {
	case http.MethodGet, http.MethodHead:
	default:
		vr.HandleDirect()
		vr.Response.Status = http.StatusMethodNotAllowed
		vr.Response.Header.Set("Allow", "GET, HEAD")
		vr.Response.Header.Set("Content-Length", "0")
		return vrequest.GoOn
	}

	if res := vr.Stat(); res.Code != vrequest.CodeGoOn {
		return res
	}
	info, err := vr.Physical.Info()
	switch {
	case errors.Is(err, os.ErrNotExist):
		return vrequest.GoOn
	case errors.Is(err, os.ErrPermission):
		return s.status(vr, http.StatusForbidden)
	case err != nil:
		return vrequest.Fail(fmt.Errorf("stat %s: %w", vr.Physical.Path, err))
	}

	if info.IsDir() {
		if !strings.HasSuffix(vr.Request.Path, "/") {
			vr.Redirect(vr.Request.Path + "/")
		}
		return vrequest.GoOn
	}
	if !info.Mode().IsRegular() {
		return s.status(vr, http.StatusForbidden)
	}

	file, err := chunkqueue.OpenFile(vr.Physical.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return s.status(vr, http.StatusForbidden)
		}
		return vrequest.Fail(err)
	}
	defer file.Release()

	vr.HandleDirect()
	h := vr.Response.Header
	ctype := mime.TypeByExtension(filepath.Ext(vr.Physical.Path))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h.Set("Content-Type", ctype)
	h.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	if !s.DisableETag {
		etag := fmt.Sprintf(`"%x-%x"`, info.ModTime().Unix(), info.Size())
		h.Set("ETag", etag)
		if vr.Request.Header.Get("If-None-Match") == etag {
			vr.Response.Status = http.StatusNotModified
			return vrequest.GoOn
		}
	}

	vr.Response.Status = http.StatusOK
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if vr.Request.Method == http.MethodHead {
		return vrequest.GoOn
	}
	if err := vr.Out().AppendFile(file, 0, info.Size()); err != nil {
		return vrequest.Fail(err)
	}
	return vrequest.GoOn
}

func (s *Static) status(vr *vrequest.VRequest, code int) vrequest.Result {
	vr.HandleDirect()
	vr.Response.Status = code
	vr.Response.Header.Set("Content-Length", "0")
	return vrequest.GoOn
}
