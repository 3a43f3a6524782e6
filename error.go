// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"errors"
)

var (
	// ErrHandler is the cause recorded when a handler fails without one.
	ErrHandler = errors.New("handler failed")

	// ErrNoBackend is reported when response headers are awaited but no
	// backend ever claimed the request.
	ErrNoBackend = errors.New("cannot wait for response headers as no backend handler found")

	// ErrFilterTooLate is returned when adding a filter after its direction
	// already emitted content.
	ErrFilterTooLate = errors.New("filter added after content was emitted")

	// ErrFilter is the cause recorded when a filter stage fails.
	ErrFilter = errors.New("filter failed")

	// ErrBackendFailed is the cause recorded when a backend fault cannot be
	// recovered by the action stack.
	ErrBackendFailed = errors.New("backend failed")

	// ErrReleased is returned when operating on a request after Close.
	ErrReleased = errors.New("vrequest released")
)
