// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

// State is the lifecycle position of a VRequest.
type State int8

const (
	// StateClean: waiting for request headers.
	StateClean State = iota

	// StateHandleRequestHeaders: all headers received, the request headers
	// handler runs and may claim the request and set up input filters.
	StateHandleRequestHeaders

	// StateReadContent: input filters ready, request content is accepted.
	// Entered through HandleIndirect; HandleDirect skips it.
	StateReadContent

	// StateHandleResponseHeaders: response status and headers are final,
	// output filters are set up.
	StateHandleResponseHeaders

	// StateWriteContent: output filters ready, response content is written.
	StateWriteContent

	// StateError: the request failed, the error handler produces what it can.
	StateError
)

var stateNames = [...]string{
	StateClean:                 "clean",
	StateHandleRequestHeaders:  "handle_request_headers",
	StateReadContent:           "read_content",
	StateHandleResponseHeaders: "handle_response_headers",
	StateWriteContent:          "write_content",
	StateError:                 "error",
}

// String .
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
