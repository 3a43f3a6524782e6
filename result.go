// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import "fmt"

// Code is the closed set of outcomes a handler step can report.
type Code int8

const (
	// CodeGoOn: the step is done, the state machine may advance.
	CodeGoOn Code = iota
	// CodeWaitForEvent: stop stepping; something will re-enter the request
	// through the job queue later.
	CodeWaitForEvent
	// CodeError: the request failed.
	CodeError
)

// String .
func (c Code) String() string {
	switch c {
	case CodeGoOn:
		return "go_on"
	case CodeWaitForEvent:
		return "wait_for_event"
	case CodeError:
		return "error"
	default:
		return fmt.Sprintf("code(%d)", int8(c))
	}
}

// Result is returned by handlers and actions. Err is only set with CodeError.
type Result struct {
	Code Code
	Err  error
}

var (
	// GoOn .
	GoOn = Result{Code: CodeGoOn}
	// WaitForEvent .
	WaitForEvent = Result{Code: CodeWaitForEvent}
)

// Fail returns an error Result carrying err, ErrHandler when err is nil.
func Fail(err error) Result {
	if err == nil {
		err = ErrHandler
	}
	return Result{Code: CodeError, Err: err}
}

// String .
func (r Result) String() string {
	if r.Code == CodeError {
		return fmt.Sprintf("error(%v)", r.Err)
	}
	return r.Code.String()
}

// FilterResult is what a filter stage reports for one run.
type FilterResult int8

const (
	// FilterGoOn: the stage did what it could, it may have produced output.
	FilterGoOn FilterResult = iota
	// FilterFinished: the stage will never produce output again.
	FilterFinished
	// FilterWaitForEvent: the stage waits for something outside the chain and
	// re-enters the request itself.
	FilterWaitForEvent
	// FilterError: the stage failed, the chain run aborts.
	FilterError
)
