// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package action decides who handles a request. Actions form a tree that
// a per-request Stack walks, suspending and resuming with the request.
package action

import (
	"fmt"

	"github.com/lesismal/vrequest"
)

// Action is one step of request handling.
//
// Execute runs on the worker owning vr. Returning GoOn without entering a
// child pops the action's frame; an action that entered a child through
// f.Enter is called again with the same frame once the child is done.
// WaitForEvent keeps the frame and the action is called again on resume.
type Action interface {
	Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result
}

// Frame is the per-request state of an action on the stack.
type Frame struct {
	Action Action

	// Pos and Data are private to Action.
	Pos  int
	Data interface{}

	stack *Stack
}

// Enter pushes a child to run before this frame is called again.
func (f *Frame) Enter(a Action) {
	f.stack.Enter(a)
}

// Stack implements vrequest.ActionStack.
type Stack struct {
	root   Action
	frames []*Frame

	// balancer frames that handed the request to a backend, newest last
	fallbacks []*Frame
	gen       int
	err       error
}

// NewStack creates a Stack that starts with root.
func NewStack(root Action) *Stack {
	s := &Stack{root: root}
	if root != nil {
		s.Enter(root)
	}
	return s
}

// Enter pushes a onto the stack.
func (s *Stack) Enter(a Action) {
	s.frames = append(s.frames, &Frame{Action: a, stack: s})
}

// Depth returns the number of pending frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Execute runs actions until one waits or fails, or the stack is empty.
func (s *Stack) Execute(vr *vrequest.VRequest) vrequest.Result {
	for len(s.frames) > 0 {
		if s.err != nil {
			return vrequest.Fail(s.err)
		}
		depth := len(s.frames)
		gen := s.gen
		f := s.frames[depth-1]

		res := f.Action.Execute(vr, f)
		switch res.Code {
		case vrequest.CodeGoOn:
			if gen == s.gen && len(s.frames) == depth {
				s.pop()
			}
		case vrequest.CodeWaitForEvent:
			return res
		case vrequest.CodeError:
			return res
		}
	}
	if s.err != nil {
		return vrequest.Fail(s.err)
	}
	return vrequest.GoOn
}

func (s *Stack) pop() {
	n := len(s.frames) - 1
	s.frames[n] = nil
	s.frames = s.frames[:n]
}

func (s *Stack) registerFallback(f *Frame) {
	s.fallbacks = append(s.fallbacks, f)
}

// BackendFailed unwinds to the newest balancer that handed the request to
// a backend and lets it pick the next one. Without such a balancer the next
// Execute fails.
func (s *Stack) BackendFailed(vr *vrequest.VRequest, kind vrequest.BackendError) {
	s.gen++
	n := len(s.fallbacks)
	if n == 0 {
		s.err = fmt.Errorf("%w: %v", vrequest.ErrBackendFailed, kind)
		return
	}
	bf := s.fallbacks[n-1]
	s.fallbacks = s.fallbacks[:n-1]
	bf.Action.(fallbacker).fallback(vr, bf, kind)

	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i] == bf {
			for j := i + 1; j < len(s.frames); j++ {
				s.frames[j] = nil
			}
			s.frames = s.frames[:i+1]
			return
		}
	}
	// the balancer already finished, resume it on top of what is pending
	s.frames = append(s.frames, bf)
}

// Reset drops all frames and starts over with the root action.
func (s *Stack) Reset(vr *vrequest.VRequest) {
	for i := range s.frames {
		s.frames[i] = nil
	}
	s.frames = s.frames[:0]
	s.fallbacks = s.fallbacks[:0]
	s.err = nil
	s.gen++
	if s.root != nil {
		s.Enter(s.root)
	}
}

type fallbacker interface {
	fallback(vr *vrequest.VRequest, f *Frame, kind vrequest.BackendError)
}
