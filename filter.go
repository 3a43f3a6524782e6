// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package vrequest

import (
	"fmt"

	"github.com/lesismal/vrequest/chunkqueue"
)

// FilterHandler transforms content from f.In to f.Out.
type FilterHandler interface {
	// HandleData consumes what it can from f.In and appends to f.Out.
	HandleData(vr *VRequest, f *Filter) FilterResult
	// Free is called exactly once when the chain is torn down.
	Free(vr *VRequest, f *Filter)
}

// FilterFunc adapts a function to FilterHandler with a no-op Free.
type FilterFunc func(vr *VRequest, f *Filter) FilterResult

// HandleData .
func (fn FilterFunc) HandleData(vr *VRequest, f *Filter) FilterResult {
	return fn(vr, f)
}

// Free .
func (fn FilterFunc) Free(vr *VRequest, f *Filter) {}

// Filter is one stage of a chain. In and Out are shared with the neighbours.
type Filter struct {
	In, Out *chunkqueue.Queue

	// Param is private state for the handler.
	Param interface{}

	handler  FilterHandler
	finished bool
	freed    bool
}

// Finished reports whether the stage reported FilterFinished.
func (f *Filter) Finished() bool {
	return f.finished
}

// Filters is an ordered chain of stages between In and Out.
type Filters struct {
	In, Out *chunkqueue.Queue

	stages []*Filter
	skip   int
}

func newFilters(in, out *chunkqueue.Queue) Filters {
	return Filters{In: in, Out: out}
}

// Len returns the number of stages.
func (fs *Filters) Len() int {
	return len(fs.stages)
}

// SkipIndex returns the index below which every stage is finished.
func (fs *Filters) SkipIndex() int {
	return fs.skip
}

// Stage returns stage i.
func (fs *Filters) Stage(i int) *Filter {
	return fs.stages[i]
}

// add appends a stage at the tail. The previous tail gets a fresh queue
// in between, so only call it before the chain emitted anything.
func (fs *Filters) add(h FilterHandler, param interface{}) *Filter {
	f := &Filter{handler: h, Param: param, Out: fs.Out}
	if len(fs.stages) == 0 {
		f.In = fs.In
	} else {
		prev := fs.stages[len(fs.stages)-1]
		q := chunkqueue.New()
		q.UseLimit(fs.Out.Limit())
		prev.Out = q
		f.In = q
	}
	fs.stages = append(fs.stages, f)
	fs.skip = 0
	return f
}

// run pushes data through the stages until none can progress. A stage
// error aborts the run at once; output already produced stays where it is.
func (fs *Filters) run(vr *VRequest) error {
	if len(fs.stages) == 0 {
		fs.Out.StealAll(fs.In)
		if fs.In.IsClosed() {
			fs.Out.Close()
		}
		return nil
	}

	for i := fs.skip; i < len(fs.stages); i++ {
		f := fs.stages[i]
		if f.finished {
			if i == fs.skip {
				fs.skip++
			}
			continue
		}
		switch f.handler.HandleData(vr, f) {
		case FilterGoOn:
		case FilterWaitForEvent:
		case FilterFinished:
			f.finished = true
			f.Out.Close()
			if i == fs.skip {
				fs.skip++
			}
		case FilterError:
			return fmt.Errorf("%w: stage %d of %d", ErrFilter, i, len(fs.stages))
		}
	}
	return nil
}

// free runs every Free hook once in stage order and drops the stages and
// the queues between them.
func (fs *Filters) free(vr *VRequest) {
	for _, f := range fs.stages {
		if !f.freed {
			f.freed = true
			f.handler.Free(vr, f)
		}
	}
	for i, f := range fs.stages {
		if i > 0 {
			f.In.Reset()
		}
	}
	fs.stages = nil
	fs.skip = 0
}
