// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package metrics exposes request lifecycle counters as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vrequest"

// Collector groups every counter the engine updates. A nil *Collector is
// valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	errors        prometheus.Counter
	backendFaults *prometheus.CounterVec
	filterErrors  *prometheus.CounterVec
	jobRuns       prometheus.Counter
	jobCollapsed  prometheus.Counter
	asyncWakeups  *prometheus.CounterVec
	memoryLimit   prometheus.Counter
	resets        prometheus.Counter
}

// New creates a Collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Virtual request state transitions.",
		}, []string{"from", "to"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Requests that entered the error state.",
		}),
		backendFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_faults_total",
			Help:      "Backend faults reported by backends.",
		}, []string{"kind"}),
		filterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_errors_total",
			Help:      "Filter chain runs aborted by a stage error.",
		}, []string{"direction"}),
		jobRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "State machine runs started from the job queue.",
		}),
		jobCollapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_appends_collapsed_total",
			Help:      "Job queue appends dropped because the request was already queued.",
		}),
		asyncWakeups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "async_wakeups_total",
			Help:      "Cross goroutine wake-ups, by whether the request was still present.",
		}, []string{"result"}),
		memoryLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_limit_hits_total",
			Help:      "Times a request crossed its in-memory buffering ceiling.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_total",
			Help:      "Virtual request resets.",
		}),
	}
	c.registry.MustRegister(
		c.transitions,
		c.errors,
		c.backendFaults,
		c.filterErrors,
		c.jobRuns,
		c.jobCollapsed,
		c.asyncWakeups,
		c.memoryLimit,
		c.resets,
	)
	return c
}

// Registry returns the registry holding the collectors.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Transition counts a state change.
func (c *Collector) Transition(from, to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
}

// Error counts a request entering the error state.
func (c *Collector) Error() {
	if c == nil {
		return
	}
	c.errors.Inc()
}

// BackendFault counts a backend fault by kind.
func (c *Collector) BackendFault(kind string) {
	if c == nil {
		return
	}
	c.backendFaults.WithLabelValues(kind).Inc()
}

// FilterError counts an aborted filter chain run, direction is "in" or "out".
func (c *Collector) FilterError(direction string) {
	if c == nil {
		return
	}
	c.filterErrors.WithLabelValues(direction).Inc()
}

// JobRun counts a state machine run from the job queue.
func (c *Collector) JobRun() {
	if c == nil {
		return
	}
	c.jobRuns.Inc()
}

// JobCollapsed counts an append that found the request already queued.
func (c *Collector) JobCollapsed() {
	if c == nil {
		return
	}
	c.jobCollapsed.Inc()
}

// AsyncWakeup counts a cross goroutine wake-up.
func (c *Collector) AsyncWakeup(present bool) {
	if c == nil {
		return
	}
	if present {
		c.asyncWakeups.WithLabelValues("present").Inc()
	} else {
		c.asyncWakeups.WithLabelValues("absent").Inc()
	}
}

// MemoryLimitHit counts a request hitting its buffering ceiling.
func (c *Collector) MemoryLimitHit() {
	if c == nil {
		return
	}
	c.memoryLimit.Inc()
}

// Reset counts a request reset.
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.resets.Inc()
}
