// Copyright 2020 lesismal. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package chunkqueue

// Limit tracks memory held by a group of queues and reports when the group
// crosses its ceiling. It is owned by a single worker, no locking.
type Limit struct {
	limit   int64
	current int64
	locked  bool
	notify  func(locked bool)
}

// NewLimit creates a Limit. limit <= 0 means unlimited; notify may be nil.
func NewLimit(limit int64, notify func(locked bool)) *Limit {
	return &Limit{limit: limit, notify: notify}
}

// Update adds delta bytes to the tracked usage.
func (l *Limit) Update(delta int64) {
	if l == nil || delta == 0 {
		return
	}
	l.current += delta
	if l.current < 0 {
		l.current = 0
	}
	if l.limit <= 0 {
		return
	}
	if !l.locked && l.current >= l.limit {
		l.locked = true
		if l.notify != nil {
			l.notify(true)
		}
	} else if l.locked && l.current < l.limit {
		l.locked = false
		if l.notify != nil {
			l.notify(false)
		}
	}
}

// Current returns the tracked usage.
func (l *Limit) Current() int64 {
	if l == nil {
		return 0
	}
	return l.current
}

// Max returns the ceiling.
func (l *Limit) Max() int64 {
	if l == nil {
		return 0
	}
	return l.limit
}

// Locked reports whether the ceiling is currently hit.
func (l *Limit) Locked() bool {
	return l != nil && l.locked
}

// SetNotify replaces the callback invoked on lock state changes.
func (l *Limit) SetNotify(notify func(locked bool)) {
	l.notify = notify
}
