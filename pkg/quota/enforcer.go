// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"go.uber.org/atomic"
)

// Enforcer admits or rejects allocation requests against a fixed limit.
type Enforcer struct {
	reg        *Registry
	limit      uint64
	violations *atomic.Uint64
	rejected   *atomic.Uint64
	observers  []RejectionObserver
}

// RejectionObserver is called for each rejected request with the requested
// size, the headroom at the time of the check, and the violation count
// including this rejection.
type RejectionObserver func(size, headroom, violations uint64)

// EnforcerOption is an opaque option for an Enforcer.
type EnforcerOption func(*Enforcer)

// WithRejectionObserver is an option to get notified of rejected requests.
func WithRejectionObserver(fn RejectionObserver) EnforcerOption {
	return func(e *Enforcer) {
		e.observers = append(e.observers, fn)
	}
}

// NewEnforcer creates an enforcer for the given registry and limit.
func NewEnforcer(reg *Registry, limit uint64, options ...EnforcerOption) *Enforcer {
	e := &Enforcer{
		reg:        reg,
		limit:      limit,
		violations: atomic.NewUint64(0),
		rejected:   atomic.NewUint64(0),
	}

	for _, o := range options {
		o(e)
	}

	return e
}

// Registry returns the registry used by the enforcer.
func (e *Enforcer) Registry() *Registry {
	return e.reg
}

// Limit returns the limit enforced.
func (e *Enforcer) Limit() uint64 {
	return e.limit
}

// Admit returns true if an allocation of size bytes fits in the current
// headroom. It does not reserve anything: the caller records the allocation
// in the registry once it has actually been made.
func (e *Enforcer) Admit(size uint64) bool {
	left := e.reg.Headroom(e.limit)
	if size <= left {
		return true
	}

	n := e.violations.Inc()
	e.rejected.Add(size)

	log.Warn("quota exceeded: want=%d, left=%d, violations=%d", size, left, n)
	e.DumpAllocations("rejected %s: ", prettySize(size))

	for _, fn := range e.observers {
		fn(size, left, n)
	}

	return false
}

// Violations returns the number of rejected requests so far.
func (e *Enforcer) Violations() uint64 {
	return e.violations.Load()
}

// RejectedBytes returns the total size of all rejected requests so far.
func (e *Enforcer) RejectedBytes() uint64 {
	return e.rejected.Load()
}
