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
	"slices"
	"sync"

	"github.com/containers/vram-quota/pkg/native"
)

// Registry tracks live allocations and the total number of bytes they use.
type Registry struct {
	lock   sync.Mutex
	allocs map[native.DevicePtr]uint64
	total  uint64
}

// Allocation is a single tracked allocation.
type Allocation struct {
	Ptr  native.DevicePtr
	Size uint64
}

// NewRegistry creates a new, empty allocation registry.
func NewRegistry() *Registry {
	return &Registry{
		allocs: make(map[native.DevicePtr]uint64),
	}
}

// Insert records a new allocation of size bytes at ptr. The caller must not
// insert an address which is already tracked.
func (r *Registry) Insert(ptr native.DevicePtr, size uint64) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.allocs[ptr] = size
	r.total += size

	details.Debug("+ %s (%d bytes), total %d bytes", ptrName(ptr), size, r.total)
}

// Remove stops tracking the allocation at ptr. It returns the size of the
// removed allocation and true, or 0 and false if ptr was not tracked.
func (r *Registry) Remove(ptr native.DevicePtr) (uint64, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	size, ok := r.allocs[ptr]
	if !ok {
		details.Debug("- %s not tracked", ptrName(ptr))
		return 0, false
	}

	delete(r.allocs, ptr)
	r.total -= size

	details.Debug("- %s (%d bytes), total %d bytes", ptrName(ptr), size, r.total)

	return size, true
}

// Lookup returns the size of the allocation at ptr, if it is tracked.
func (r *Registry) Lookup(ptr native.DevicePtr) (uint64, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	size, ok := r.allocs[ptr]
	return size, ok
}

// LiveTotal returns the total number of bytes in tracked allocations. The
// result may be stale by the time it is returned if there are concurrent
// updates.
func (r *Registry) LiveTotal() uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.total
}

// Len returns the number of tracked allocations.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.allocs)
}

// Headroom returns how many bytes can still be allocated without exceeding
// the given limit.
func (r *Registry) Headroom(limit uint64) uint64 {
	r.lock.Lock()
	defer r.lock.Unlock()

	return headroom(limit, r.total)
}

// usage returns the running total and the number of allocations.
func (r *Registry) usage() (uint64, int) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.total, len(r.allocs)
}

// ForeachAllocation calls fn with each tracked allocation, in address order.
// It stops iterating early if fn returns false. fn is called without the
// registry lock held.
func (r *Registry) ForeachAllocation(fn func(Allocation) bool) {
	r.lock.Lock()
	allocs := make([]Allocation, 0, len(r.allocs))
	for ptr, size := range r.allocs {
		allocs = append(allocs, Allocation{Ptr: ptr, Size: size})
	}
	r.lock.Unlock()

	slices.SortFunc(allocs, func(a, b Allocation) int {
		switch {
		case a.Ptr < b.Ptr:
			return -1
		case a.Ptr > b.Ptr:
			return 1
		}
		return 0
	})

	for _, a := range allocs {
		if !fn(a) {
			return
		}
	}
}

func headroom(limit, total uint64) uint64 {
	if total >= limit {
		return 0
	}
	return limit - total
}
