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

package native

import "slices"

// RuntimeFuncs holds the resolved runtime entry points. An entry left nil
// is unresolved.
type RuntimeFuncs struct {
	Malloc           func(size uint64) (DevicePtr, error)
	MallocManaged    func(size uint64, flags uint32) (DevicePtr, error)
	MallocAsync      func(size uint64, stream Stream) (DevicePtr, error)
	MallocHost       func(size uint64) (HostPtr, error)
	Free             func(ptr DevicePtr) error
	FreeAsync        func(ptr DevicePtr, stream Stream) error
	MemGetInfo       func() (uint64, uint64, error)
	MemPrefetchAsync func(ptr DevicePtr, size uint64, device int, stream Stream) error
	GetDevice        func() (int, error)
}

// DriverFuncs holds the resolved driver entry points. An entry left nil is
// unresolved.
type DriverFuncs struct {
	MemAlloc        func(size uint64) (DevicePtr, error)
	MemAllocManaged func(size uint64, flags uint32) (DevicePtr, error)
	MemFree         func(ptr DevicePtr) error
	MemGetInfo      func() (uint64, uint64, error)
}

// RuntimeTable implements Runtime on top of a set of RuntimeFuncs. Calling
// an unresolved entry point fails with ErrorUnknown.
type RuntimeTable struct {
	f RuntimeFuncs
}

// DriverTable implements Driver on top of a set of DriverFuncs. Calling an
// unresolved entry point fails with ResultNotInitialized.
type DriverTable struct {
	f DriverFuncs
}

var (
	_ Runtime = &RuntimeTable{}
	_ Driver  = &DriverTable{}
)

// NewRuntimeTable creates a Runtime from the given entry points.
func NewRuntimeTable(f RuntimeFuncs) *RuntimeTable {
	return &RuntimeTable{f: f}
}

// NewDriverTable creates a Driver from the given entry points.
func NewDriverTable(f DriverFuncs) *DriverTable {
	return &DriverTable{f: f}
}

// RuntimeFuncsFrom returns entry points bound to the given Runtime. For a
// nil Runtime no entry point is resolved.
func RuntimeFuncsFrom(rt Runtime) RuntimeFuncs {
	if rt == nil {
		return RuntimeFuncs{}
	}
	return RuntimeFuncs{
		Malloc:           rt.Malloc,
		MallocManaged:    rt.MallocManaged,
		MallocAsync:      rt.MallocAsync,
		MallocHost:       rt.MallocHost,
		Free:             rt.Free,
		FreeAsync:        rt.FreeAsync,
		MemGetInfo:       rt.MemGetInfo,
		MemPrefetchAsync: rt.MemPrefetchAsync,
		GetDevice:        rt.GetDevice,
	}
}

// DriverFuncsFrom returns entry points bound to the given Driver. For a nil
// Driver no entry point is resolved.
func DriverFuncsFrom(drv Driver) DriverFuncs {
	if drv == nil {
		return DriverFuncs{}
	}
	return DriverFuncs{
		MemAlloc:        drv.MemAlloc,
		MemAllocManaged: drv.MemAllocManaged,
		MemFree:         drv.MemFree,
		MemGetInfo:      drv.MemGetInfo,
	}
}

// Missing returns the names of unresolved runtime entry points.
func (t *RuntimeTable) Missing() []string {
	var missing []string
	for name, ok := range map[string]bool{
		"cudaMalloc":           t.f.Malloc != nil,
		"cudaMallocManaged":    t.f.MallocManaged != nil,
		"cudaMallocAsync":      t.f.MallocAsync != nil,
		"cudaMallocHost":       t.f.MallocHost != nil,
		"cudaFree":             t.f.Free != nil,
		"cudaFreeAsync":        t.f.FreeAsync != nil,
		"cudaMemGetInfo":       t.f.MemGetInfo != nil,
		"cudaMemPrefetchAsync": t.f.MemPrefetchAsync != nil,
		"cudaGetDevice":        t.f.GetDevice != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	return sortedNames(missing)
}

// Missing returns the names of unresolved driver entry points.
func (t *DriverTable) Missing() []string {
	var missing []string
	for name, ok := range map[string]bool{
		"cuMemAlloc_v2":     t.f.MemAlloc != nil,
		"cuMemAllocManaged": t.f.MemAllocManaged != nil,
		"cuMemFree_v2":      t.f.MemFree != nil,
		"cuMemGetInfo_v2":   t.f.MemGetInfo != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	return sortedNames(missing)
}

// CanPrefetch returns true if prefetch hints can be issued.
func (t *RuntimeTable) CanPrefetch() bool {
	return t.f.MemPrefetchAsync != nil
}

func (t *RuntimeTable) Malloc(size uint64) (DevicePtr, error) {
	if t.f.Malloc == nil {
		return 0, ErrorUnknown
	}
	return t.f.Malloc(size)
}

func (t *RuntimeTable) MallocManaged(size uint64, flags uint32) (DevicePtr, error) {
	if t.f.MallocManaged == nil {
		return 0, ErrorUnknown
	}
	return t.f.MallocManaged(size, flags)
}

func (t *RuntimeTable) MallocAsync(size uint64, stream Stream) (DevicePtr, error) {
	if t.f.MallocAsync == nil {
		return 0, ErrorUnknown
	}
	return t.f.MallocAsync(size, stream)
}

func (t *RuntimeTable) MallocHost(size uint64) (HostPtr, error) {
	if t.f.MallocHost == nil {
		return 0, ErrorUnknown
	}
	return t.f.MallocHost(size)
}

func (t *RuntimeTable) Free(ptr DevicePtr) error {
	if t.f.Free == nil {
		return ErrorUnknown
	}
	return t.f.Free(ptr)
}

func (t *RuntimeTable) FreeAsync(ptr DevicePtr, stream Stream) error {
	if t.f.FreeAsync == nil {
		return ErrorUnknown
	}
	return t.f.FreeAsync(ptr, stream)
}

func (t *RuntimeTable) MemGetInfo() (uint64, uint64, error) {
	if t.f.MemGetInfo == nil {
		return 0, 0, ErrorUnknown
	}
	return t.f.MemGetInfo()
}

func (t *RuntimeTable) MemPrefetchAsync(ptr DevicePtr, size uint64, device int, stream Stream) error {
	if t.f.MemPrefetchAsync == nil {
		return ErrorUnknown
	}
	return t.f.MemPrefetchAsync(ptr, size, device, stream)
}

func (t *RuntimeTable) GetDevice() (int, error) {
	if t.f.GetDevice == nil {
		return 0, ErrorUnknown
	}
	return t.f.GetDevice()
}

func (t *DriverTable) MemAlloc(size uint64) (DevicePtr, error) {
	if t.f.MemAlloc == nil {
		return 0, ResultNotInitialized
	}
	return t.f.MemAlloc(size)
}

func (t *DriverTable) MemAllocManaged(size uint64, flags uint32) (DevicePtr, error) {
	if t.f.MemAllocManaged == nil {
		return 0, ResultNotInitialized
	}
	return t.f.MemAllocManaged(size, flags)
}

func (t *DriverTable) MemFree(ptr DevicePtr) error {
	if t.f.MemFree == nil {
		return ResultNotInitialized
	}
	return t.f.MemFree(ptr)
}

func (t *DriverTable) MemGetInfo() (uint64, uint64, error) {
	if t.f.MemGetInfo == nil {
		return 0, 0, ResultNotInitialized
	}
	return t.f.MemGetInfo()
}

func sortedNames(names []string) []string {
	slices.Sort(names)
	return names
}
