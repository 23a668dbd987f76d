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

// Package native describes the GPU compute runtime and driver entry points
// which the quota shim wraps. The shim never talks to a device directly. It
// only gates and accounts for calls it forwards to an implementation of the
// Runtime and Driver interfaces, resolved once when the shim is attached.
package native

// DevicePtr is an opaque device memory address.
type DevicePtr uintptr

// HostPtr is an opaque page-locked host memory address.
type HostPtr uintptr

// Stream is an opaque stream handle. The zero Stream is the default stream.
type Stream uintptr

// MemAttachGlobal is the managed allocation flag making memory accessible
// from any stream on any device.
const MemAttachGlobal uint32 = 0x1

// Runtime is the runtime API surface used by the shim. Each method mirrors
// a single runtime entry point. Methods report success with a nil error and
// failure with an Error status.
type Runtime interface {
	// Malloc allocates device memory.
	Malloc(size uint64) (DevicePtr, error)
	// MallocManaged allocates managed (unified) memory.
	MallocManaged(size uint64, flags uint32) (DevicePtr, error)
	// MallocAsync allocates device memory in stream order.
	MallocAsync(size uint64, stream Stream) (DevicePtr, error)
	// MallocHost allocates page-locked host memory.
	MallocHost(size uint64) (HostPtr, error)
	// Free releases device or managed memory.
	Free(ptr DevicePtr) error
	// FreeAsync releases device memory in stream order.
	FreeAsync(ptr DevicePtr, stream Stream) error
	// MemGetInfo returns the free and total device memory.
	MemGetInfo() (free, total uint64, err error)
	// MemPrefetchAsync hints that managed memory should migrate to device.
	MemPrefetchAsync(ptr DevicePtr, size uint64, device int, stream Stream) error
	// GetDevice returns the current device of the calling context.
	GetDevice() (int, error)
}

// Driver is the driver API surface used by the shim. Methods report success
// with a nil error and failure with a Result status.
type Driver interface {
	// MemAlloc allocates device memory.
	MemAlloc(size uint64) (DevicePtr, error)
	// MemAllocManaged allocates managed (unified) memory.
	MemAllocManaged(size uint64, flags uint32) (DevicePtr, error)
	// MemFree releases device memory.
	MemFree(ptr DevicePtr) error
	// MemGetInfo returns the free and total device memory.
	MemGetInfo() (free, total uint64, err error)
}
