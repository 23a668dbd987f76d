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

package shim

import (
	"math/bits"

	"github.com/containers/vram-quota/pkg/native"
)

// Malloc allocates size bytes of device memory.
func (s *Shim) Malloc(devPtr *native.DevicePtr, size uint64) error {
	if s.cfg.Disabled {
		return passAlloc(devPtr, func() (native.DevicePtr, error) {
			return s.rt.Malloc(size)
		})
	}
	return s.allocate(devPtr, size)
}

// MallocAsync allocates size bytes of device memory in stream order.
func (s *Shim) MallocAsync(devPtr *native.DevicePtr, size uint64, stream native.Stream) error {
	if s.cfg.Disabled {
		return passAlloc(devPtr, func() (native.DevicePtr, error) {
			return s.rt.MallocAsync(size, stream)
		})
	}
	return s.allocate(devPtr, size)
}

// MallocPitch allocates width*height bytes of device memory for a 2D array.
// The rows are not padded, the pitch is always the width.
func (s *Shim) MallocPitch(devPtr *native.DevicePtr, pitch *uint64, width, height uint64) error {
	hi, size := bits.Mul64(width, height)
	if hi != 0 {
		return native.ErrorInvalidValue
	}
	if err := s.Malloc(devPtr, size); err != nil {
		return err
	}
	if pitch != nil {
		*pitch = width
	}
	return nil
}

// MallocHost allocates page-locked host memory. Host memory is not subject
// to the quota.
func (s *Shim) MallocHost(ptr *native.HostPtr, size uint64) error {
	if ptr == nil {
		return native.ErrorInvalidValue
	}
	p, err := s.rt.MallocHost(size)
	if err != nil {
		return err
	}
	*ptr = p
	return nil
}

// Free frees device memory.
func (s *Shim) Free(ptr native.DevicePtr) error {
	if !s.cfg.Disabled {
		s.forget(ptr)
	}
	return s.rt.Free(ptr)
}

// FreeAsync frees device memory in stream order.
func (s *Shim) FreeAsync(ptr native.DevicePtr, stream native.Stream) error {
	if !s.cfg.Disabled {
		s.forget(ptr)
	}
	return s.rt.FreeAsync(ptr, stream)
}

// MemGetInfo returns the free and total device memory. Unless disabled, it
// reports the quota as the total and the unused part of the quota as free.
func (s *Shim) MemGetInfo(free, total *uint64) error {
	if free == nil || total == nil {
		return native.ErrorInvalidValue
	}

	if s.cfg.Disabled {
		f, t, err := s.rt.MemGetInfo()
		if err != nil {
			return err
		}
		*free, *total = f, t
		return nil
	}

	*free, *total = s.enforcer.MemInfo()
	return nil
}

// allocate implements the accounted allocation of the runtime API.
func (s *Shim) allocate(devPtr *native.DevicePtr, size uint64) error {
	if devPtr == nil {
		return native.ErrorInvalidValue
	}
	if !s.admit(size) {
		return native.ErrorMemoryAllocation
	}

	ptr, err := s.rt.MallocManaged(size, native.MemAttachGlobal)
	if err != nil {
		return err
	}

	*devPtr = ptr
	s.record(ptr, size)
	s.prefetch(ptr, size)

	return nil
}

// passAlloc runs an unaccounted allocation, storing its result in devPtr.
func passAlloc(devPtr *native.DevicePtr, alloc func() (native.DevicePtr, error)) error {
	if devPtr == nil {
		return native.ErrorInvalidValue
	}
	ptr, err := alloc()
	if err != nil {
		return err
	}
	*devPtr = ptr
	return nil
}
