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
	"github.com/containers/vram-quota/pkg/native"
)

// DriverAPI provides the intercepted driver API entry points of a Shim.
// They share the quota and the bookkeeping with the runtime API entry points.
type DriverAPI struct {
	s *Shim
}

// Driver returns the driver API entry points of the shim.
func (s *Shim) Driver() *DriverAPI {
	return &DriverAPI{s: s}
}

// MemAlloc allocates size bytes of device memory.
func (d *DriverAPI) MemAlloc(dptr *native.DevicePtr, size uint64) error {
	s := d.s

	if dptr == nil {
		return native.ResultInvalidValue
	}

	if s.cfg.Disabled {
		ptr, err := s.drv.MemAlloc(size)
		if err != nil {
			return err
		}
		*dptr = ptr
		return nil
	}

	if !s.admit(size) {
		return native.ResultOutOfMemory
	}

	ptr, err := s.drv.MemAllocManaged(size, native.MemAttachGlobal)
	if err != nil {
		return err
	}

	*dptr = ptr
	s.record(ptr, size)

	return nil
}

// MemFree frees device memory.
func (d *DriverAPI) MemFree(dptr native.DevicePtr) error {
	s := d.s
	if !s.cfg.Disabled {
		s.forget(dptr)
	}
	return s.drv.MemFree(dptr)
}

// MemGetInfo returns the free and total device memory. Unless disabled, it
// reports the same quota based figures as the runtime API.
func (d *DriverAPI) MemGetInfo(free, total *uint64) error {
	s := d.s

	if free == nil || total == nil {
		return native.ResultInvalidValue
	}

	if s.cfg.Disabled {
		f, t, err := s.drv.MemGetInfo()
		if err != nil {
			return err
		}
		*free, *total = f, t
		return nil
	}

	*free, *total = s.enforcer.MemInfo()
	return nil
}
