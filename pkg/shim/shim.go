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

// Package shim implements the intercepted device memory entry points. Each
// entry point checks a request against the quota, delegates the actual
// operation to the real runtime or driver, and keeps the books on success.
//
// All allocations are normalized to managed allocations attached globally,
// regardless of the entry point used. Calls to the real runtime or driver
// are never made with any lock held.
//
// Admission and recording an allocation are two separate steps, with the
// real allocation in between. Concurrent requests may therefore overrun the
// quota transiently by at most the sizes of the requests in flight.
package shim

import (
	instcfg "github.com/containers/vram-quota/pkg/apis/config/v1alpha1/instrumentation"
	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/native"
	"github.com/containers/vram-quota/pkg/quota"
)

var (
	log     = logger.Get("shim")
	details = logger.Get("shim-details")
)

// Shim is the interception layer for a single process.
type Shim struct {
	cfg      quota.Config
	rt       native.Runtime
	drv      native.Driver
	reg      *quota.Registry
	enforcer *quota.Enforcer
	inst     *instcfg.Config
}

// Option is an opaque option for New.
type Option func(*Shim)

// WithEnforcerOptions passes the given options to the quota enforcer.
func WithEnforcerOptions(options ...quota.EnforcerOption) Option {
	return func(s *Shim) {
		s.enforcer = quota.NewEnforcer(s.reg, s.cfg.Limit, options...)
	}
}

// New creates a shim with the given configuration on top of the given real
// runtime and driver. A nil runtime or driver is treated as one with no
// resolved entry points.
func New(cfg quota.Config, rt native.Runtime, drv native.Driver, options ...Option) *Shim {
	if rt == nil {
		rt = native.NewRuntimeTable(native.RuntimeFuncs{})
	}
	if drv == nil {
		drv = native.NewDriverTable(native.DriverFuncs{})
	}

	s := &Shim{
		cfg: cfg,
		rt:  rt,
		drv: drv,
		reg: quota.NewRegistry(),
	}
	s.enforcer = quota.NewEnforcer(s.reg, cfg.Limit)

	for _, o := range options {
		o(s)
	}

	return s
}

// Config returns the configuration of the shim.
func (s *Shim) Config() quota.Config {
	return s.cfg
}

// Enforcer returns the quota enforcer of the shim.
func (s *Shim) Enforcer() *quota.Enforcer {
	return s.enforcer
}

// Disabled returns true if the shim is a plain pass-through.
func (s *Shim) Disabled() bool {
	return s.cfg.Disabled
}

// AllocationInfo returns the current allocated bytes, the quota limit, and
// the number of quota violations so far.
func (s *Shim) AllocationInfo() quota.Snapshot {
	return s.enforcer.Snapshot()
}

// admit checks a request against the quota.
func (s *Shim) admit(size uint64) bool {
	return s.enforcer.Admit(size)
}

// record records a successful allocation.
func (s *Shim) record(ptr native.DevicePtr, size uint64) {
	s.reg.Insert(ptr, size)
	details.Debug("recorded %#x (%d bytes)", uintptr(ptr), size)
}

// forget forgets an allocation, if it is known.
func (s *Shim) forget(ptr native.DevicePtr) {
	if size, ok := s.reg.Remove(ptr); ok {
		details.Debug("forgot %#x (%d bytes)", uintptr(ptr), size)
	}
}

// prefetch hints the runtime to migrate a new allocation to our device.
// The hint is advisory, its outcome is never reported back to the caller.
func (s *Shim) prefetch(ptr native.DevicePtr, size uint64) {
	if !s.cfg.Prefetch {
		return
	}
	if err := s.rt.MemPrefetchAsync(ptr, size, s.cfg.Device, 0); err != nil {
		details.Debug("prefetch of %#x (%d bytes) to device %d failed: %v",
			uintptr(ptr), size, s.cfg.Device, err)
	}
}
