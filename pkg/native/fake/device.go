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

// Package fake provides a simulated device implementing both the runtime
// and driver entry points, for exercising the quota shim without a GPU.
package fake

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/containers/vram-quota/pkg/native"
)

// Op identifies a simulated entry point.
type Op string

const (
	OpMalloc          Op = "Malloc"
	OpMallocManaged   Op = "MallocManaged"
	OpMallocAsync     Op = "MallocAsync"
	OpMallocHost      Op = "MallocHost"
	OpFree            Op = "Free"
	OpFreeAsync       Op = "FreeAsync"
	OpMemGetInfo      Op = "MemGetInfo"
	OpPrefetch        Op = "MemPrefetchAsync"
	OpGetDevice       Op = "GetDevice"
	OpMemAlloc        Op = "MemAlloc"
	OpMemAllocManaged Op = "MemAllocManaged"
	OpMemFree         Op = "MemFree"
)

var allOps = []Op{
	OpMalloc, OpMallocManaged, OpMallocAsync, OpMallocHost, OpFree, OpFreeAsync,
	OpMemGetInfo, OpPrefetch, OpGetDevice, OpMemAlloc, OpMemAllocManaged, OpMemFree,
}

// baseAddress is the first address handed out by a Device.
const baseAddress = native.DevicePtr(0x7f0000000000)

// Prefetch records a single prefetch hint received by a Device.
type Prefetch struct {
	Ptr    native.DevicePtr
	Size   uint64
	Device int
	Stream native.Stream
}

// Device is a simulated device with a fixed memory capacity.
type Device struct {
	sync.Mutex
	capacity   uint64
	used       uint64
	device     int
	next       native.DevicePtr
	live       map[native.DevicePtr]uint64
	host       map[native.HostPtr]uint64
	failures   map[Op]error
	prefetches []Prefetch
	latency    time.Duration
	hook       func(Op)
	calls      map[Op]*atomic.Int64
}

// Option is an option for a Device.
type Option func(*Device)

// WithDevice sets the id the Device reports as the current device.
func WithDevice(id int) Option {
	return func(d *Device) {
		d.device = id
	}
}

// WithLatency makes every allocation and free take at least the given time.
func WithLatency(latency time.Duration) Option {
	return func(d *Device) {
		d.latency = latency
	}
}

// WithHook sets a function called, outside of any Device lock, at the start
// of every entry point.
func WithHook(fn func(Op)) Option {
	return func(d *Device) {
		d.hook = fn
	}
}

var (
	_ native.Runtime = &Device{}
	_ native.Driver  = &Device{}
)

// NewDevice creates a simulated device with the given capacity in bytes.
func NewDevice(capacity uint64, options ...Option) *Device {
	d := &Device{
		capacity: capacity,
		next:     baseAddress,
		live:     make(map[native.DevicePtr]uint64),
		host:     make(map[native.HostPtr]uint64),
		failures: make(map[Op]error),
		calls:    make(map[Op]*atomic.Int64),
	}
	for _, op := range allOps {
		d.calls[op] = atomic.NewInt64(0)
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Fail makes all subsequent calls to op fail with err. A nil err clears
// the failure.
func (d *Device) Fail(op Op, err error) {
	d.Lock()
	defer d.Unlock()
	if err == nil {
		delete(d.failures, op)
	} else {
		d.failures[op] = err
	}
}

// Calls returns the number of times op has been called.
func (d *Device) Calls(op Op) int64 {
	return d.calls[op].Load()
}

// Used returns the number of device bytes currently allocated.
func (d *Device) Used() uint64 {
	d.Lock()
	defer d.Unlock()
	return d.used
}

// Live returns the number of live device allocations.
func (d *Device) Live() int {
	d.Lock()
	defer d.Unlock()
	return len(d.live)
}

// Prefetches returns the prefetch hints received so far.
func (d *Device) Prefetches() []Prefetch {
	d.Lock()
	defer d.Unlock()
	return append([]Prefetch(nil), d.prefetches...)
}

func (d *Device) enter(op Op) error {
	d.calls[op].Inc()
	if d.hook != nil {
		d.hook(op)
	}
	d.Lock()
	defer d.Unlock()
	return d.failures[op]
}

func (d *Device) delay() {
	if d.latency > 0 {
		time.Sleep(d.latency)
	}
}

func (d *Device) alloc(op Op, size uint64, oom error) (native.DevicePtr, error) {
	if err := d.enter(op); err != nil {
		return 0, err
	}
	d.delay()

	d.Lock()
	defer d.Unlock()

	if size > d.capacity-d.used {
		return 0, oom
	}

	ptr := d.next
	d.next += native.DevicePtr(roundUp(size))
	d.live[ptr] = size
	d.used += size

	return ptr, nil
}

func (d *Device) free(op Op, ptr native.DevicePtr, invalid error) error {
	if err := d.enter(op); err != nil {
		return err
	}
	d.delay()

	d.Lock()
	defer d.Unlock()

	if ptr == 0 {
		return nil
	}

	size, ok := d.live[ptr]
	if !ok {
		return invalid
	}
	delete(d.live, ptr)
	d.used -= size

	return nil
}

func (d *Device) info() (uint64, uint64, error) {
	if err := d.enter(OpMemGetInfo); err != nil {
		return 0, 0, err
	}
	d.Lock()
	defer d.Unlock()
	return d.capacity - d.used, d.capacity, nil
}

func (d *Device) Malloc(size uint64) (native.DevicePtr, error) {
	return d.alloc(OpMalloc, size, native.ErrorMemoryAllocation)
}

func (d *Device) MallocManaged(size uint64, _ uint32) (native.DevicePtr, error) {
	return d.alloc(OpMallocManaged, size, native.ErrorMemoryAllocation)
}

func (d *Device) MallocAsync(size uint64, _ native.Stream) (native.DevicePtr, error) {
	return d.alloc(OpMallocAsync, size, native.ErrorMemoryAllocation)
}

func (d *Device) MallocHost(size uint64) (native.HostPtr, error) {
	if err := d.enter(OpMallocHost); err != nil {
		return 0, err
	}
	d.Lock()
	defer d.Unlock()
	ptr := native.HostPtr(d.next)
	d.next += native.DevicePtr(roundUp(size))
	d.host[ptr] = size
	return ptr, nil
}

func (d *Device) Free(ptr native.DevicePtr) error {
	return d.free(OpFree, ptr, native.ErrorInvalidValue)
}

func (d *Device) FreeAsync(ptr native.DevicePtr, _ native.Stream) error {
	return d.free(OpFreeAsync, ptr, native.ErrorInvalidValue)
}

func (d *Device) MemGetInfo() (uint64, uint64, error) {
	return d.info()
}

func (d *Device) MemPrefetchAsync(ptr native.DevicePtr, size uint64, device int, stream native.Stream) error {
	if err := d.enter(OpPrefetch); err != nil {
		return err
	}
	d.Lock()
	defer d.Unlock()
	if _, ok := d.live[ptr]; !ok {
		return native.ErrorInvalidValue
	}
	d.prefetches = append(d.prefetches, Prefetch{Ptr: ptr, Size: size, Device: device, Stream: stream})
	return nil
}

func (d *Device) GetDevice() (int, error) {
	if err := d.enter(OpGetDevice); err != nil {
		return 0, err
	}
	return d.device, nil
}

func (d *Device) MemAlloc(size uint64) (native.DevicePtr, error) {
	return d.alloc(OpMemAlloc, size, native.ResultOutOfMemory)
}

func (d *Device) MemAllocManaged(size uint64, _ uint32) (native.DevicePtr, error) {
	return d.alloc(OpMemAllocManaged, size, native.ResultOutOfMemory)
}

func (d *Device) MemFree(ptr native.DevicePtr) error {
	return d.free(OpMemFree, ptr, native.ResultInvalidValue)
}

// roundUp rounds size up to a 256 byte boundary, and gives zero-sized
// allocations a distinct address.
func roundUp(size uint64) uint64 {
	const align = 256
	if size == 0 {
		return align
	}
	return (size + align - 1) &^ (align - 1)
}
