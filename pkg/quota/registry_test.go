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

package quota_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/containers/vram-quota/pkg/native"
	"github.com/containers/vram-quota/pkg/quota"
)

func sumOf(r *quota.Registry) (uint64, int) {
	var (
		sum   uint64
		count int
	)
	r.ForeachAllocation(func(a quota.Allocation) bool {
		sum += a.Size
		count++
		return true
	})
	return sum, count
}

func TestRegistry(t *testing.T) {
	r := quota.NewRegistry()
	require.Zero(t, r.LiveTotal())
	require.Zero(t, r.Len())

	r.Insert(0x1000, 100)
	r.Insert(0x2000, 200)
	r.Insert(0x3000, 0)
	require.Equal(t, uint64(300), r.LiveTotal())
	require.Equal(t, 3, r.Len())

	size, ok := r.Lookup(0x2000)
	require.True(t, ok)
	require.Equal(t, uint64(200), size)

	size, ok = r.Remove(0x1000)
	require.True(t, ok)
	require.Equal(t, uint64(100), size)
	require.Equal(t, uint64(200), r.LiveTotal())

	size, ok = r.Remove(0x1000)
	require.False(t, ok)
	require.Zero(t, size)
	require.Equal(t, uint64(200), r.LiveTotal())

	size, ok = r.Remove(0x4000)
	require.False(t, ok)
	require.Zero(t, size)

	_, ok = r.Lookup(0x1000)
	require.False(t, ok)

	size, ok = r.Remove(0x3000)
	require.True(t, ok)
	require.Zero(t, size)
	require.Equal(t, 1, r.Len())
}

func TestRegistryHeadroom(t *testing.T) {
	type testCase struct {
		name     string
		sizes    []uint64
		limit    uint64
		headroom uint64
	}

	for _, tc := range []*testCase{
		{name: "empty", limit: 100, headroom: 100},
		{name: "partial", sizes: []uint64{10, 20}, limit: 100, headroom: 70},
		{name: "full", sizes: []uint64{60, 40}, limit: 100, headroom: 0},
		{name: "overrun clamped", sizes: []uint64{60, 60}, limit: 100, headroom: 0},
		{name: "zero limit", sizes: []uint64{1}, limit: 0, headroom: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := quota.NewRegistry()
			for i, size := range tc.sizes {
				r.Insert(native.DevicePtr(0x1000*(i+1)), size)
			}
			require.Equal(t, tc.headroom, r.Headroom(tc.limit))
		})
	}
}

func TestForeachAllocation(t *testing.T) {
	r := quota.NewRegistry()
	r.Insert(0x3000, 3)
	r.Insert(0x1000, 1)
	r.Insert(0x2000, 2)

	var seen []quota.Allocation
	r.ForeachAllocation(func(a quota.Allocation) bool {
		seen = append(seen, a)
		return true
	})
	require.Equal(t, []quota.Allocation{
		{Ptr: 0x1000, Size: 1},
		{Ptr: 0x2000, Size: 2},
		{Ptr: 0x3000, Size: 3},
	}, seen)

	seen = nil
	r.ForeachAllocation(func(a quota.Allocation) bool {
		seen = append(seen, a)
		return len(seen) < 2
	})
	require.Len(t, seen, 2)

	// the callback may use the registry
	r.ForeachAllocation(func(a quota.Allocation) bool {
		r.Remove(a.Ptr)
		return true
	})
	require.Zero(t, r.Len())
}

func TestRegistryConcurrentTotal(t *testing.T) {
	const (
		workers = 8
		count   = 500
	)

	r := quota.NewRegistry()
	wg := sync.WaitGroup{}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			base := native.DevicePtr((w + 1) << 32)
			for i := 0; i < count; i++ {
				ptr := base + native.DevicePtr(i<<8)
				r.Insert(ptr, uint64(i+1))
				if i%3 == 0 {
					r.Remove(ptr)
					r.Remove(ptr)
				}
				_ = r.Headroom(1 << 20)
			}
		}(w)
	}
	wg.Wait()

	sum, n := sumOf(r)
	require.Equal(t, sum, r.LiveTotal())
	require.Equal(t, n, r.Len())

	expected := uint64(0)
	for i := 0; i < count; i++ {
		if i%3 != 0 {
			expected += uint64(i + 1)
		}
	}
	require.Equal(t, workers*expected, r.LiveTotal())
}
