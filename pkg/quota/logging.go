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
	"fmt"
	"math"
	"strconv"
	"strings"

	logger "github.com/containers/vram-quota/pkg/log"
	"github.com/containers/vram-quota/pkg/native"
)

var (
	log     = logger.Get("quota")
	details = logger.Get("quota-details")
)

// DumpState logs the current usage and, if details are enabled, all tracked
// allocations.
func (e *Enforcer) DumpState(context ...interface{}) {
	prefix := formatPrefix(context...)
	log.Info("%s%s", prefix, e.Snapshot())
	e.DumpAllocations(prefix)
}

// DumpAllocations logs all tracked allocations, if details are enabled.
func (e *Enforcer) DumpAllocations(context ...interface{}) {
	if !details.DebugEnabled() {
		return
	}

	prefix := formatPrefix(context...)

	if e.reg.Len() == 0 {
		details.Debug("%s  no allocations", prefix)
		return
	}

	details.Debug("%s  allocations:", prefix)
	e.reg.ForeachAllocation(func(a Allocation) bool {
		details.Debug("%s    - %s: %s", prefix, ptrName(a.Ptr), prettySize(a.Size))
		return true
	})
}

// HumanReadableSize returns the given size as a human-readable string.
func HumanReadableSize(size uint64) string {
	if size >= 1024 {
		units := []string{"k", "M", "G", "T"}

		for i, d := 0, uint64(1024); i < len(units); i, d = i+1, d<<10 {
			if val := size / d; 1 <= val && val < 1024 {
				if fval := float64(size) / float64(d); math.Floor(fval) != fval {
					return strings.TrimRight(fmt.Sprintf("%.3f", fval), "0") + units[i]
				}
				return fmt.Sprintf("%d%s", val, units[i])
			}
		}
	}

	return strconv.FormatUint(size, 10)
}

func prettySize(v uint64) string {
	return HumanReadableSize(v)
}

func ptrName(ptr native.DevicePtr) string {
	return fmt.Sprintf("%#x", uintptr(ptr))
}

func formatPrefix(args ...interface{}) string {
	narg := len(args)
	if narg == 0 {
		return ""
	}

	format, ok := args[0].(string)
	if !ok {
		return "(!quota:bad-prefix) "
	}

	if len(args) == 1 {
		return format
	}

	return fmt.Sprintf(format, args[1:]...)
}
