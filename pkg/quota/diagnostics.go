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
)

// Snapshot is a point-in-time view of quota usage.
type Snapshot struct {
	// Allocated is the number of bytes in tracked allocations.
	Allocated uint64 `json:"allocated"`
	// Limit is the enforced limit in bytes.
	Limit uint64 `json:"limit"`
	// Violations is the number of rejected requests.
	Violations uint64 `json:"violations"`
	// Allocations is the number of tracked allocations.
	Allocations int `json:"allocations"`
}

// Snapshot returns the current usage. Allocated bytes and the number of
// allocations are read together. The violation count is read separately
// and may be slightly off relative to them.
func (e *Enforcer) Snapshot() Snapshot {
	total, count := e.reg.usage()
	return Snapshot{
		Allocated:   total,
		Limit:       e.limit,
		Violations:  e.violations.Load(),
		Allocations: count,
	}
}

// MemInfo returns free and total memory as seen through the quota. Total is
// the limit and free is the remaining headroom, never negative.
func (e *Enforcer) MemInfo() (free, total uint64) {
	return e.reg.Headroom(e.limit), e.limit
}

// Free returns the headroom of the snapshot.
func (s Snapshot) Free() uint64 {
	return headroom(s.Limit, s.Allocated)
}

// String returns a string representation of the snapshot.
func (s Snapshot) String() string {
	return fmt.Sprintf("allocated %s of %s in %d allocations, %d violations",
		prettySize(s.Allocated), prettySize(s.Limit), s.Allocations, s.Violations)
}
