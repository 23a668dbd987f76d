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

// Package quota implements the accounting and admission engine of the VRAM
// quota shim. The primary interfaces to quota are the Registry and the
// Enforcer types.
//
// # Registry
//
// Registry tracks live device allocations. Each allocation is identified by
// its device address and has a size. Registry maintains a running total of
// bytes in use, which always equals the sum of the sizes of all tracked
// allocations. All Registry operations are serialized by a single lock.
// Registry only does bookkeeping: it never calls into the device runtime,
// so it never holds its lock while a potentially slow native call runs.
//
// Inserting a live address twice without removing it in between is a
// caller error which Registry does not check for. Removing an untracked
// address is not an error: it simply has no effect on the accounting.
//
// # Enforcer, Admission
//
// Enforcer decides whether a new allocation fits in the configured limit.
// The headroom, the limit minus the running total clamped at zero, is
// computed under the Registry lock and the request is admitted if its size
// does not exceed the headroom. A rejected request bumps a violation counter
// and is logged. Rejection is immediate and final: nothing is retried,
// queued, or waited for.
//
// Admission and accounting are separate steps. The caller admits a request,
// performs the native allocation without holding any lock, then records the
// allocation if it succeeded. Concurrent requests admitted against the same
// headroom can therefore transiently overrun the limit. The accounting
// itself stays consistent; only the limit is approximate under contention.
//
// # Diagnostics
//
// Enforcer provides a Snapshot of the allocated bytes, the limit, and the
// number of violations, and synthesizes free/total memory information from
// the limit and the running total. A prometheus collector exports the same
// data.
package quota
